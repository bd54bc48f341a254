package selector

import (
	"testing"
	"time"

	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cfg := config.DefaultCircuitBreakerConfig()
	m := NewCircuitBreakerManager(cfg)

	for i := 0; i < cfg.FailureThresholdCount; i++ {
		m.RecordFailure("acc", "upstream error")
	}
	assert.Equal(t, CircuitOpen, m.State("acc"))

	blocked, reason := m.Check("acc")
	assert.True(t, blocked)
	assert.Equal(t, "upstream error", reason)
	assert.EqualValues(t, 1, m.Summary().TotalTrips)
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cfg := config.DefaultCircuitBreakerConfig()
	m := NewCircuitBreakerManager(cfg)

	for i := 0; i < cfg.FailureThresholdCount-1; i++ {
		m.RecordFailure("acc", "blip")
	}
	require.Equal(t, CircuitClosed, m.State("acc"))

	m.RecordSuccess("acc")
	assert.Equal(t, 0, m.circuits["acc"].consecutiveFailures)

	for i := 0; i < cfg.FailureThresholdCount-1; i++ {
		m.RecordFailure("acc", "blip again")
	}
	assert.Equal(t, CircuitClosed, m.State("acc"))
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cfg := config.DefaultCircuitBreakerConfig()
	cfg.OpenDurationMs = 1
	m := NewCircuitBreakerManager(cfg)

	for i := 0; i < cfg.FailureThresholdCount; i++ {
		m.RecordFailure("acc", "down")
	}
	require.Equal(t, CircuitOpen, m.State("acc"))

	time.Sleep(5 * time.Millisecond)
	blocked, _ := m.Check("acc")
	require.False(t, blocked)
	assert.Equal(t, CircuitHalfOpen, m.State("acc"))

	for i := 0; i < cfg.SuccessThresholdCount-1; i++ {
		m.RecordSuccess("acc")
		assert.Equal(t, CircuitHalfOpen, m.State("acc"))
	}
	m.RecordSuccess("acc")
	assert.Equal(t, CircuitClosed, m.State("acc"))
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := config.DefaultCircuitBreakerConfig()
	cfg.OpenDurationMs = 1
	m := NewCircuitBreakerManager(cfg)

	for i := 0; i < cfg.FailureThresholdCount; i++ {
		m.RecordFailure("acc", "down")
	}
	time.Sleep(5 * time.Millisecond)
	blocked, _ := m.Check("acc")
	require.False(t, blocked)
	require.Equal(t, CircuitHalfOpen, m.State("acc"))

	m.RecordFailure("acc", "still down")
	assert.Equal(t, CircuitOpen, m.State("acc"))
}
