package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManagerPreferredAndAttempted(t *testing.T) {
	s := NewSessionManager()

	_, ok := s.Preferred("sess-1")
	assert.False(t, ok)

	s.SetPreferred("sess-1", "a@example.com")
	preferred, ok := s.Preferred("sess-1")
	require.True(t, ok)
	assert.Equal(t, "a@example.com", preferred)

	s.MarkAttempted("sess-1", "a@example.com")
	s.MarkAttempted("sess-1", "b@example.com")
	attempted := s.Attempted("sess-1")
	assert.Len(t, attempted, 2)
	_, has := attempted["a@example.com"]
	assert.True(t, has)

	s.ClearFailures("sess-1")
	assert.Empty(t, s.Attempted("sess-1"))
	preferred, ok = s.Preferred("sess-1")
	require.True(t, ok)
	assert.Equal(t, "a@example.com", preferred)
}

func TestSessionManagerGCEvictsIdleSessions(t *testing.T) {
	s := NewSessionManager()
	s.SetPreferred("sess-old", "a@example.com")
	s.sessions["sess-old"].lastSeen = time.Now().Add(-3 * time.Hour)

	s.SetPreferred("sess-new", "b@example.com")

	evicted := s.GC()
	assert.Equal(t, 1, evicted)

	_, ok := s.Preferred("sess-old")
	assert.False(t, ok)
	_, ok = s.Preferred("sess-new")
	assert.True(t, ok)
}
