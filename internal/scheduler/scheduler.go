// Package scheduler runs the proxy's background maintenance tasks: an
// OAuth pending-state sweep, a warmup job that keeps idle accounts'
// upstream sessions alive, and an account quota-refresh sweep. Each task
// runs on its own cadence and is independent of request serving — a
// stalled or disabled task never blocks a live call.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/retryloop"
)

// Scheduler owns the background maintenance goroutines/cron jobs. Call
// Start once after the rest of the composition root is wired, and Stop on
// shutdown.
type Scheduler struct {
	cfg        config.SchedulerConfig
	accounts   *account.Manager
	oauthState *account.OAuthStateStore
	loop       *retryloop.Loop
	log        *logrus.Logger

	cron   *cron.Cron
	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs a Scheduler. loop may be nil if warmup is never enabled
// (an empty WarmupWhitelistedModels list), since no call site needs it
// then.
func New(cfg config.SchedulerConfig, accounts *account.Manager, oauthState *account.OAuthStateStore, loop *retryloop.Loop, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		accounts:   accounts,
		oauthState: oauthState,
		loop:       loop,
		log:        log,
		cron:       cron.New(),
	}
}

// Start launches the OAuth-state GC ticker and registers the cron-driven
// warmup and quota-refresh jobs, then starts the cron scheduler. Stop (or
// cancelling a context passed to a future Start) tears everything down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go runOAuthStateGC(runCtx, s.oauthState, s.cfg.OAuthStateGCIntervalMs, s.cfg.OAuthStateTTLMs, s.log)

	if len(s.cfg.WarmupWhitelistedModels) > 0 && s.loop != nil {
		spec := everySpec(s.cfg.WarmupIntervalMinutes, 60)
		_, err := s.cron.AddFunc(spec, func() {
			s.log.Debug("warmup sweep starting")
			runWarmup(runCtx, s.accounts, s.loop, s.cfg.WarmupWhitelistedModels, s.cfg.WarmupOnlyLowQuota, s.cfg.WarmupCooldownMs, s.log)
		})
		if err != nil {
			return fmt.Errorf("scheduler: invalid warmup schedule %q: %w", spec, err)
		}
	}

	if s.cfg.QuotaRefreshEnabled {
		spec := everySpec(s.cfg.QuotaRefreshIntervalMinutes, 15)
		_, err := s.cron.AddFunc(spec, func() {
			s.log.Debug("quota refresh sweep starting")
			refreshQuotas(runCtx, s.accounts, s.log)
		})
		if err != nil {
			return fmt.Errorf("scheduler: invalid quota-refresh schedule %q: %w", spec, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop cancels the OAuth GC ticker and stops the cron scheduler, waiting
// for any in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	stopped := s.cron.Stop()
	<-stopped.Done()
}

// everySpec turns a minutes interval into a robfig/cron "@every" spec,
// falling back to def when the configured interval is non-positive.
func everySpec(minutes, def int) string {
	if minutes <= 0 {
		minutes = def
	}
	return fmt.Sprintf("@every %s", time.Duration(minutes)*time.Minute)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
