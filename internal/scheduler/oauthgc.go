package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avlabs/gemini-gateway/internal/account"
)

// runOAuthStateGC evicts expired pending-authorization entries on a fixed
// tick, so an abandoned OAuth flow's PKCE verifier doesn't sit in memory
// forever. Unlike the warmup/quota-refresh jobs this runs on a plain
// ticker rather than cron: the cadence is a constant few-second interval,
// not a schedule an operator would ever want to express in cron syntax.
func runOAuthStateGC(ctx context.Context, states *account.OAuthStateStore, intervalMs, ttlMs int64, log *logrus.Logger) {
	if intervalMs <= 0 {
		intervalMs = 60_000
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	ttl := time.Duration(ttlMs) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := states.GC(ttl); removed > 0 {
				log.WithField("removed", removed).Debug("oauth state gc swept expired entries")
			}
		}
	}
}
