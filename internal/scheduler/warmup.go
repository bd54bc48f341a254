package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/protocol/gemini"
	"github.com/avlabs/gemini-gateway/internal/retryloop"
)

// warmupFanout bounds concurrent warmup calls, mirroring the cap
// refreshQuotas applies to its own account sweep.
const warmupFanout = 4

// pingBody is the smallest well-formed generateContent request the gemini
// mapper will accept; its content is irrelevant, only that the round trip
// happens on the target account's credential.
var pingBody = []byte(`{"contents":[{"role":"user","parts":[{"text":"."}]}]}`)

// runWarmup pings a subset of accounts so their upstream session does not
// go stale from disuse. onlyLowQuota selects which subset: false targets
// accounts still at full quota (guarding against a healthy-but-idle
// account's session expiring before it is ever used), true instead
// targets already-low accounts, to refresh rather than preserve them.
func runWarmup(ctx context.Context, accounts *account.Manager, loop *retryloop.Loop, models []string, onlyLowQuota bool, cooldownMs int64, log *logrus.Logger) {
	if len(models) == 0 {
		return
	}

	mapper := gemini.New()
	now := time.Now().UnixMilli()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(warmupFanout)

	for _, acc := range accounts.All() {
		acc := acc
		if !acc.Usable() {
			continue
		}
		if acc.LastUsed > 0 && now-acc.LastUsed < cooldownMs {
			continue
		}

		for _, model := range models {
			if !matchesQuotaTier(acc, model, onlyLowQuota) {
				continue
			}
			acc, model := acc, model
			eg.Go(func() error {
				warmOne(egCtx, loop, mapper, acc, model, log)
				return nil
			})
		}
	}

	_ = eg.Wait()
}

// matchesQuotaTier reports whether acc belongs to the subset runWarmup is
// currently targeting. An account with no quota reading yet is treated as
// full (nothing has told us otherwise), so it is only warmed in the
// default, preserve-full-quota mode.
func matchesQuotaTier(acc *account.Account, model string, onlyLowQuota bool) bool {
	fraction, ok := acc.QuotaFractionFor(model)
	if !ok {
		return !onlyLowQuota
	}
	if onlyLowQuota {
		return fraction < 0.5
	}
	return fraction >= 0.999
}

func warmOne(ctx context.Context, loop *retryloop.Loop, mapper *gemini.Mapper, acc *account.Account, model string, log *logrus.Logger) {
	_, err := loop.Execute(ctx, mapper, retryloop.Request{
		Body:         pingBody,
		ModelID:      model,
		ForceAccount: acc.Email,
	})
	if err != nil {
		log.WithField("account", acc.Email).WithField("model", model).WithError(err).Debug("warmup call failed")
	}
}
