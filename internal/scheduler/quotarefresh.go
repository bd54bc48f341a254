package scheduler

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/avlabs/gemini-gateway/internal/account"
)

// quotaRefreshFanout bounds how many accounts are refreshed concurrently,
// so a slow or hanging upstream call can't serialize the whole sweep.
const quotaRefreshFanout = 4

// refreshQuotas fetches each usable account's current per-model quota
// snapshot from the backend and persists it, so the selector's quota
// scoring and threshold checks are working from data fresher than
// whatever the account last happened to pick up from a live request.
func refreshQuotas(ctx context.Context, accounts *account.Manager, log *logrus.Logger) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(quotaRefreshFanout)

	for _, acc := range accounts.All() {
		acc := acc
		if !acc.Usable() {
			continue
		}
		eg.Go(func() error {
			refreshOne(egCtx, accounts, acc, log)
			return nil
		})
	}

	_ = eg.Wait()
}

func refreshOne(ctx context.Context, accounts *account.Manager, acc *account.Account, log *logrus.Logger) {
	token, err := accounts.Token(ctx, acc)
	if err != nil {
		log.WithField("account", acc.Email).WithError(err).Warn("quota refresh: token refresh failed")
		return
	}

	quotas, err := fetchModelQuotas(ctx, quotaHTTPClient(), token)
	if err != nil {
		log.WithField("account", acc.Email).WithError(err).Warn("quota refresh: fetchAvailableModels failed")
		return
	}
	if len(quotas) == 0 {
		return
	}

	acc.Quota = &account.QuotaInfo{Models: quotas, LastChecked: nowMs()}
	if err := accounts.Put(ctx, acc); err != nil {
		log.WithField("account", acc.Email).WithError(err).Warn("quota refresh: persisting snapshot failed")
	}
}
