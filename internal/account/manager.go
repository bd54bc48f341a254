package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/avlabs/gemini-gateway/internal/errs"
)

// tokenRefreshSkew is how far ahead of actual expiry a cached token is
// treated as stale, matching the teacher's manager.go 60s lookahead.
const tokenRefreshSkew = 60 * time.Second

// Manager is the registry of known accounts plus their lazily-refreshed
// access tokens. It owns no ranking logic (internal/selector does); it
// answers "what accounts exist" and "give me a usable token for this one".
type Manager struct {
	mu       sync.RWMutex
	store    Store
	oauth    OAuthConfig
	accounts map[string]*Account

	tokenMu sync.Mutex
	tokens  map[string]*CachedToken
	group   singleflight.Group
}

func NewManager(store Store, oauth OAuthConfig) *Manager {
	return &Manager{
		store:    store,
		oauth:    oauth,
		accounts: make(map[string]*Account),
		tokens:   make(map[string]*CachedToken),
	}
}

// Load populates the in-memory account set from the store.
func (m *Manager) Load(ctx context.Context) error {
	accs, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[string]*Account, len(accs))
	for _, a := range accs {
		m.accounts[a.Email] = a
	}
	return nil
}

// All returns a snapshot of every known account.
func (m *Manager) All() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out
}

func (m *Manager) Get(email string) (*Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[email]
	return a, ok
}

// Put adds or replaces an account, both in memory and in the backing store.
func (m *Manager) Put(ctx context.Context, acc *Account) error {
	m.mu.Lock()
	m.accounts[acc.Email] = acc
	m.mu.Unlock()
	return m.store.Put(ctx, acc)
}

// MarkInvalid disables an account after a non-recoverable auth failure,
// matching the teacher's Manager.MarkInvalid.
func (m *Manager) MarkInvalid(ctx context.Context, email, reason string) error {
	m.mu.Lock()
	acc, ok := m.accounts[email]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("account %s: %w", email, ErrNotFound)
	}
	acc.IsInvalid = true
	acc.InvalidReason = reason
	acc.InvalidAt = time.Now().UnixMilli()
	m.mu.Unlock()
	return m.store.Put(ctx, acc)
}

func (m *Manager) clearInvalid(ctx context.Context, acc *Account) {
	if !acc.IsInvalid {
		return
	}
	acc.IsInvalid = false
	acc.InvalidReason = ""
	_ = m.store.Put(ctx, acc)
}

// Token resolves the ProxyToken for an account: the raw API key if the
// account carries one, otherwise a cached-or-freshly-refreshed OAuth
// access token. Refreshes are deduplicated per account via singleflight so
// concurrent requests against the same account share one token exchange,
// matching the teacher's Credentials manager's TTL-cached behavior.
func (m *Manager) Token(ctx context.Context, acc *Account) (ProxyToken, error) {
	if acc.APIKey != "" {
		return ProxyToken{AccountEmail: acc.Email, ProjectID: acc.ProjectID, APIKey: acc.APIKey}, nil
	}

	m.tokenMu.Lock()
	cached, ok := m.tokens[acc.Email]
	m.tokenMu.Unlock()
	if ok && time.Now().Add(tokenRefreshSkew).Before(cached.ExpiresAt) {
		return ProxyToken{AccountEmail: acc.Email, ProjectID: acc.ProjectID, AccessToken: cached.AccessToken}, nil
	}

	v, err, _ := m.group.Do(acc.Email, func() (interface{}, error) {
		tok, err := ExchangeRefreshToken(ctx, m.oauth, acc.RefreshToken)
		if err != nil {
			return nil, err
		}
		ct := &CachedToken{AccessToken: tok.AccessToken, ExtractedAt: time.Now(), ExpiresAt: tok.Expiry}
		m.tokenMu.Lock()
		m.tokens[acc.Email] = ct
		m.tokenMu.Unlock()
		return ct, nil
	})
	if err != nil {
		if isAuthFailure(err) {
			_ = m.MarkInvalid(ctx, acc.Email, err.Error())
		}
		return ProxyToken{}, errs.WithContext(err, "refresh access token")
	}

	m.clearInvalid(ctx, acc)
	ct := v.(*CachedToken)
	return ProxyToken{AccountEmail: acc.Email, ProjectID: acc.ProjectID, AccessToken: ct.AccessToken}, nil
}

// InvalidateToken drops any cached token for an account, forcing the next
// Token call to refresh, used after the upstream itself reports the token
// is no longer valid despite still being within its claimed expiry.
func (m *Manager) InvalidateToken(email string) {
	m.tokenMu.Lock()
	delete(m.tokens, email)
	m.tokenMu.Unlock()
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	return errs.IsAuthError(err)
}
