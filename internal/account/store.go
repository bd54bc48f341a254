package account

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/avlabs/gemini-gateway/pkg/redisutil"
)

// Store persists the account registry. Implementations: in-memory (tests,
// single-process dev), Redis-backed (production, matching the teacher's
// pkg/redis.AccountStore), and an optional SQLite-backed index for
// operators who run without Redis. All three share this interface so
// Manager never branches on backend.
type Store interface {
	List(ctx context.Context) ([]*Account, error)
	Get(ctx context.Context, email string) (*Account, error)
	Put(ctx context.Context, acc *Account) error
	Delete(ctx context.Context, email string) error
}

// memoryStore is a mutex-guarded map, the fallback used when neither Redis
// nor SQLite is configured and for unit tests.
type memoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewMemoryStore() Store {
	return &memoryStore{accounts: make(map[string]*Account)}
}

func (s *memoryStore) List(ctx context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (s *memoryStore) Get(ctx context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[email]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", email, ErrNotFound)
	}
	return a, nil
}

func (s *memoryStore) Put(ctx context.Context, acc *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.Email] = acc
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, email)
	return nil
}

// ErrNotFound is returned by Store.Get when no account has the given email.
var ErrNotFound = fmt.Errorf("account not found")

// redisStore persists accounts as JSON blobs under accounts:<email>, with
// the set of known emails tracked at account_index, matching the teacher's
// pkg/redis.AccountStore layout exactly so an operator migrating from the
// teacher's deployment can point this proxy at the same Redis instance.
type redisStore struct {
	client *redisutil.Client
}

func NewRedisStore(client *redisutil.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) List(ctx context.Context) ([]*Account, error) {
	emails, err := s.client.SMembers(ctx, redisutil.PrefixAccountIndex)
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(emails))
	for _, email := range emails {
		acc, err := s.Get(ctx, email)
		if err != nil {
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

func (s *redisStore) Get(ctx context.Context, email string) (*Account, error) {
	data, err := s.client.Get(ctx, redisutil.PrefixAccounts+email)
	if err != nil {
		if redisutil.IsNil(err) {
			return nil, fmt.Errorf("account %s: %w", email, ErrNotFound)
		}
		return nil, err
	}
	var acc Account
	if err := json.Unmarshal([]byte(data), &acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", email, err)
	}
	return &acc, nil
}

func (s *redisStore) Put(ctx context.Context, acc *Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisutil.PrefixAccounts+acc.Email, string(data), 0); err != nil {
		return err
	}
	return s.client.SAdd(ctx, redisutil.PrefixAccountIndex, acc.Email)
}

func (s *redisStore) Delete(ctx context.Context, email string) error {
	if err := s.client.Delete(ctx, redisutil.PrefixAccounts+email); err != nil {
		return err
	}
	return s.client.SRem(ctx, redisutil.PrefixAccountIndex, email)
}

// fileStore persists the registry as a single JSON index file, written with
// a temp-file-then-rename so a crash mid-write never corrupts the index;
// used when neither Redis nor SQLite is configured but state must survive
// a restart (single-operator deployments).
type fileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) Store {
	return &fileStore{path: path}
}

func (s *fileStore) readAllLocked() (map[string]*Account, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]*Account), nil
	}
	if err != nil {
		return nil, err
	}
	var index map[string]*Account
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decode account index %s: %w", s.path, err)
	}
	return index, nil
}

func (s *fileStore) writeAllLocked(index map[string]*Account) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) List(ctx context.Context) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.readAllLocked()
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(index))
	for _, a := range index {
		out = append(out, a)
	}
	return out, nil
}

func (s *fileStore) Get(ctx context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.readAllLocked()
	if err != nil {
		return nil, err
	}
	acc, ok := index[email]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", email, ErrNotFound)
	}
	return acc, nil
}

func (s *fileStore) Put(ctx context.Context, acc *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.readAllLocked()
	if err != nil {
		return err
	}
	index[acc.Email] = acc
	return s.writeAllLocked(index)
}

func (s *fileStore) Delete(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.readAllLocked()
	if err != nil {
		return err
	}
	delete(index, email)
	return s.writeAllLocked(index)
}
