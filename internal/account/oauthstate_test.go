package account

import (
	"testing"
	"time"
)

func TestOAuthStateStorePutAndTakeIsSingleUse(t *testing.T) {
	s := NewOAuthStateStore()
	s.Put("state-1", OAuthState{Verifier: "v1", RedirectURI: "https://x/callback", CreatedAt: time.Now()})

	v, ok := s.Take("state-1")
	if !ok || v.Verifier != "v1" {
		t.Fatalf("expected to take state-1, got %#v ok=%v", v, ok)
	}

	if _, ok := s.Take("state-1"); ok {
		t.Fatalf("expected state-1 to be consumed after first Take")
	}
}

func TestOAuthStateStoreGCRemovesExpiredOnly(t *testing.T) {
	s := NewOAuthStateStore()
	s.Put("old", OAuthState{CreatedAt: time.Now().Add(-20 * time.Minute)})
	s.Put("fresh", OAuthState{CreatedAt: time.Now()})

	removed := s.GC(10 * time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 remaining state, got %d", s.Len())
	}
	if _, ok := s.Take("fresh"); !ok {
		t.Fatalf("expected fresh state to survive GC")
	}
}
