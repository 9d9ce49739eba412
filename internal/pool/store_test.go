package pool

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreInsertGetUpdateDelete(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Insert(Credential{RefreshToken: longToken(120), AuthMethod: AuthMethodSocial, Priority: 1})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok, err := s.Get(id)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.RefreshToken != longToken(120) {
		t.Fatalf("unexpected refresh token round-trip: %q", got.RefreshToken)
	}

	got.AccessToken = "new-access-token"
	exp := time.Now().Add(time.Hour).UTC()
	got.ExpiresAt = &exp
	if err := s.Update(got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, ok, err := s.Get(id)
	if err != nil || !ok {
		t.Fatalf("Get after update: ok=%v err=%v", ok, err)
	}
	if reloaded.AccessToken != "new-access-token" {
		t.Fatalf("expected access token to persist, got %q", reloaded.AccessToken)
	}
	if reloaded.ExpiresAt == nil || !reloaded.ExpiresAt.Equal(exp) {
		t.Fatalf("expected expires_at to round-trip, got %v", reloaded.ExpiresAt)
	}

	ok, err = s.Delete(id)
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.Get(id); err != nil || ok {
		t.Fatalf("expected credential gone after delete: ok=%v err=%v", ok, err)
	}
}

func TestStoreUpdateUnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(Credential{ID: 999, RefreshToken: longToken(120)})
	if err == nil {
		t.Fatal("expected error updating an unknown id")
	}
	pe, ok := AsError(err)
	if !ok || pe.Kind != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestStoreHighestPriorityEnabled(t *testing.T) {
	s := newTestStore(t)

	lowID, _ := s.Insert(Credential{RefreshToken: longToken(120), Priority: 5})
	highID, _ := s.Insert(Credential{RefreshToken: longToken(120), Priority: 1})
	_, _ = s.SetDisabled(highID, true)

	best, ok, err := s.HighestPriorityEnabled()
	if err != nil || !ok {
		t.Fatalf("HighestPriorityEnabled: ok=%v err=%v", ok, err)
	}
	if best.ID != lowID {
		t.Fatalf("expected the only enabled credential to win despite its higher priority number, got id=%d", best.ID)
	}
}

func TestStoreFailureCountAndResetAndEnable(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Insert(Credential{RefreshToken: longToken(120)})

	for i := 0; i < MaxFailures-1; i++ {
		n, err := s.IncrementFailureCount(id)
		if err != nil {
			t.Fatalf("IncrementFailureCount: %v", err)
		}
		if n != uint32(i+1) {
			t.Fatalf("expected failure count %d, got %d", i+1, n)
		}
	}

	ok, err := s.ResetAndEnable(id)
	if err != nil || !ok {
		t.Fatalf("ResetAndEnable: ok=%v err=%v", ok, err)
	}
	got, _, _ := s.Get(id)
	if got.FailureCount != 0 || got.Disabled {
		t.Fatalf("expected reset credential to be enabled with zero failures, got %+v", got)
	}
}

func TestStoreTryRecoverDisabled(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.Insert(Credential{RefreshToken: longToken(120)})
	if _, err := s.SetDisabled(id, true); err != nil {
		t.Fatalf("SetDisabled: %v", err)
	}

	n, err := s.TryRecoverDisabled(3600)
	if err != nil {
		t.Fatalf("TryRecoverDisabled: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing recovered before the cooldown elapses, got %d", n)
	}

	n, err = s.TryRecoverDisabled(0)
	if err != nil {
		t.Fatalf("TryRecoverDisabled: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one credential recovered with a zero cooldown, got %d", n)
	}
}

func TestStoreClientIDExists(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Insert(Credential{RefreshToken: longToken(120), ClientID: "abc"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	exists, err := s.ClientIDExists("abc")
	if err != nil || !exists {
		t.Fatalf("expected client id to be reported as existing: exists=%v err=%v", exists, err)
	}
	exists, err = s.ClientIDExists("")
	if err != nil || exists {
		t.Fatalf("empty client id must never match: exists=%v err=%v", exists, err)
	}
}
