package pool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestManager(t *testing.T, socialBase string) (*Manager, *Store) {
	t.Helper()
	store := newTestStore(t)
	var opts []RefreshClientOption
	if socialBase != "" {
		opts = append(opts, WithSocialRefreshBase(socialBase))
	}
	rc, err := NewRefreshClient("us-east-1", "1.0.0", nil, 0, opts...)
	if err != nil {
		t.Fatalf("NewRefreshClient: %v", err)
	}
	mgr, err := NewManager(store, rc, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, store
}

func TestAcquireContextFreshTokenNoNetworkCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "should-not-be-used"})
	}))
	defer srv.Close()

	mgr, store := newTestManager(t, srv.URL)
	exp := time.Now().Add(time.Hour)
	id, err := store.Insert(Credential{RefreshToken: longToken(120), AccessToken: "already-fresh", ExpiresAt: &exp})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	cc, err := mgr.AcquireContext(context.Background())
	if err != nil {
		t.Fatalf("AcquireContext: %v", err)
	}
	if cc.ID != id || cc.AccessToken != "already-fresh" {
		t.Fatalf("expected the fresh credential to be used directly, got %+v", cc)
	}
	if calls != 0 {
		t.Fatalf("expected no refresh network calls, got %d", calls)
	}
}

func TestAcquireContextRefreshesExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "refreshed", "expiresIn": 3600})
	}))
	defer srv.Close()

	mgr, store := newTestManager(t, srv.URL)
	id, err := store.Insert(Credential{RefreshToken: longToken(120)})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	cc, err := mgr.AcquireContext(context.Background())
	if err != nil {
		t.Fatalf("AcquireContext: %v", err)
	}
	if cc.ID != id || cc.AccessToken != "refreshed" {
		t.Fatalf("expected the refreshed token to be used, got %+v", cc)
	}

	persisted, ok, err := store.Get(id)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if persisted.AccessToken != "refreshed" {
		t.Fatalf("expected the refreshed token to be persisted, got %q", persisted.AccessToken)
	}
}

func TestAcquireContextAdvancesOnRefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("expired"))
	}))
	defer srv.Close()

	mgr, store := newTestManager(t, srv.URL)
	_, err := store.Insert(Credential{RefreshToken: longToken(120), Priority: 1})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, err = mgr.AcquireContext(context.Background())
	if err == nil {
		t.Fatal("expected AcquireContext to fail once the whole pool is exhausted")
	}
	pe, ok := AsError(err)
	if !ok || pe.Kind != KindNoUsableCredential {
		t.Fatalf("expected KindNoUsableCredential, got %v", err)
	}
}

func TestAcquireContextEmptyPool(t *testing.T) {
	mgr, _ := newTestManager(t, "")
	_, err := mgr.AcquireContext(context.Background())
	if err == nil {
		t.Fatal("expected an error acquiring from an empty pool")
	}
	pe, ok := AsError(err)
	if !ok || pe.Kind != KindNoUsableCredential {
		t.Fatalf("expected KindNoUsableCredential for an empty pool, got %v", err)
	}
}

func TestReportFailureDisablesAtThreshold(t *testing.T) {
	mgr, store := newTestManager(t, "")
	exp := time.Now().Add(time.Hour)
	id, err := store.Insert(Credential{RefreshToken: longToken(120), AccessToken: "tok", ExpiresAt: &exp})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var hasMore bool
	for i := 0; i < MaxFailures; i++ {
		hasMore, err = mgr.ReportFailure(id)
		if err != nil {
			t.Fatalf("ReportFailure: %v", err)
		}
	}
	if hasMore {
		t.Fatal("expected no usable credentials after the sole credential trips the failure threshold")
	}

	got, ok, err := store.Get(id)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !got.Disabled {
		t.Fatal("expected the credential to be disabled at MaxFailures")
	}
}

func TestReportSuccessResetsFailures(t *testing.T) {
	mgr, store := newTestManager(t, "")
	exp := time.Now().Add(time.Hour)
	id, err := store.Insert(Credential{RefreshToken: longToken(120), AccessToken: "tok", ExpiresAt: &exp})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := mgr.ReportFailure(id); err != nil {
		t.Fatalf("ReportFailure: %v", err)
	}

	mgr.ReportSuccess(id)

	got, ok, err := store.Get(id)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.FailureCount != 0 {
		t.Fatalf("expected failure count reset to zero, got %d", got.FailureCount)
	}
}

func TestAddRejectsInvalidRefreshToken(t *testing.T) {
	mgr, _ := newTestManager(t, "")
	_, err := mgr.Add(context.Background(), Credential{RefreshToken: "short"})
	if err == nil {
		t.Fatal("expected validation error for a too-short refresh token")
	}
}

func TestAddRejectsDuplicateClientID(t *testing.T) {
	mgr, store := newTestManager(t, "")
	if _, err := store.Insert(Credential{RefreshToken: longToken(120), ClientID: "dup"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err := mgr.Add(context.Background(), Credential{RefreshToken: longToken(130), ClientID: "dup"})
	if err == nil {
		t.Fatal("expected an error inserting a duplicate client_id")
	}
}

func TestSetPrioritySwitchesCurrent(t *testing.T) {
	mgr, store := newTestManager(t, "")
	exp := time.Now().Add(time.Hour)
	highPriorityID, err := store.Insert(Credential{RefreshToken: longToken(120), AccessToken: "a", ExpiresAt: &exp, Priority: 5})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	lowPriorityID, err := store.Insert(Credential{RefreshToken: longToken(130), AccessToken: "b", ExpiresAt: &exp, Priority: 10})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := mgr.SetPriority(lowPriorityID, 0); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}

	cc, err := mgr.AcquireContext(context.Background())
	if err != nil {
		t.Fatalf("AcquireContext: %v", err)
	}
	if cc.ID != lowPriorityID {
		t.Fatalf("expected the re-prioritized credential to become current, got id=%d (previously preferred=%d)", cc.ID, highPriorityID)
	}
}

func TestForceRecoverAll(t *testing.T) {
	mgr, store := newTestManager(t, "")
	id1, _ := store.Insert(Credential{RefreshToken: longToken(120)})
	id2, _ := store.Insert(Credential{RefreshToken: longToken(130)})
	_, _ = store.SetDisabled(id1, true)
	_, _ = store.SetDisabled(id2, true)

	n, err := mgr.ForceRecoverAll()
	if err != nil {
		t.Fatalf("ForceRecoverAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected both disabled credentials recovered, got %d", n)
	}
}
