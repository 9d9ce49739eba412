package relay

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kirogateway/kirogateway/internal/pool"
)

func newTestManager(t *testing.T) (*pool.Manager, *pool.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := pool.OpenStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	rc, err := pool.NewRefreshClient("us-east-1", "1.0.0", nil, 0)
	if err != nil {
		t.Fatalf("NewRefreshClient: %v", err)
	}
	mgr, err := pool.NewManager(store, rc, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, store
}

func TestRelayRequiresAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr, _ := newTestManager(t)
	h := NewHandler(mgr, "us-east-1", "expected-key")
	router := gin.New()
	Mount(router, h, 100, 100)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", w.Code)
	}
}

func TestRelayForwardsToUpstream(t *testing.T) {
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Fatal("expected relay to attach an upstream bearer token")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("upstream-ok"))
	}))
	defer upstream.Close()

	mgr, store := newTestManager(t)
	exp := time.Now().Add(time.Hour)
	if _, err := store.Insert(pool.Credential{
		RefreshToken: longToken(120),
		AccessToken:  "already-fresh",
		ExpiresAt:    &exp,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	h := NewHandler(mgr, "us-east-1", "expected-key").WithUpstreamBase(upstream.URL)
	router := gin.New()
	Mount(router, h, 100, 100)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/some/path", nil)
	req.Header.Set("Authorization", "Bearer expected-key")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from upstream relay, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "upstream-ok" {
		t.Fatalf("expected the upstream body to be relayed, got %q", w.Body.String())
	}
}

func longToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
