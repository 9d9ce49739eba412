package pool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestRefreshClient(t *testing.T, socialBase, idcBase, usageBase string) *RefreshClient {
	t.Helper()
	var opts []RefreshClientOption
	if socialBase != "" {
		opts = append(opts, WithSocialRefreshBase(socialBase))
	}
	if idcBase != "" {
		opts = append(opts, WithIdCRefreshBase(idcBase))
	}
	if usageBase != "" {
		opts = append(opts, WithUsageLimitsBase(usageBase))
	}
	rc, err := NewRefreshClient("us-east-1", "1.0.0", nil, 0, opts...)
	if err != nil {
		t.Fatalf("NewRefreshClient: %v", err)
	}
	return rc
}

func TestRefreshSocialSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refreshToken" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  "new-access",
			"refreshToken": "new-refresh",
			"expiresIn":    3600,
		})
	}))
	defer srv.Close()

	rc := newTestRefreshClient(t, srv.URL, "", "")
	c := Credential{RefreshToken: longToken(120), AuthMethod: AuthMethodSocial}
	out, err := rc.Refresh(context.Background(), c)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if out.AccessToken != "new-access" || out.RefreshToken != "new-refresh" {
		t.Fatalf("unexpected merged credential: %+v", out)
	}
	if out.ExpiresAt == nil || out.ExpiresAt.Before(time.Now()) {
		t.Fatalf("expected expires_at in the future, got %v", out.ExpiresAt)
	}
}

func TestRefreshIdCDispatch(t *testing.T) {
	var sawClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		sawClientID, _ = body["clientId"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "idc-access"})
	}))
	defer srv.Close()

	rc := newTestRefreshClient(t, "", srv.URL, "")
	c := Credential{RefreshToken: longToken(120), AuthMethod: AuthMethodIdC, ClientID: "my-client", ClientSecret: "secret"}
	out, err := rc.Refresh(context.Background(), c)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if out.AccessToken != "idc-access" {
		t.Fatalf("unexpected access token: %q", out.AccessToken)
	}
	if sawClientID != "my-client" {
		t.Fatalf("expected clientId to be sent, got %q", sawClientID)
	}
}

func TestRefreshStatusClassification(t *testing.T) {
	cases := []struct {
		status   int
		wantKind Kind
	}{
		{http.StatusUnauthorized, KindCredentialExpiredOrInvalid},
		{http.StatusForbidden, KindPermissionDenied},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusInternalServerError, KindUpstreamUnavailable},
		{http.StatusTeapot, KindRefreshFailed},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("boom"))
		}))
		rc := newTestRefreshClient(t, srv.URL, "", "")
		_, err := rc.Refresh(context.Background(), Credential{RefreshToken: longToken(120)})
		srv.Close()
		if err == nil {
			t.Fatalf("expected error for status %d", tc.status)
		}
		pe, ok := AsError(err)
		if !ok || pe.Kind != tc.wantKind {
			t.Fatalf("status %d: expected kind %s, got %v", tc.status, tc.wantKind, err)
		}
	}
}

func TestRefreshRejectsInvalidToken(t *testing.T) {
	rc := newTestRefreshClient(t, "http://unused.invalid", "", "")
	_, err := rc.Refresh(context.Background(), Credential{RefreshToken: "too-short"})
	if err == nil {
		t.Fatal("expected validation error before any network call")
	}
}

func TestGetUsageLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-123" {
			t.Fatalf("unexpected authorization header: %s", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"subscriptionTitle": "pro",
			"currentUsage":      12.5,
			"usageLimit":        100.0,
			"nextResetAt":       time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	rc := newTestRefreshClient(t, "", "", srv.URL)
	limits, err := rc.GetUsageLimits(context.Background(), Credential{AccessToken: "token-123"})
	if err != nil {
		t.Fatalf("GetUsageLimits: %v", err)
	}
	if limits.SubscriptionTitle != "pro" || limits.UsageLimit != 100.0 {
		t.Fatalf("unexpected limits: %+v", limits)
	}
	if limits.NextResetAt == nil {
		t.Fatal("expected next_reset_at to parse")
	}
}
