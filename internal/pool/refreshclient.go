package pool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	tracing "github.com/kirogateway/kirogateway/internal/monitoring/tracing"
)

const (
	idcAmzUserAgent               = "aws-sdk-js/3.738.0 ua/2.1 os/other lang/js md/browser#unknown_unknown api/sso-oidc#3.738.0 m/E KiroIDE"
	usageLimitsAmzUserAgentPrefix = "aws-sdk-js/1.0.0"
)

// ProxyConfig describes an optional upstream HTTP proxy.
type ProxyConfig struct {
	URL      string
	Username string
	Password string
}

// RefreshClient issues the stateless upstream HTTP calls a Credential needs
// to stay usable: OAuth-style token refresh (social or IdC/builder-id) and
// the usage-limits query. It holds no credential state of its own.
type RefreshClient struct {
	httpClient  *http.Client
	region      string
	kiroVersion string
	limiter     *rate.Limiter

	socialRefreshBase string
	idcRefreshBase    string
	usageLimitsBase   string
}

// RefreshClientOption customizes a RefreshClient at construction time.
type RefreshClientOption func(*RefreshClient)

// WithSocialRefreshBase overrides the social-auth refresh endpoint host,
// e.g. for pointing at an httptest.Server in tests.
func WithSocialRefreshBase(base string) RefreshClientOption {
	return func(rc *RefreshClient) { rc.socialRefreshBase = base }
}

// WithIdCRefreshBase overrides the AWS SSO OIDC refresh endpoint host.
func WithIdCRefreshBase(base string) RefreshClientOption {
	return func(rc *RefreshClient) { rc.idcRefreshBase = base }
}

// WithUsageLimitsBase overrides the usage-limits endpoint host.
func WithUsageLimitsBase(base string) RefreshClientOption {
	return func(rc *RefreshClient) { rc.usageLimitsBase = base }
}

// NewRefreshClient builds a client bound to a region and a client version
// string (both stamped into upstream user-agent headers). ratePerSecond
// throttles outbound refresh/usage calls so a refresh storm across many
// credentials cannot hammer the upstream; 0 disables throttling.
func NewRefreshClient(region, kiroVersion string, proxy *ProxyConfig, ratePerSecond float64, opts ...RefreshClientOption) (*RefreshClient, error) {
	transport := &http.Transport{}
	if proxy != nil && proxy.URL != "" {
		proxyURL, err := url.Parse(proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if proxy.Username != "" {
			proxyURL.User = url.UserPassword(proxy.Username, proxy.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}

	rc := &RefreshClient{
		httpClient:        &http.Client{Transport: transport, Timeout: 60 * time.Second},
		region:            region,
		kiroVersion:       kiroVersion,
		limiter:           limiter,
		socialRefreshBase: fmt.Sprintf("https://prod.%s.auth.desktop.kiro.dev", region),
		idcRefreshBase:    fmt.Sprintf("https://oidc.%s.amazonaws.com", region),
		usageLimitsBase:   fmt.Sprintf("https://q.%s.amazonaws.com", region),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc, nil
}

func (rc *RefreshClient) throttle(ctx context.Context) error {
	if rc.limiter == nil {
		return nil
	}
	return rc.limiter.Wait(ctx)
}

func (rc *RefreshClient) fingerprint(c Credential) string {
	fp, ok := DeriveFingerprint(c)
	if !ok {
		return "unknown"
	}
	return fp
}

// Refresh dispatches to the social or IdC/builder-id protocol by
// c.AuthMethod and returns a new snapshot merged over c, or a typed error.
// The refresh token is pre-validated before any network call.
func (rc *RefreshClient) Refresh(ctx context.Context, c Credential) (Credential, error) {
	if err := ValidateRefreshToken(c.RefreshToken); err != nil {
		return Credential{}, err
	}
	if err := rc.throttle(ctx); err != nil {
		return Credential{}, newErr(KindNetworkError, "rate limiter wait", err)
	}

	switch c.AuthMethod {
	case AuthMethodIdC, AuthMethodBuilderID:
		return rc.refreshIdC(ctx, c)
	default:
		return rc.refreshSocial(ctx, c)
	}
}

func (rc *RefreshClient) refreshSocial(ctx context.Context, c Credential) (Credential, error) {
	body, _ := sjson.Set(`{}`, "refreshToken", c.RefreshToken)

	endpoint := rc.socialRefreshBase + "/refreshToken"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(body)))
	if err != nil {
		return Credential{}, newErr(KindNetworkError, "build social refresh request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("KiroIDE-%s-%s", rc.kiroVersion, rc.fingerprint(c)))
	req.Header.Set("Connection", "close")

	resp, respBody, err := rc.do(req)
	if err != nil {
		return Credential{}, err
	}
	if err := statusToError(resp.StatusCode, respBody); err != nil {
		return Credential{}, err
	}

	return mergeRefreshResponse(c, respBody)
}

func (rc *RefreshClient) refreshIdC(ctx context.Context, c Credential) (Credential, error) {
	body := `{}`
	body, _ = sjson.Set(body, "clientId", c.ClientID)
	body, _ = sjson.Set(body, "clientSecret", c.ClientSecret)
	body, _ = sjson.Set(body, "refreshToken", c.RefreshToken)
	body, _ = sjson.Set(body, "grantType", "refresh_token")

	endpoint := rc.idcRefreshBase + "/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(body)))
	if err != nil {
		return Credential{}, newErr(KindNetworkError, "build idc refresh request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-amz-user-agent", idcAmzUserAgent)
	req.Header.Set("Connection", "close")

	resp, respBody, err := rc.do(req)
	if err != nil {
		return Credential{}, err
	}
	if err := statusToError(resp.StatusCode, respBody); err != nil {
		return Credential{}, err
	}

	return mergeRefreshResponse(c, respBody)
}

func mergeRefreshResponse(c Credential, respBody []byte) (Credential, error) {
	accessToken := gjson.GetBytes(respBody, "accessToken")
	if !accessToken.Exists() || accessToken.String() == "" {
		return Credential{}, newErr(KindRefreshFailed, "refresh response missing accessToken", nil)
	}

	next := c.Clone()
	next.AccessToken = accessToken.String()
	if rt := gjson.GetBytes(respBody, "refreshToken"); rt.Exists() && rt.String() != "" {
		next.RefreshToken = rt.String()
	}
	if pa := gjson.GetBytes(respBody, "profileArn"); pa.Exists() && pa.String() != "" {
		next.ProfileARN = pa.String()
	}
	if ei := gjson.GetBytes(respBody, "expiresIn"); ei.Exists() {
		expiresAt := time.Now().Add(time.Duration(ei.Int()) * time.Second)
		next.ExpiresAt = &expiresAt
	}
	return next, nil
}

// UsageLimits describes the last observed quota snapshot.
type UsageLimits struct {
	SubscriptionTitle string
	CurrentUsage      float64
	UsageLimit        float64
	NextResetAt       *time.Time
}

// GetUsageLimits queries the usage-limits endpoint for a credential that
// already carries a valid access token.
func (rc *RefreshClient) GetUsageLimits(ctx context.Context, c Credential) (UsageLimits, error) {
	if err := rc.throttle(ctx); err != nil {
		return UsageLimits{}, newErr(KindNetworkError, "rate limiter wait", err)
	}

	endpoint := rc.usageLimitsBase + "/getUsageLimits?origin=AI_EDITOR&resourceType=AGENTIC_REQUEST"
	if c.ProfileARN != "" {
		endpoint += "&profileArn=" + url.QueryEscape(c.ProfileARN)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return UsageLimits{}, newErr(KindNetworkError, "build usage limits request", err)
	}
	amzUserAgent := fmt.Sprintf("%s KiroIDE-%s-%s", usageLimitsAmzUserAgentPrefix, rc.kiroVersion, rc.fingerprint(c))
	(&oauth2.Token{AccessToken: c.AccessToken, TokenType: "Bearer"}).SetAuthHeader(req)
	req.Header.Set("x-amz-user-agent", amzUserAgent)
	req.Header.Set("User-Agent", fmt.Sprintf("KiroIDE-%s-%s", rc.kiroVersion, rc.fingerprint(c)))
	req.Header.Set("amz-sdk-invocation-id", uuid.NewString())
	req.Header.Set("amz-sdk-request", "attempt=1; max=1")
	req.Header.Set("Connection", "close")

	resp, respBody, err := rc.do(req)
	if err != nil {
		return UsageLimits{}, err
	}
	if err := statusToError(resp.StatusCode, respBody); err != nil {
		return UsageLimits{}, err
	}

	out := UsageLimits{
		SubscriptionTitle: gjson.GetBytes(respBody, "subscriptionTitle").String(),
		CurrentUsage:      gjson.GetBytes(respBody, "currentUsage").Float(),
		UsageLimit:        gjson.GetBytes(respBody, "usageLimit").Float(),
	}
	if nr := gjson.GetBytes(respBody, "nextResetAt"); nr.Exists() && nr.String() != "" {
		if t, err := time.Parse(time.RFC3339, nr.String()); err == nil {
			out.NextResetAt = &t
		}
	}
	return out, nil
}

func (rc *RefreshClient) do(req *http.Request) (*http.Response, []byte, error) {
	_, span := tracing.StartSpan(req.Context(), "pool/refreshclient", "RefreshClient.do",
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		))
	defer span.End()

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, newErr(KindNetworkError, "upstream request failed", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, newErr(KindNetworkError, "read upstream response", err)
	}
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("http_status=%d", resp.StatusCode))
	}
	return resp, body, nil
}

func statusToError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	switch {
	case status == http.StatusUnauthorized:
		return newErr(KindCredentialExpiredOrInvalid, msg, nil)
	case status == http.StatusForbidden:
		return newErr(KindPermissionDenied, msg, nil)
	case status == http.StatusTooManyRequests:
		return newErr(KindRateLimited, msg, nil)
	case status >= 500 && status < 600:
		return newErr(KindUpstreamUnavailable, msg, nil)
	default:
		return newErr(KindRefreshFailed, msg, nil)
	}
}
