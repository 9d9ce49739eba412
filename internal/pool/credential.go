package pool

import (
	"strings"
	"time"
)

// AuthMethod selects which upstream refresh protocol a credential uses.
type AuthMethod string

const (
	AuthMethodSocial    AuthMethod = "social"
	AuthMethodIdC       AuthMethod = "idc"
	AuthMethodBuilderID AuthMethod = "builder-id"
)

const (
	// MaxFailures is the consecutive-failure count that trips an automatic disable.
	MaxFailures = 3
	// DefaultCooldownSeconds is the minimum wall-clock interval before an
	// automatically-disabled credential becomes eligible for opportunistic recovery.
	DefaultCooldownSeconds = 300

	minRefreshTokenLength = 100
	truncationMarker      = "..."
)

// Credential is the persisted record described by the store schema. Values
// move through the pool manager by copy; nothing outside the store holds a
// mutable alias into a stored row.
type Credential struct {
	ID           int64      `json:"id"`
	RefreshToken string     `json:"refreshToken"`
	AccessToken  string     `json:"accessToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	AuthMethod   AuthMethod `json:"authMethod"`
	ClientID     string     `json:"clientId,omitempty"`
	ClientSecret string     `json:"clientSecret,omitempty"`
	ProfileARN   string     `json:"profileArn,omitempty"`
	MachineID    string     `json:"machineId,omitempty"`
	Priority     uint32     `json:"priority"`
	Disabled     bool       `json:"disabled"`
	DisabledAt   *time.Time `json:"disabledAt,omitempty"`
	FailureCount uint32     `json:"failureCount"`

	SubscriptionTitle string     `json:"subscriptionTitle,omitempty"`
	CurrentUsage      float64    `json:"currentUsage,omitempty"`
	UsageLimit        float64    `json:"usageLimit,omitempty"`
	NextResetAt       *time.Time `json:"nextResetAt,omitempty"`
	BalanceUpdatedAt  *time.Time `json:"balanceUpdatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a value copy, safe to hand to a caller outside the store's
// lock.
func (c Credential) Clone() Credential {
	clone := c
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		clone.ExpiresAt = &t
	}
	if c.DisabledAt != nil {
		t := *c.DisabledAt
		clone.DisabledAt = &t
	}
	if c.NextResetAt != nil {
		t := *c.NextResetAt
		clone.NextResetAt = &t
	}
	if c.BalanceUpdatedAt != nil {
		t := *c.BalanceUpdatedAt
		clone.BalanceUpdatedAt = &t
	}
	return clone
}

// ValidateRefreshToken enforces the pre-validation the refresh client and
// the admin add path both require: present, non-empty, at least
// minRefreshTokenLength chars, and not visibly truncated.
func ValidateRefreshToken(token string) error {
	if token == "" {
		return errInvalidRequest("refresh token is empty")
	}
	if len(token) < minRefreshTokenLength {
		return errInvalidRequest("refresh token is shorter than the minimum accepted length")
	}
	if strings.Contains(token, truncationMarker) {
		return errInvalidRequest("refresh token appears truncated")
	}
	return nil
}

// IsExpired implements the "expired" predicate: absent expires_at, or
// expires_at within 5 minutes of now, counts as expired.
func IsExpired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return !expiresAt.After(now.Add(5 * time.Minute))
}

// IsExpiringSoon implements the "expiring soon" predicate. Unlike IsExpired,
// an absent expires_at is NOT treated as expiring soon — this asymmetry is
// intentional (see design notes): it forces a refresh on first use of a
// never-refreshed credential via IsExpired alone, without also tripping the
// expiring-soon branch.
func IsExpiringSoon(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return !expiresAt.After(now.Add(10 * time.Minute))
}
