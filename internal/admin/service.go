package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/kirogateway/kirogateway/internal/logging"
	"github.com/kirogateway/kirogateway/internal/middleware"
	"github.com/kirogateway/kirogateway/internal/pool"
)

// Service is the thin adapter between the admin HTTP layer and the Pool
// Manager: it forwards calls and leaves error classification to Classify.
type Service struct {
	manager *pool.Manager
}

// NewService wraps a Manager.
func NewService(manager *pool.Manager) *Service {
	return &Service{manager: manager}
}

// CredentialView is a credential enriched with a live-fetch error, if the
// best-effort balance refresh in ListCredentials failed for that row.
type CredentialView struct {
	pool.Credential
	BalanceError string `json:"balanceError,omitempty"`
}

// ListCredentials returns the pool snapshot with balances refreshed in
// parallel for every enabled credential. Each fetch persists its balance
// best-effort through GetUsageLimitsFor, and ListCredentials waits for all
// fetches, write-backs included, before returning; no write-back runs after
// it returns.
func (s *Service) ListCredentials(ctx context.Context) ([]CredentialView, int64, error) {
	snap, err := s.manager.Snapshot()
	if err != nil {
		return nil, 0, err
	}

	views := make([]CredentialView, len(snap.Entries))
	var wg sync.WaitGroup
	for i, c := range snap.Entries {
		views[i] = CredentialView{Credential: c}
		if c.Disabled {
			continue
		}
		wg.Add(1)
		i, id := i, c.ID
		middleware.SafeGoWithContext(fmt.Sprintf("balance-fetch-%d", id), func() {
			defer wg.Done()
			limits, err := s.manager.GetUsageLimitsFor(ctx, id)
			if err != nil {
				views[i].BalanceError = err.Error()
				return
			}
			views[i].SubscriptionTitle = limits.SubscriptionTitle
			views[i].CurrentUsage = limits.CurrentUsage
			views[i].UsageLimit = limits.UsageLimit
			views[i].NextResetAt = limits.NextResetAt
			now := time.Now()
			views[i].BalanceUpdatedAt = &now
		})
	}
	wg.Wait()

	return views, snap.CurrentID, nil
}

// AddCredentialRequest is the wire shape for POST /api/admin/credentials.
type AddCredentialRequest struct {
	RefreshToken string `json:"refreshToken"`
	AuthMethod   string `json:"authMethod"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	MachineID    string `json:"machineId"`
	Priority     uint32 `json:"priority"`
}

// AddCredential validates and inserts a new credential.
func (s *Service) AddCredential(ctx context.Context, req AddCredentialRequest) (int64, error) {
	c := pool.Credential{
		RefreshToken: req.RefreshToken,
		AuthMethod:   pool.AuthMethod(req.AuthMethod),
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		MachineID:    req.MachineID,
		Priority:     req.Priority,
	}
	return s.manager.Add(ctx, c)
}

// DeleteCredential deletes a credential by id.
func (s *Service) DeleteCredential(id int64) error {
	return s.manager.Delete(id)
}

// SetDisabled enables or disables a credential.
func (s *Service) SetDisabled(id int64, disabled bool) error {
	return s.manager.SetDisabled(id, disabled)
}

// SetPriority reprioritizes a credential.
func (s *Service) SetPriority(id int64, priority uint32) error {
	return s.manager.SetPriority(id, priority)
}

// ResetCredential resets failure count and enables a credential.
func (s *Service) ResetCredential(id int64) error {
	return s.manager.ResetAndEnable(id)
}

// GetBalance fetches and persists a credential's live usage limits.
func (s *Service) GetBalance(ctx context.Context, id int64) (pool.UsageLimits, error) {
	return s.manager.GetUsageLimitsFor(ctx, id)
}

// ForceRecoverAll bypasses the cooldown window and re-enables every
// disabled credential.
func (s *Service) ForceRecoverAll() (int, error) {
	return s.manager.ForceRecoverAll()
}

// Health reports a liveness snapshot of the pool.
type Health struct {
	Total        int   `json:"total"`
	EnabledCount int   `json:"enabledCount"`
	CurrentID    int64 `json:"currentId"`
}

// Health returns the current pool shape for a liveness probe.
func (s *Service) Health() (Health, error) {
	snap, err := s.manager.Snapshot()
	if err != nil {
		return Health{}, err
	}
	return Health{Total: snap.Total, EnabledCount: snap.EnabledCount, CurrentID: snap.CurrentID}, nil
}

// logAudit records every admin mutation with its outcome, tagged with the
// request id of the triggering call so it can be correlated with the
// relay's own per-request log line, and with a pool-kind-normalized error
// bucket so a dashboard can group "upstream_401"-class failures across
// both admin mutations and client-facing relay calls.
func logAudit(c *gin.Context, action string, id int64, err error) {
	fields := log.Fields{
		"action":        action,
		"credential_id": id,
		"request_id":    middleware.RequestIDFromContext(c),
	}
	if err != nil {
		kind := ""
		if pe, ok := pool.AsError(err); ok {
			kind = string(pe.Kind)
		}
		fields["error_kind"] = logging.KindForPoolKind(kind)
		log.WithFields(fields).WithError(err).Warn("admin: mutation failed")
		return
	}
	log.WithFields(fields).Info("admin: mutation applied")
}
