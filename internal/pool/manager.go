package pool

import (
	"context"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kirogateway/kirogateway/internal/monitoring"
)

// CallContext is the triple a caller uses to perform one upstream request.
type CallContext struct {
	ID          int64
	Credential  Credential
	AccessToken string
}

// Manager is the orchestration core: it owns the "current credential"
// pointer, serializes refreshes behind one global lock, accounts failures
// and drives opportunistic cool-down recovery. Every mutation to a
// Credential's persisted fields goes through the Store; the Manager never
// hands out a mutable alias into a stored row.
type Manager struct {
	store        *Store
	refresh      *RefreshClient
	cooldownSecs int

	currentMu sync.Mutex
	currentID int64

	// refreshLock is the single asynchronous mutex serializing all token
	// refreshes across the pool. A sync.Mutex's Lock already suspends the
	// calling goroutine without spinning, which is the "asynchronous mutex"
	// the design calls for in a goroutine-based runtime.
	refreshLock sync.Mutex
}

// NewManager constructs a Manager atop an already-open Store. current_id is
// seeded to the highest-priority enabled credential, or 0 ("no selection")
// if the pool is empty.
func NewManager(store *Store, refresh *RefreshClient, cooldownSeconds int) (*Manager, error) {
	if cooldownSeconds <= 0 {
		cooldownSeconds = DefaultCooldownSeconds
	}
	m := &Manager{store: store, refresh: refresh, cooldownSecs: cooldownSeconds}

	if c, ok, err := store.HighestPriorityEnabled(); err != nil {
		return nil, err
	} else if ok {
		m.currentID = c.ID
	}
	return m, nil
}

func (m *Manager) getCurrentID() int64 {
	m.currentMu.Lock()
	defer m.currentMu.Unlock()
	return m.currentID
}

func (m *Manager) setCurrentID(id int64) {
	m.currentMu.Lock()
	m.currentID = id
	m.currentMu.Unlock()
}

// AcquireContext selects a credential by priority, ensures it holds a fresh
// access token, and returns a CallContext built from it.
func (m *Manager) AcquireContext(ctx context.Context) (CallContext, error) {
	if n, err := m.store.TryRecoverDisabled(m.cooldownSecs); err != nil {
		log.WithError(err).Warn("pool: cool-down recovery sweep failed")
	} else if n > 0 {
		log.WithField("recovered", n).Info("pool: cool-down recovery re-enabled credentials")
	}

	total, err := m.store.CountAll()
	if err != nil {
		return CallContext{}, err
	}

	tried := 0
	for {
		if tried >= total {
			return CallContext{}, newErr(KindNoUsableCredential, "no usable credential after trying the whole pool", nil)
		}

		id, cred, ok, err := m.selectCurrent()
		if err != nil {
			return CallContext{}, err
		}
		if !ok {
			return CallContext{}, newErr(KindAllDisabled, "every credential is disabled", nil)
		}

		cc, err := m.ensureToken(ctx, id, cred)
		if err == nil {
			return cc, nil
		}

		log.WithError(err).WithField("credential_id", id).Warn("pool: token refresh failed, advancing to next credential")
		if next, ok, nerr := m.store.NextEnabledExcluding(m.getCurrentID()); nerr == nil && ok {
			m.setCurrentID(next.ID)
		}
		tried++
	}
}

// selectCurrent reads the current credential under the current-id mutex,
// reselecting to the highest-priority enabled credential if the pointer is
// stale (absent or disabled).
func (m *Manager) selectCurrent() (int64, Credential, bool, error) {
	m.currentMu.Lock()
	defer m.currentMu.Unlock()

	if m.currentID != 0 {
		cred, ok, err := m.store.Get(m.currentID)
		if err != nil {
			return 0, Credential{}, false, err
		}
		if ok && !cred.Disabled {
			return m.currentID, cred, true, nil
		}
	}

	best, ok, err := m.store.HighestPriorityEnabled()
	if err != nil {
		return 0, Credential{}, false, err
	}
	if !ok {
		return 0, Credential{}, false, nil
	}
	m.currentID = best.ID
	return best.ID, best, true, nil
}

// ensureToken implements the double-checked refresh. If the credential's
// token is neither expired nor expiring soon, it is used directly with no
// locking. Otherwise the global refresh lock is acquired, the credential is
// re-read (someone else may have refreshed it while we waited), and a
// refresh is performed only if still needed.
func (m *Manager) ensureToken(ctx context.Context, id int64, cred Credential) (CallContext, error) {
	now := time.Now()
	if cred.AccessToken != "" && !IsExpired(cred.ExpiresAt, now) && !IsExpiringSoon(cred.ExpiresAt, now) {
		return CallContext{ID: id, Credential: cred, AccessToken: cred.AccessToken}, nil
	}

	m.refreshLock.Lock()
	defer m.refreshLock.Unlock()

	fresh, ok, err := m.store.Get(id)
	if err != nil {
		return CallContext{}, err
	}
	if !ok {
		return CallContext{}, errNotFound("credential disappeared while awaiting refresh lock")
	}

	now = time.Now()
	needsRefresh := fresh.AccessToken == "" || IsExpired(fresh.ExpiresAt, now) || IsExpiringSoon(fresh.ExpiresAt, now)
	if needsRefresh {
		refreshed, err := m.refresh.Refresh(ctx, fresh)
		if err != nil {
			return CallContext{}, err
		}
		if IsExpired(refreshed.ExpiresAt, time.Now()) {
			return CallContext{}, newErr(KindStillExpiredAfterRefresh, "refreshed token is already within the expired window", nil)
		}
		if err := m.store.Update(refreshed); err != nil {
			return CallContext{}, err
		}
		fresh = refreshed
	}

	if fresh.AccessToken == "" {
		return CallContext{}, newErr(KindRefreshFailed, "credential has no access token after refresh", nil)
	}
	return CallContext{ID: id, Credential: fresh, AccessToken: fresh.AccessToken}, nil
}

// ReportSuccess resets the credential's failure count. Best-effort: a store
// error is logged, not propagated, since it must never block the caller's
// own response path.
func (m *Manager) ReportSuccess(id int64) {
	if _, err := m.store.ResetFailureCount(id); err != nil {
		log.WithError(err).WithField("credential_id", id).Warn("pool: report_success failed to reset failure count")
	}
}

// ReportFailure increments the credential's failure count, disabling it and
// switching current_id away from it once MaxFailures is reached. It returns
// whether the pool still has an enabled credential.
func (m *Manager) ReportFailure(id int64) (bool, error) {
	newCount, err := m.store.IncrementFailureCount(id)
	if err != nil {
		return false, err
	}

	disabled := newCount >= MaxFailures
	if disabled {
		if _, err := m.store.SetDisabled(id, true); err != nil {
			return false, err
		}
		if best, ok, err := m.store.HighestPriorityEnabled(); err == nil && ok {
			m.setCurrentID(best.ID)
		} else if err == nil {
			m.setCurrentID(0)
		}
	}
	monitoring.CredentialFailuresTotal.WithLabelValues(strconv.FormatBool(disabled)).Inc()

	enabled, err := m.store.CountEnabled()
	if err != nil {
		return false, err
	}
	monitoring.CredentialPoolEnabledGauge.Set(float64(enabled))
	return enabled > 0, nil
}

// SetDisabled enables or disables a credential. Enabling clears its
// failures atomically. Disabling the current credential triggers an
// immediate switch to the next available one.
func (m *Manager) SetDisabled(id int64, flag bool) error {
	var ok bool
	var err error
	if flag {
		ok, err = m.store.SetDisabled(id, true)
	} else {
		ok, err = m.store.ResetAndEnable(id)
	}
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("credential not found")
	}

	if flag && id == m.getCurrentID() {
		if best, ok, err := m.store.HighestPriorityEnabled(); err == nil && ok {
			m.setCurrentID(best.ID)
		} else if err == nil {
			m.setCurrentID(0)
		}
	}
	return nil
}

// SetPriority persists a new priority and re-selects current_id to the new
// highest-priority enabled credential.
func (m *Manager) SetPriority(id int64, priority uint32) error {
	ok, err := m.store.SetPriority(id, priority)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("credential not found")
	}
	if best, ok, err := m.store.HighestPriorityEnabled(); err == nil && ok {
		m.setCurrentID(best.ID)
	}
	return nil
}

// ResetAndEnable clears failures and enables a credential.
func (m *Manager) ResetAndEnable(id int64) error {
	ok, err := m.store.ResetAndEnable(id)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("credential not found")
	}
	return nil
}

// ForceRecoverAll unconditionally re-enables every disabled credential,
// bypassing the cooldown window. Supplements the original's opportunistic
// recovery with an explicit admin-triggered bulk action.
func (m *Manager) ForceRecoverAll() (int, error) {
	all, err := m.store.LoadAll()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range all {
		if !c.Disabled {
			continue
		}
		if ok, err := m.store.ResetAndEnable(c.ID); err == nil && ok {
			n++
		}
	}
	return n, nil
}

// Add validates and inserts a new credential. If the pool was empty before
// insertion, current_id is set to the new id. Best-effort initial balance
// fetch follows; its failure is logged, not returned.
func (m *Manager) Add(ctx context.Context, c Credential) (int64, error) {
	if err := ValidateRefreshToken(c.RefreshToken); err != nil {
		return 0, err
	}
	if c.MachineID != "" && !isValidMachineID(c.MachineID) {
		return 0, errInvalidRequest("machine_id is not a valid UUID-v4 form")
	}
	if c.ClientID != "" {
		exists, err := m.store.ClientIDExists(c.ClientID)
		if err != nil {
			return 0, err
		}
		if exists {
			return 0, errInvalidRequest("a credential with this client_id already exists")
		}
	}
	if c.AuthMethod == "" {
		c.AuthMethod = AuthMethodSocial
	}

	wasEmpty, err := m.store.CountAll()
	if err != nil {
		return 0, err
	}

	id, err := m.store.Insert(c)
	if err != nil {
		return 0, err
	}
	if wasEmpty == 0 {
		m.setCurrentID(id)
	}

	go func() {
		stored, ok, err := m.store.Get(id)
		if err != nil || !ok {
			return
		}
		cc, err := m.ensureToken(context.Background(), id, stored)
		if err != nil {
			log.WithError(err).WithField("credential_id", id).Debug("pool: best-effort initial token fetch failed")
			return
		}
		limits, err := m.refresh.GetUsageLimits(context.Background(), cc.Credential)
		if err != nil {
			log.WithError(err).WithField("credential_id", id).Debug("pool: best-effort initial balance fetch failed")
			return
		}
		if _, err := m.store.UpdateBalance(id, limits.SubscriptionTitle, limits.CurrentUsage, limits.UsageLimit, limits.NextResetAt); err != nil {
			log.WithError(err).WithField("credential_id", id).Debug("pool: best-effort initial balance write-back failed")
		}
	}()

	return id, nil
}

// Delete removes a credential, reselecting current_id if it was the one
// removed.
func (m *Manager) Delete(id int64) error {
	ok, err := m.store.Delete(id)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("credential not found")
	}
	if id == m.getCurrentID() {
		if best, ok, err := m.store.HighestPriorityEnabled(); err == nil && ok {
			m.setCurrentID(best.ID)
		} else if err == nil {
			m.setCurrentID(0)
		}
	}
	return nil
}

// GetUsageLimitsFor re-runs the ensure-token sequence bound to a specific
// id (not current_id), then queries the usage endpoint and best-effort
// persists the result.
func (m *Manager) GetUsageLimitsFor(ctx context.Context, id int64) (UsageLimits, error) {
	cred, ok, err := m.store.Get(id)
	if err != nil {
		return UsageLimits{}, err
	}
	if !ok {
		return UsageLimits{}, errNotFound("credential not found")
	}

	cc, err := m.ensureToken(ctx, id, cred)
	if err != nil {
		return UsageLimits{}, err
	}

	limits, err := m.refresh.GetUsageLimits(ctx, cc.Credential)
	if err != nil {
		return UsageLimits{}, err
	}
	if _, err := m.store.UpdateBalance(id, limits.SubscriptionTitle, limits.CurrentUsage, limits.UsageLimit, limits.NextResetAt); err != nil {
		log.WithError(err).WithField("credential_id", id).Warn("pool: balance write-back failed")
	}
	return limits, nil
}

// Snapshot is a read-only view of the pool for admin display.
type Snapshot struct {
	Entries      []Credential
	CurrentID    int64
	Total        int
	EnabledCount int
}

// Snapshot produces a point-in-time view of the pool.
func (m *Manager) Snapshot() (Snapshot, error) {
	all, err := m.store.LoadAll()
	if err != nil {
		return Snapshot{}, err
	}
	enabled := 0
	for _, c := range all {
		if !c.Disabled {
			enabled++
		}
	}
	return Snapshot{
		Entries:      all,
		CurrentID:    m.getCurrentID(),
		Total:        len(all),
		EnabledCount: enabled,
	}, nil
}
