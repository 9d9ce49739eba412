package pool

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = time.RFC3339Nano

// Store is the sole source of truth for persisted credential state. It
// holds a single connection behind a mutex: every call is linearized with
// every other call, mirroring a single-threaded SQLite access pattern.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenStore opens (creating if absent, including parent directories) the
// SQLite file at path and brings its schema up to date.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errStore("create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=DELETE&_foreign_keys=on", path))
	if err != nil {
		return nil, errStore("open database", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errStore("ping database", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, errStore("migrate database", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const selectColumns = `id, refresh_token, access_token, expires_at, auth_method, client_id, client_secret,
	profile_arn, machine_id, priority, disabled, disabled_at, failure_count,
	subscription_title, current_usage, usage_limit, next_reset_at, balance_updated_at,
	created_at, updated_at`

func scanCredential(row interface{ Scan(dest ...any) error }) (Credential, error) {
	var (
		c                             Credential
		expiresAt, disabledAt         sql.NullString
		nextResetAt, balanceUpdatedAt sql.NullString
		createdAt, updatedAt          string
		disabledInt                   int
	)
	if err := row.Scan(
		&c.ID, &c.RefreshToken, &c.AccessToken, &expiresAt, &c.AuthMethod, &c.ClientID, &c.ClientSecret,
		&c.ProfileARN, &c.MachineID, &c.Priority, &disabledInt, &disabledAt, &c.FailureCount,
		&c.SubscriptionTitle, &c.CurrentUsage, &c.UsageLimit, &nextResetAt, &balanceUpdatedAt,
		&createdAt, &updatedAt,
	); err != nil {
		return Credential{}, err
	}
	c.Disabled = disabledInt != 0

	var err error
	if c.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
		return Credential{}, err
	}
	if c.DisabledAt, err = parseNullableTime(disabledAt); err != nil {
		return Credential{}, err
	}
	if c.NextResetAt, err = parseNullableTime(nextResetAt); err != nil {
		return Credential{}, err
	}
	if c.BalanceUpdatedAt, err = parseNullableTime(balanceUpdatedAt); err != nil {
		return Credential{}, err
	}
	if c.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Credential{}, err
	}
	if c.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// LoadAll returns every credential ordered by priority ascending, id
// ascending as tie-break.
func (s *Store) LoadAll() ([]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT ` + selectColumns + ` FROM credentials ORDER BY priority ASC, id ASC`)
	if err != nil {
		return nil, errStore("load all credentials", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, errStore("scan credential row", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errStore("iterate credential rows", err)
	}
	return out, nil
}

// Insert assigns a fresh id to c and persists it, returning that id.
func (s *Store) Insert(c Credential) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(`INSERT INTO credentials (
		refresh_token, access_token, expires_at, auth_method, client_id, client_secret,
		profile_arn, machine_id, priority, disabled, disabled_at, failure_count,
		subscription_title, current_usage, usage_limit, next_reset_at, balance_updated_at,
		created_at, updated_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.RefreshToken, c.AccessToken, nullableTime(c.ExpiresAt), string(c.AuthMethod), c.ClientID, c.ClientSecret,
		c.ProfileARN, c.MachineID, c.Priority, boolToInt(c.Disabled), nullableTime(c.DisabledAt), c.FailureCount,
		c.SubscriptionTitle, c.CurrentUsage, c.UsageLimit, nullableTime(c.NextResetAt), nullableTime(c.BalanceUpdatedAt),
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return 0, errStore("insert credential", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errStore("read inserted id", err)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Update performs a full-row replace by id. Fails with KindNotFound if id
// is unknown.
func (s *Store) Update(c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.Exec(`UPDATE credentials SET
		refresh_token=?, access_token=?, expires_at=?, auth_method=?, client_id=?, client_secret=?,
		profile_arn=?, machine_id=?, priority=?, disabled=?, disabled_at=?, failure_count=?,
		subscription_title=?, current_usage=?, usage_limit=?, next_reset_at=?, balance_updated_at=?,
		updated_at=?
		WHERE id=?`,
		c.RefreshToken, c.AccessToken, nullableTime(c.ExpiresAt), string(c.AuthMethod), c.ClientID, c.ClientSecret,
		c.ProfileARN, c.MachineID, c.Priority, boolToInt(c.Disabled), nullableTime(c.DisabledAt), c.FailureCount,
		c.SubscriptionTitle, c.CurrentUsage, c.UsageLimit, nullableTime(c.NextResetAt), nullableTime(c.BalanceUpdatedAt),
		now, c.ID,
	)
	if err != nil {
		return errStore("update credential", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errStore("read rows affected", err)
	}
	if n == 0 {
		return errNotFound(fmt.Sprintf("credential %d not found", c.ID))
	}
	return nil
}

// Delete removes the row with the given id, returning whether a row was
// removed.
func (s *Store) Delete(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM credentials WHERE id=?`, id)
	if err != nil {
		return false, errStore("delete credential", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errStore("read rows affected", err)
	}
	return n > 0, nil
}

// Get returns the credential with the given id, or (Credential{}, false, nil)
// if absent.
func (s *Store) Get(id int64) (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM credentials WHERE id=?`, id)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, errStore("get credential", err)
	}
	return c, true, nil
}

// CountAll returns the number of persisted credentials.
func (s *Store) CountAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scalarCountLocked(`SELECT COUNT(*) FROM credentials`)
}

// CountEnabled returns the number of persisted credentials with disabled=false.
func (s *Store) CountEnabled() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scalarCountLocked(`SELECT COUNT(*) FROM credentials WHERE disabled=0`)
}

func (s *Store) scalarCountLocked(q string) (int, error) {
	var n int
	if err := s.db.QueryRow(q).Scan(&n); err != nil {
		return 0, errStore("count credentials", err)
	}
	return n, nil
}

// UpdateBalance persists the last-observed usage snapshot and stamps
// balance_updated_at = now.
func (s *Store) UpdateBalance(id int64, title string, currentUsage, usageLimit float64, nextResetAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE credentials SET
		subscription_title=?, current_usage=?, usage_limit=?, next_reset_at=?, balance_updated_at=?, updated_at=?
		WHERE id=?`,
		title, currentUsage, usageLimit, nullableTime(nextResetAt), now.Format(timeLayout), now.Format(timeLayout), id,
	)
	if err != nil {
		return false, errStore("update balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errStore("read rows affected", err)
	}
	return n > 0, nil
}

// SetDisabled flips the disabled flag. When flag is true, disabled_at is
// stamped to now; when false, disabled_at is cleared. failure_count is left
// untouched either way.
func (s *Store) SetDisabled(id int64, flag bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	var res sql.Result
	var err error
	if flag {
		res, err = s.db.Exec(`UPDATE credentials SET disabled=1, disabled_at=?, updated_at=? WHERE id=?`, now, now, id)
	} else {
		res, err = s.db.Exec(`UPDATE credentials SET disabled=0, disabled_at=NULL, updated_at=? WHERE id=?`, now, id)
	}
	if err != nil {
		return false, errStore("set disabled", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errStore("read rows affected", err)
	}
	return n > 0, nil
}

// SetPriority updates the priority of a single credential.
func (s *Store) SetPriority(id int64, value uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.Exec(`UPDATE credentials SET priority=?, updated_at=? WHERE id=?`, value, now, id)
	if err != nil {
		return false, errStore("set priority", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errStore("read rows affected", err)
	}
	return n > 0, nil
}

// IncrementFailureCount bumps failure_count by one and returns the new value.
func (s *Store) IncrementFailureCount(id int64) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.db.Exec(`UPDATE credentials SET failure_count = failure_count + 1, updated_at=? WHERE id=?`, now, id); err != nil {
		return 0, errStore("increment failure count", err)
	}
	var n uint32
	if err := s.db.QueryRow(`SELECT failure_count FROM credentials WHERE id=?`, id).Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, errNotFound(fmt.Sprintf("credential %d not found", id))
		}
		return 0, errStore("read failure count", err)
	}
	return n, nil
}

// ResetFailureCount zeroes failure_count.
func (s *Store) ResetFailureCount(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.Exec(`UPDATE credentials SET failure_count=0, updated_at=? WHERE id=?`, now, id)
	if err != nil {
		return false, errStore("reset failure count", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errStore("read rows affected", err)
	}
	return n > 0, nil
}

// ResetAndEnable atomically clears failure_count, disabled and disabled_at.
func (s *Store) ResetAndEnable(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.Exec(`UPDATE credentials SET failure_count=0, disabled=0, disabled_at=NULL, updated_at=? WHERE id=?`, now, id)
	if err != nil {
		return false, errStore("reset and enable", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errStore("read rows affected", err)
	}
	return n > 0, nil
}

// TryRecoverDisabled atomically re-enables every row disabled for longer
// than cooldownSeconds, returning the count of affected rows.
func (s *Store) TryRecoverDisabled(cooldownSeconds int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-time.Duration(cooldownSeconds) * time.Second).Format(timeLayout)
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.Exec(`UPDATE credentials SET disabled=0, disabled_at=NULL, failure_count=0, updated_at=?
		WHERE disabled=1 AND disabled_at IS NOT NULL AND disabled_at < ?`, now, cutoff)
	if err != nil {
		return 0, errStore("recover disabled credentials", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errStore("read rows affected", err)
	}
	return int(n), nil
}

// HighestPriorityEnabled returns the enabled credential with the lowest
// priority, ties broken by id.
func (s *Store) HighestPriorityEnabled() (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT ` + selectColumns + ` FROM credentials WHERE disabled=0 ORDER BY priority ASC, id ASC LIMIT 1`)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, errStore("query highest priority enabled", err)
	}
	return c, true, nil
}

// NextEnabledExcluding returns the same ordering as HighestPriorityEnabled,
// excluding the given id.
func (s *Store) NextEnabledExcluding(id int64) (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM credentials WHERE disabled=0 AND id != ? ORDER BY priority ASC, id ASC LIMIT 1`, id)
	c, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, errStore("query next enabled excluding", err)
	}
	return c, true, nil
}

// ClientIDExists reports whether any row already uses the given client_id.
func (s *Store) ClientIDExists(clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM credentials WHERE client_id=? AND client_id != ''`, clientID).Scan(&n); err != nil {
		return false, errStore("check client id existence", err)
	}
	return n > 0, nil
}
