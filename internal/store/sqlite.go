package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Options tune the SQLite connection.
type Options struct {
	// Memory keeps the journal in a shared in-memory database.
	Memory bool

	// BusyTimeoutMs is the SQLite busy handler timeout.
	BusyTimeoutMs int

	// MaxConnections caps the connection pool.
	MaxConnections int
}

// DefaultOptions match the config-file defaults.
func DefaultOptions() Options {
	return Options{
		BusyTimeoutMs:  5000,
		MaxConnections: 5,
	}
}

// Store is the SQLite activation journal.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at the given path and applies
// pending migrations.
func Open(path string, opts Options) (*Store, error) {
	var dsn string
	if opts.Memory {
		// One shared database across the pool; a plain :memory: DSN
		// would give every pooled connection its own empty database.
		dsn = "file:layerd-journal?mode=memory&cache=shared"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=on",
			path, opts.BusyTimeoutMs)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if opts.MaxConnections > 0 {
		db.SetMaxOpenConns(opts.MaxConnections)
	}
	if opts.Memory {
		// The shared cache database dies with its last connection.
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the connection, for health probes.
func (s *Store) Ping() error {
	if s.db == nil {
		return errors.New("store: not open")
	}
	return s.db.Ping()
}

// BeginSession records a daemon run.
func (s *Store) BeginSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, started_at, hostname, version)
		VALUES (?, ?, ?, ?)`,
		sess.ID, sess.StartedAt, sess.Hostname, sess.Version,
	)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	return nil
}

// EndSession closes a daemon run row.
func (s *Store) EndSession(id string, endedAt int64) error {
	_, err := s.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, endedAt, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession retrieves a daemon run by ID.
func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(`
		SELECT id, started_at, ended_at, hostname, version
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.StartedAt, &sess.EndedAt, &sess.Hostname, &sess.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// RecordActivation opens a new activation interval and returns its ID.
func (s *Store) RecordActivation(a *Activation) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO activations (session, device, layer, activated_at)
		VALUES (?, ?, ?, ?)`,
		a.Session, a.Device, a.Layer, a.ActivatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("record activation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// CloseActivation stamps the end of an activation interval.
func (s *Store) CloseActivation(id int64, deactivatedAt int64, cause string) error {
	result, err := s.db.Exec(`
		UPDATE activations SET deactivated_at = ?, cause = ?
		WHERE id = ? AND deactivated_at IS NULL`,
		deactivatedAt, cause, id,
	)
	if err != nil {
		return fmt.Errorf("close activation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("activation not open: %d", id)
	}
	return nil
}

// CloseOpenActivations sweeps every open interval of a session, used
// on shutdown and crash recovery. An empty session sweeps all
// sessions.
func (s *Store) CloseOpenActivations(session string, at int64, cause string) (int64, error) {
	query := `UPDATE activations SET deactivated_at = ?, cause = ? WHERE deactivated_at IS NULL`
	args := []any{at, cause}
	if session != "" {
		query += ` AND session = ?`
		args = append(args, session)
	}

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("close open activations: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return affected, nil
}

// RecordSuppression bumps the counter row for a blocked activation
// attempt, creating it on first sight.
func (s *Store) RecordSuppression(session, device string, layer int, reason string, at int64) error {
	_, err := s.db.Exec(`
		INSERT INTO suppressions (session, device, layer, reason, count, first_at, last_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(session, device, layer, reason)
		DO UPDATE SET count = count + 1, last_at = excluded.last_at`,
		session, device, layer, reason, at, at,
	)
	if err != nil {
		return fmt.Errorf("record suppression: %w", err)
	}
	return nil
}

// RecentActivations returns the newest activation rows, most recent
// first.
func (s *Store) RecentActivations(limit int) ([]Activation, error) {
	rows, err := s.db.Query(`
		SELECT id, session, device, layer, activated_at, deactivated_at, COALESCE(cause, '')
		FROM activations
		ORDER BY activated_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent activations: %w", err)
	}
	defer rows.Close()

	return scanActivations(rows)
}

// ActivationsSince returns activations newer than the cutoff, oldest
// first.
func (s *Store) ActivationsSince(sinceNs int64) ([]Activation, error) {
	rows, err := s.db.Query(`
		SELECT id, session, device, layer, activated_at, deactivated_at, COALESCE(cause, '')
		FROM activations
		WHERE activated_at >= ?
		ORDER BY activated_at ASC`, sinceNs,
	)
	if err != nil {
		return nil, fmt.Errorf("query activations since: %w", err)
	}
	defer rows.Close()

	return scanActivations(rows)
}

// LayerTotals aggregates per-layer counts and closed-interval time.
func (s *Store) LayerTotals() ([]LayerTotal, error) {
	rows, err := s.db.Query(`
		SELECT layer,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN deactivated_at IS NOT NULL
		                         THEN (deactivated_at - activated_at) / 1000000
		                         ELSE 0 END), 0)
		FROM activations
		GROUP BY layer
		ORDER BY layer ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query layer totals: %w", err)
	}
	defer rows.Close()

	var totals []LayerTotal
	for rows.Next() {
		var t LayerTotal
		if err := rows.Scan(&t.Layer, &t.Activations, &t.ActiveMs); err != nil {
			return nil, fmt.Errorf("scan layer total: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate layer totals: %w", err)
	}
	return totals, nil
}

// SuppressionTotals returns the counter rows for a session, every
// session when the argument is empty.
func (s *Store) SuppressionTotals(session string) ([]Suppression, error) {
	query := `
		SELECT id, session, device, layer, reason, count, first_at, last_at
		FROM suppressions`
	args := []any{}
	if session != "" {
		query += ` WHERE session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY last_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query suppressions: %w", err)
	}
	defer rows.Close()

	var sups []Suppression
	for rows.Next() {
		var sup Suppression
		if err := rows.Scan(&sup.ID, &sup.Session, &sup.Device, &sup.Layer,
			&sup.Reason, &sup.Count, &sup.FirstAt, &sup.LastAt); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		sups = append(sups, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suppressions: %w", err)
	}
	return sups, nil
}

// Prune drops journal rows older than the retention window and
// returns how many went.
func (s *Store) Prune(retainDays int) (int64, error) {
	if retainDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retainDays).UnixNano()

	var total int64
	for _, q := range []string{
		`DELETE FROM activations WHERE activated_at < ?`,
		`DELETE FROM suppressions WHERE last_at < ?`,
		`DELETE FROM sessions WHERE started_at < ? AND ended_at IS NOT NULL`,
	} {
		result, err := s.db.Exec(q, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune journal: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("get rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// scanActivations is a helper to scan activation rows into a slice.
func scanActivations(rows *sql.Rows) ([]Activation, error) {
	var acts []Activation
	for rows.Next() {
		var a Activation
		if err := rows.Scan(&a.ID, &a.Session, &a.Device, &a.Layer,
			&a.ActivatedAt, &a.DeactivatedAt, &a.Cause); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		acts = append(acts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activations: %w", err)
	}
	return acts, nil
}
