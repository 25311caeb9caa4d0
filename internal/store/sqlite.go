package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/HoangAnhDev1805/checkpool/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It suits
// single-process deployments and tests; timestamps are stored as unix
// milliseconds so range comparisons stay numeric.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// SQLite allows a single writer; serialising on one connection turns
	// lock contention into queueing instead of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	check_type     INTEGER NOT NULL DEFAULT 0,
	target_count   INTEGER NOT NULL DEFAULT 0,
	seeded_count   INTEGER NOT NULL DEFAULT 0,
	skipped_count  INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'pending',
	estimated_cost REAL NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	started_at     INTEGER,
	stopped_at     INTEGER,
	updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS work_items (
	id           TEXT PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	content      TEXT NOT NULL,
	owner_id     TEXT NOT NULL,
	session_id   TEXT,
	check_type   INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'pending',
	source       TEXT NOT NULL DEFAULT 'manual',
	billed       INTEGER NOT NULL DEFAULT 0,
	price        REAL NOT NULL DEFAULT 0,
	message      TEXT,
	origin       TEXT NOT NULL DEFAULT '',
	locale       TEXT NOT NULL DEFAULT '',
	issuer       TEXT NOT NULL DEFAULT '',
	tier         TEXT NOT NULL DEFAULT '',
	brand        TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL DEFAULT '',
	leased_by    TEXT,
	leased_at    INTEGER,
	leased_until INTEGER,
	resolved_by  TEXT,
	created_at   INTEGER NOT NULL,
	resolved_at  INTEGER,
	UNIQUE (fingerprint, owner_id)
);

CREATE INDEX IF NOT EXISTS idx_work_items_status_type ON work_items(status, check_type, created_at);
CREATE INDEX IF NOT EXISTS idx_work_items_session ON work_items(session_id);
CREATE INDEX IF NOT EXISTS idx_work_items_fingerprint ON work_items(fingerprint, check_type);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := toMillis(*t)
	return &ms
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanSQLiteItem(row rowScanner) (*model.WorkItem, error) {
	var it model.WorkItem
	var sessionID, message, leasedBy, resolvedBy *string
	var leasedAt, leasedUntil, resolvedAt *int64
	var createdAt int64
	err := row.Scan(
		&it.ID, &it.Fingerprint, &it.Content, &it.OwnerID, &sessionID, &it.CheckType,
		&it.Status, &it.Source, &it.Billed, &it.Price, &message,
		&it.Metadata.Origin, &it.Metadata.Locale, &it.Metadata.Issuer, &it.Metadata.Tier,
		&it.Metadata.Brand, &it.Metadata.Kind,
		&leasedBy, &leasedAt, &leasedUntil, &resolvedBy, &createdAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	it.SessionID = derefString(sessionID)
	it.Message = derefString(message)
	it.LeasedBy = derefString(leasedBy)
	it.ResolvedBy = derefString(resolvedBy)
	it.LeasedAt = fromMillisPtr(leasedAt)
	it.LeasedUntil = fromMillisPtr(leasedUntil)
	it.ResolvedAt = fromMillisPtr(resolvedAt)
	it.CreatedAt = fromMillis(createdAt)
	return &it, nil
}

func collectSQLiteItems(rows *sql.Rows) ([]model.WorkItem, error) {
	defer rows.Close() //nolint:errcheck
	var items []model.WorkItem
	for rows.Next() {
		it, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate items")
}

// queryOneItem runs a RETURNING statement expected to yield at most one row.
func (s *SQLiteStore) queryOneItem(ctx context.Context, query string, args ...any) (*model.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	items, err := collectSQLiteItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, sql.ErrNoRows
	}
	return &items[0], nil
}

func (s *SQLiteStore) InsertItem(ctx context.Context, item model.NewItem) (*model.WorkItem, error) {
	it, err := s.queryOneItem(ctx,
		`INSERT INTO work_items (id, fingerprint, content, owner_id, session_id, check_type, status, source, price, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?)
		 ON CONFLICT (fingerprint, owner_id) DO NOTHING
		 RETURNING `+itemColumns,
		uuid.New().String(), model.Fingerprint(item.Content), item.Content, item.OwnerID,
		nullString(item.SessionID), item.CheckType, string(item.Source), item.Price, toMillis(time.Now()),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDuplicate
		}
		return nil, eris.Wrap(err, "sqlite: insert item")
	}
	return it, nil
}

func (s *SQLiteStore) LeaseItems(ctx context.Context, req LeaseRequest) ([]model.WorkItem, error) {
	if req.Quantity <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`UPDATE work_items SET status = 'leased', leased_by = ?, leased_at = ?, leased_until = ?
		 WHERE id IN (
			SELECT id FROM work_items
			WHERE status = 'pending' AND check_type = ?
			ORDER BY created_at
			LIMIT ?
		 ) AND status = 'pending'
		 RETURNING `+itemColumns,
		req.Holder, toMillis(req.Now), toMillisPtr(req.leasedUntil()), req.CheckType, req.Quantity,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lease items")
	}
	return collectSQLiteItems(rows)
}

func (s *SQLiteStore) LeaseItem(ctx context.Context, itemID string, req LeaseRequest) (*model.WorkItem, error) {
	it, err := s.queryOneItem(ctx,
		`UPDATE work_items SET status = 'leased', leased_by = ?, leased_at = ?, leased_until = ?
		 WHERE id = ? AND status = 'pending'
		 RETURNING `+itemColumns,
		req.Holder, toMillis(req.Now), toMillisPtr(req.leasedUntil()), itemID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missingOrConflict(ctx, itemID)
		}
		return nil, eris.Wrapf(err, "sqlite: lease item %s", itemID)
	}
	return it, nil
}

func (s *SQLiteStore) ResolveItem(ctx context.Context, res Resolution) (*model.WorkItem, error) {
	md := res.Metadata
	it, err := s.queryOneItem(ctx,
		`UPDATE work_items SET status = ?, message = ?, origin = ?, locale = ?, issuer = ?, tier = ?,
			brand = ?, kind = ?, resolved_by = ?, resolved_at = ?, leased_until = NULL
		 WHERE id = ? AND status = 'leased' AND leased_by = ?
		 RETURNING `+itemColumns,
		string(res.Status), nullString(res.Message), md.Origin, md.Locale, md.Issuer, md.Tier,
		md.Brand, md.Kind, nullString(res.ResolvedBy), toMillis(res.Now), res.ItemID, res.Holder,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missingOrConflict(ctx, res.ItemID)
		}
		return nil, eris.Wrapf(err, "sqlite: resolve item %s", res.ItemID)
	}
	return it, nil
}

func (s *SQLiteStore) missingOrConflict(ctx context.Context, itemID string) error {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM work_items WHERE id = ?`, itemID).Scan(&n)
	if err != nil {
		return eris.Wrapf(err, "sqlite: check item %s", itemID)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *SQLiteStore) GetItem(ctx context.Context, itemID string) (*model.WorkItem, error) {
	it, err := s.queryOneItem(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get item %s", itemID)
	}
	return it, nil
}

func (s *SQLiteStore) ListSessionItems(ctx context.Context, sessionID string) ([]model.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE session_id = ? ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list items for session %s", sessionID)
	}
	return collectSQLiteItems(rows)
}

func (s *SQLiteStore) FindResolved(ctx context.Context, fingerprints []string, checkType int) ([]model.WorkItem, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(fingerprints)+1+len(resolvedStatuses))
	for _, fp := range fingerprints {
		args = append(args, fp)
	}
	args = append(args, checkType)
	for _, st := range resolvedStatuses {
		args = append(args, st)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM work_items
		 WHERE fingerprint IN (`+placeholders(len(fingerprints))+`) AND check_type = ?
		   AND status IN (`+placeholders(len(resolvedStatuses))+`)
		 ORDER BY resolved_at DESC`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find resolved")
	}
	return collectSQLiteItems(rows)
}

func (s *SQLiteStore) ReleaseSession(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = 'pending', session_id = NULL, leased_by = NULL, leased_at = NULL, leased_until = NULL
		 WHERE session_id = ? AND status IN ('pending', 'leased')`,
		sessionID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: release session %s", sessionID)
	}
	return rowsAffected(res)
}

func (s *SQLiteStore) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = 'pending', leased_by = NULL, leased_at = NULL, leased_until = NULL
		 WHERE status = 'leased' AND leased_until IS NOT NULL AND leased_until < ?`,
		toMillis(now),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reclaim expired leases")
	}
	return rowsAffected(res)
}

func (s *SQLiteStore) AssignStock(ctx context.Context, sessionID, stockOwner string, checkType, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET session_id = ?, source = 'stock'
		 WHERE id IN (
			SELECT id FROM work_items
			WHERE owner_id = ? AND session_id IS NULL AND status = 'pending' AND check_type = ?
			ORDER BY created_at
			LIMIT ?
		 ) AND session_id IS NULL AND status = 'pending'`,
		sessionID, stockOwner, checkType, n,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: assign stock to session %s", sessionID)
	}
	return rowsAffected(res)
}

func (s *SQLiteStore) CountItems(ctx context.Context) (model.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count items")
	}
	defer rows.Close() //nolint:errcheck

	counts := model.StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item count")
		}
		counts[model.ItemStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate item counts")
}

func (s *SQLiteStore) CountStrandedLeases(ctx context.Context, leasedBefore time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM work_items WHERE status = 'leased' AND leased_at < ?`,
		toMillis(leasedBefore),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count stranded leases")
}

func scanSQLiteSession(row rowScanner) (*model.Session, error) {
	var ss model.Session
	var createdAt, updatedAt int64
	var startedAt, stoppedAt *int64
	err := row.Scan(
		&ss.ID, &ss.OwnerID, &ss.CheckType, &ss.TargetCount, &ss.SeededCount, &ss.SkippedCount,
		&ss.Status, &ss.EstimatedCost, &createdAt, &startedAt, &stoppedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	ss.CreatedAt = fromMillis(createdAt)
	ss.UpdatedAt = fromMillis(updatedAt)
	ss.StartedAt = fromMillisPtr(startedAt)
	ss.StoppedAt = fromMillisPtr(stoppedAt)
	return &ss, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, ss *model.Session) error {
	if ss.ID == "" {
		ss.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	ss.CreatedAt, ss.UpdatedAt = fromMillis(toMillis(now)), fromMillis(toMillis(now))
	if ss.Status == "" {
		ss.Status = model.SessionStatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, check_type, target_count, status, estimated_cost, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ss.ID, ss.OwnerID, ss.CheckType, ss.TargetCount, string(ss.Status), ss.EstimatedCost,
		toMillis(now), toMillis(now),
	)
	return eris.Wrap(err, "sqlite: insert session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	ss, err := scanSQLiteSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get session %s", sessionID)
	}
	return ss, nil
}

func (s *SQLiteStore) TransitionSession(ctx context.Context, sessionID string, from []model.SessionStatus, to model.SessionStatus, now time.Time) (*model.Session, error) {
	started, stopped := sessionTimestamps(to, now)
	args := []any{string(to), toMillis(now), toMillisPtr(started), toMillisPtr(stopped), sessionID}
	for _, st := range statusStrings(from) {
		args = append(args, st)
	}

	rows, err := s.db.QueryContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ?,
			started_at = COALESCE(?, started_at), stopped_at = COALESCE(?, stopped_at)
		 WHERE id = ? AND status IN (`+placeholders(len(from))+`)
		 RETURNING `+sessionColumns,
		args...,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: transition session %s", sessionID)
	}
	defer rows.Close() //nolint:errcheck

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, eris.Wrapf(err, "sqlite: transition session %s", sessionID)
		}
		rows.Close() //nolint:errcheck
		if _, getErr := s.GetSession(ctx, sessionID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConflict
	}
	ss, err := scanSQLiteSession(rows)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan session")
	}
	return ss, nil
}

func (s *SQLiteStore) UpdateSessionCounts(ctx context.Context, sessionID string, seeded, skipped int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET seeded_count = ?, skipped_count = ?, updated_at = ? WHERE id = ?`,
		seeded, skipped, toMillis(time.Now()), sessionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session counts %s", sessionID)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountSessions(ctx context.Context, status model.SessionStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sessions WHERE status = ?`, string(status)).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count sessions")
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	return []byte(value), nil
}

func (s *SQLiteStore) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), toMillis(time.Now()),
	)
	return eris.Wrapf(err, "sqlite: put setting %s", key)
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}
