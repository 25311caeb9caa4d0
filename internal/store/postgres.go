package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/HoangAnhDev1805/checkpool/internal/db"
	"github.com/HoangAnhDev1805/checkpool/internal/model"
)

// PostgresStore implements Store using pgxpool. It is the only backend that
// is safe to share between independently scaled server processes.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	check_type     INTEGER NOT NULL DEFAULT 0,
	target_count   INTEGER NOT NULL DEFAULT 0,
	seeded_count   INTEGER NOT NULL DEFAULT 0,
	skipped_count  INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'pending',
	estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	stopped_at     TIMESTAMPTZ,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
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
	billed       BOOLEAN NOT NULL DEFAULT false,
	price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	message      TEXT,
	origin       TEXT NOT NULL DEFAULT '',
	locale       TEXT NOT NULL DEFAULT '',
	issuer       TEXT NOT NULL DEFAULT '',
	tier         TEXT NOT NULL DEFAULT '',
	brand        TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL DEFAULT '',
	leased_by    TEXT,
	leased_at    TIMESTAMPTZ,
	leased_until TIMESTAMPTZ,
	resolved_by  TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at  TIMESTAMPTZ,
	UNIQUE (fingerprint, owner_id)
);

CREATE INDEX IF NOT EXISTS idx_work_items_pending ON work_items(check_type, created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_work_items_session ON work_items(session_id);
CREATE INDEX IF NOT EXISTS idx_work_items_leased_until ON work_items(leased_until) WHERE status = 'leased';
CREATE INDEX IF NOT EXISTS idx_work_items_fingerprint ON work_items(fingerprint, check_type);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const itemColumns = `id, fingerprint, content, owner_id, session_id, check_type, status, source, billed, price, message,
	origin, locale, issuer, tier, brand, kind, leased_by, leased_at, leased_until, resolved_by, created_at, resolved_at`

const sessionColumns = `id, owner_id, check_type, target_count, seeded_count, skipped_count, status, estimated_cost,
	created_at, started_at, stopped_at, updated_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func scanPGItem(row rowScanner) (*model.WorkItem, error) {
	var it model.WorkItem
	var sessionID, message, leasedBy, resolvedBy *string
	err := row.Scan(
		&it.ID, &it.Fingerprint, &it.Content, &it.OwnerID, &sessionID, &it.CheckType,
		&it.Status, &it.Source, &it.Billed, &it.Price, &message,
		&it.Metadata.Origin, &it.Metadata.Locale, &it.Metadata.Issuer, &it.Metadata.Tier,
		&it.Metadata.Brand, &it.Metadata.Kind,
		&leasedBy, &it.LeasedAt, &it.LeasedUntil, &resolvedBy, &it.CreatedAt, &it.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	it.SessionID = derefString(sessionID)
	it.Message = derefString(message)
	it.LeasedBy = derefString(leasedBy)
	it.ResolvedBy = derefString(resolvedBy)
	return &it, nil
}

func collectPGItems(rows pgx.Rows) ([]model.WorkItem, error) {
	defer rows.Close()
	var items []model.WorkItem
	for rows.Next() {
		it, err := scanPGItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: iterate items")
}

func (s *PostgresStore) InsertItem(ctx context.Context, item model.NewItem) (*model.WorkItem, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO work_items (id, fingerprint, content, owner_id, session_id, check_type, status, source, price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, $9)
		 ON CONFLICT (fingerprint, owner_id) DO NOTHING
		 RETURNING `+itemColumns,
		uuid.New().String(), model.Fingerprint(item.Content), item.Content, item.OwnerID,
		nullString(item.SessionID), item.CheckType, string(item.Source), item.Price, time.Now().UTC(),
	)
	it, err := scanPGItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDuplicate
		}
		return nil, eris.Wrap(err, "postgres: insert item")
	}
	return it, nil
}

// LeaseItems atomically moves up to req.Quantity pending items of the
// requested check type to leased. SKIP LOCKED lets concurrent callers pick
// disjoint rows without waiting on each other.
func (s *PostgresStore) LeaseItems(ctx context.Context, req LeaseRequest) ([]model.WorkItem, error) {
	if req.Quantity <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE work_items SET status = 'leased', leased_by = $1, leased_at = $2, leased_until = $3
		 WHERE id IN (
			SELECT id FROM work_items
			WHERE status = 'pending' AND check_type = $4
			ORDER BY created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		 ) AND status = 'pending'
		 RETURNING `+itemColumns,
		req.Holder, req.Now, req.leasedUntil(), req.CheckType, req.Quantity,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lease items")
	}
	return collectPGItems(rows)
}

func (s *PostgresStore) LeaseItem(ctx context.Context, itemID string, req LeaseRequest) (*model.WorkItem, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE work_items SET status = 'leased', leased_by = $1, leased_at = $2, leased_until = $3
		 WHERE id = $4 AND status = 'pending'
		 RETURNING `+itemColumns,
		req.Holder, req.Now, req.leasedUntil(), itemID,
	)
	it, err := scanPGItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.missingOrConflict(ctx, itemID)
		}
		return nil, eris.Wrapf(err, "postgres: lease item %s", itemID)
	}
	return it, nil
}

func (s *PostgresStore) ResolveItem(ctx context.Context, res Resolution) (*model.WorkItem, error) {
	md := res.Metadata
	row := s.pool.QueryRow(ctx,
		`UPDATE work_items SET status = $1, message = $2, origin = $3, locale = $4, issuer = $5, tier = $6,
			brand = $7, kind = $8, resolved_by = $9, resolved_at = $10, leased_until = NULL
		 WHERE id = $11 AND status = 'leased' AND leased_by = $12
		 RETURNING `+itemColumns,
		string(res.Status), nullString(res.Message), md.Origin, md.Locale, md.Issuer, md.Tier,
		md.Brand, md.Kind, nullString(res.ResolvedBy), res.Now, res.ItemID, res.Holder,
	)
	it, err := scanPGItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.missingOrConflict(ctx, res.ItemID)
		}
		return nil, eris.Wrapf(err, "postgres: resolve item %s", res.ItemID)
	}
	return it, nil
}

// missingOrConflict distinguishes an unknown id from a failed precondition
// after a conditional update matched no rows.
func (s *PostgresStore) missingOrConflict(ctx context.Context, itemID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM work_items WHERE id = $1)`, itemID).Scan(&exists)
	if err != nil {
		return eris.Wrapf(err, "postgres: check item %s", itemID)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (*model.WorkItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = $1`, itemID)
	it, err := scanPGItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get item %s", itemID)
	}
	return it, nil
}

func (s *PostgresStore) ListSessionItems(ctx context.Context, sessionID string) ([]model.WorkItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE session_id = $1 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list items for session %s", sessionID)
	}
	return collectPGItems(rows)
}

func (s *PostgresStore) FindResolved(ctx context.Context, fingerprints []string, checkType int) ([]model.WorkItem, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM work_items
		 WHERE fingerprint = ANY($1) AND check_type = $2 AND status = ANY($3)
		 ORDER BY resolved_at DESC`,
		fingerprints, checkType, resolvedStatuses,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find resolved")
	}
	return collectPGItems(rows)
}

func (s *PostgresStore) ReleaseSession(ctx context.Context, sessionID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = 'pending', session_id = NULL, leased_by = NULL, leased_at = NULL, leased_until = NULL
		 WHERE session_id = $1 AND status IN ('pending', 'leased')`,
		sessionID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: release session %s", sessionID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = 'pending', leased_by = NULL, leased_at = NULL, leased_until = NULL
		 WHERE status = 'leased' AND leased_until IS NOT NULL AND leased_until < $1`,
		now,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reclaim expired leases")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) AssignStock(ctx context.Context, sessionID, stockOwner string, checkType, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET session_id = $1, source = 'stock'
		 WHERE id IN (
			SELECT id FROM work_items
			WHERE owner_id = $2 AND session_id IS NULL AND status = 'pending' AND check_type = $3
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 ) AND session_id IS NULL AND status = 'pending'`,
		sessionID, stockOwner, checkType, n,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: assign stock to session %s", sessionID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountItems(ctx context.Context) (model.StatusCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count items")
	}
	defer rows.Close()

	counts := model.StatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item count")
		}
		counts[model.ItemStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate item counts")
}

func (s *PostgresStore) CountStrandedLeases(ctx context.Context, leasedBefore time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM work_items WHERE status = 'leased' AND leased_at < $1`,
		leasedBefore,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count stranded leases")
}

func scanPGSession(row rowScanner) (*model.Session, error) {
	var ss model.Session
	err := row.Scan(
		&ss.ID, &ss.OwnerID, &ss.CheckType, &ss.TargetCount, &ss.SeededCount, &ss.SkippedCount,
		&ss.Status, &ss.EstimatedCost, &ss.CreatedAt, &ss.StartedAt, &ss.StoppedAt, &ss.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, ss *model.Session) error {
	if ss.ID == "" {
		ss.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	ss.CreatedAt, ss.UpdatedAt = now, now
	if ss.Status == "" {
		ss.Status = model.SessionStatusPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, owner_id, check_type, target_count, status, estimated_cost, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ss.ID, ss.OwnerID, ss.CheckType, ss.TargetCount, string(ss.Status), ss.EstimatedCost, now, now,
	)
	return eris.Wrap(err, "postgres: insert session")
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	ss, err := scanPGSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get session %s", sessionID)
	}
	return ss, nil
}

func (s *PostgresStore) TransitionSession(ctx context.Context, sessionID string, from []model.SessionStatus, to model.SessionStatus, now time.Time) (*model.Session, error) {
	started, stopped := sessionTimestamps(to, now)
	row := s.pool.QueryRow(ctx,
		`UPDATE sessions SET status = $1, updated_at = $2,
			started_at = COALESCE($3, started_at), stopped_at = COALESCE($4, stopped_at)
		 WHERE id = $5 AND status = ANY($6)
		 RETURNING `+sessionColumns,
		string(to), now, started, stopped, sessionID, statusStrings(from),
	)
	ss, err := scanPGSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.GetSession(ctx, sessionID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrConflict
		}
		return nil, eris.Wrapf(err, "postgres: transition session %s", sessionID)
	}
	return ss, nil
}

func (s *PostgresStore) UpdateSessionCounts(ctx context.Context, sessionID string, seeded, skipped int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET seeded_count = $1, skipped_count = $2, updated_at = $3 WHERE id = $4`,
		seeded, skipped, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session counts %s", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountSessions(ctx context.Context, status model.SessionStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE status = $1`, string(status)).Scan(&n)
	return n, eris.Wrap(err, "postgres: count sessions")
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return value, nil
}

func (s *PostgresStore) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3`,
		key, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put setting %s", key)
}
