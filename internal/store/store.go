package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/HoangAnhDev1805/checkpool/internal/model"
)

var (
	// ErrNotFound is returned when the referenced item or session does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a conditional update's status precondition fails.
	ErrConflict = eris.New("store: status precondition failed")
	// ErrDuplicate is returned when (fingerprint, owner) already exists.
	ErrDuplicate = eris.New("store: duplicate fingerprint for owner")
)

// LeaseRequest selects pending items to transition to leased.
type LeaseRequest struct {
	CheckType int
	Quantity  int
	Holder    string
	Now       time.Time
	// TTL stamps leased_until when positive. Zero leaves leases open-ended.
	TTL time.Duration
}

func (r LeaseRequest) leasedUntil() *time.Time {
	if r.TTL <= 0 {
		return nil
	}
	t := r.Now.Add(r.TTL)
	return &t
}

// Resolution describes a leased -> resolved transition. Holder must match
// the item's current leased_by, so a worker whose lease was revoked and
// handed to another cannot resolve it.
type Resolution struct {
	ItemID     string
	Holder     string
	Status     model.ItemStatus
	Message    string
	Metadata   model.ItemMetadata
	ResolvedBy string
	Now        time.Time
}

// Store defines the persistence interface for items, sessions and settings.
//
// Every status change is a single conditional UPDATE carrying its status
// precondition; no operation reads a row and writes it back separately.
type Store interface {
	// Items
	InsertItem(ctx context.Context, item model.NewItem) (*model.WorkItem, error)
	LeaseItems(ctx context.Context, req LeaseRequest) ([]model.WorkItem, error)
	LeaseItem(ctx context.Context, itemID string, req LeaseRequest) (*model.WorkItem, error)
	ResolveItem(ctx context.Context, res Resolution) (*model.WorkItem, error)
	GetItem(ctx context.Context, itemID string) (*model.WorkItem, error)
	ListSessionItems(ctx context.Context, sessionID string) ([]model.WorkItem, error)
	FindResolved(ctx context.Context, fingerprints []string, checkType int) ([]model.WorkItem, error)
	ReleaseSession(ctx context.Context, sessionID string) (int, error)
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)
	AssignStock(ctx context.Context, sessionID, stockOwner string, checkType, n int) (int, error)
	CountItems(ctx context.Context) (model.StatusCounts, error)
	CountStrandedLeases(ctx context.Context, leasedBefore time.Time) (int, error)

	// Sessions
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	TransitionSession(ctx context.Context, sessionID string, from []model.SessionStatus, to model.SessionStatus, now time.Time) (*model.Session, error)
	UpdateSessionCounts(ctx context.Context, sessionID string, seeded, skipped int) error
	CountSessions(ctx context.Context, status model.SessionStatus) (int, error)

	// Settings
	GetSetting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// resolvedStatuses lists the terminal item statuses in query order.
var resolvedStatuses = []string{
	string(model.ItemStatusResolvedSuccess),
	string(model.ItemStatusResolvedFailure),
	string(model.ItemStatusResolvedUnknown),
	string(model.ItemStatusResolvedError),
}

// sessionTimestamps returns the started_at / stopped_at values to stamp for
// a transition into to. Nil leaves the column unchanged.
func sessionTimestamps(to model.SessionStatus, now time.Time) (started, stopped *time.Time) {
	switch to {
	case model.SessionStatusRunning:
		started = &now
	case model.SessionStatusStopped, model.SessionStatusCompleted, model.SessionStatusFailed:
		stopped = &now
	}
	return started, stopped
}

func statusStrings(statuses []model.SessionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// rowScanner is satisfied by pgx.Row, pgx.Rows and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
