// Package session gives operators a start/stop/status view over a batch of
// work items. Item movement itself is left to the lease protocol.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/cost"
	"github.com/HoangAnhDev1805/checkpool/internal/model"
	"github.com/HoangAnhDev1805/checkpool/internal/store"
)

// MaxItems bounds the inline item list of one start request.
const MaxItems = 10000

// ErrInvalid marks start/stop requests rejected before touching the store.
var ErrInvalid = eris.New("session: invalid request")

// Evictor releases a session's unresolved items back to the pool.
type Evictor interface {
	Evict(ctx context.Context, sessionID string) (int, error)
}

// Manager drives the session state machine.
type Manager struct {
	store      store.Store
	evictor    Evictor
	pricing    *cost.Calculator
	stockOwner string

	now func() time.Time
}

// NewManager creates a Manager. stockOwner identifies the pooled stock that
// target-count sessions draw from.
func NewManager(st store.Store, ev Evictor, pricing *cost.Calculator, stockOwner string) *Manager {
	if pricing == nil {
		pricing = cost.NewCalculator(cost.Rates{})
	}
	return &Manager{store: st, evictor: ev, pricing: pricing, stockOwner: stockOwner, now: time.Now}
}

// StartRequest creates a session from inline content or, when Items is
// empty, from TargetCount items of pooled stock.
type StartRequest struct {
	OwnerID     string
	CheckType   int
	Items       []string
	TargetCount int
}

func (r StartRequest) validate() error {
	if r.OwnerID == "" {
		return eris.Wrap(ErrInvalid, "session: owner is required")
	}
	if r.CheckType < 0 {
		return eris.Wrapf(ErrInvalid, "session: check type %d", r.CheckType)
	}
	if len(r.Items) == 0 && r.TargetCount <= 0 {
		return eris.Wrap(ErrInvalid, "session: items or a target count are required")
	}
	if len(r.Items) > MaxItems || r.TargetCount > MaxItems {
		return eris.Wrapf(ErrInvalid, "session: more than %d items", MaxItems)
	}
	return nil
}

// Start creates the session, seeds its items and marks it running.
// Duplicate content for the same owner is skipped and counted; any other
// seeding failure leaves the session failed.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*model.Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	contents := make([]string, 0, len(req.Items))
	for _, c := range req.Items {
		if c = strings.TrimSpace(c); c != "" {
			contents = append(contents, c)
		}
	}
	target := req.TargetCount
	if len(req.Items) > 0 {
		if len(contents) == 0 {
			return nil, eris.Wrap(ErrInvalid, "session: all items are empty")
		}
		target = len(contents)
	}

	now := m.now()
	s := &model.Session{
		ID:            uuid.New().String(),
		OwnerID:       req.OwnerID,
		CheckType:     req.CheckType,
		TargetCount:   target,
		Status:        model.SessionStatusPending,
		EstimatedCost: m.pricing.Estimate(req.CheckType, target),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, eris.Wrap(err, "session: create")
	}

	seeded, skipped, err := m.seed(ctx, s, contents)
	if err != nil {
		m.fail(ctx, s.ID)
		return nil, err
	}
	if err := m.store.UpdateSessionCounts(ctx, s.ID, seeded, skipped); err != nil {
		m.fail(ctx, s.ID)
		return nil, eris.Wrapf(err, "session: record counts for %s", s.ID)
	}

	running, err := m.store.TransitionSession(ctx, s.ID,
		[]model.SessionStatus{model.SessionStatusPending}, model.SessionStatusRunning, m.now())
	if err != nil {
		return nil, eris.Wrapf(err, "session: start %s", s.ID)
	}

	zap.L().Info("session: started",
		zap.String("session_id", s.ID),
		zap.String("owner_id", s.OwnerID),
		zap.Int("target", target),
		zap.Int("seeded", seeded),
		zap.Int("skipped", skipped),
		zap.Float64("estimated_cost", s.EstimatedCost),
	)
	return running, nil
}

func (m *Manager) seed(ctx context.Context, s *model.Session, contents []string) (seeded, skipped int, err error) {
	if len(contents) == 0 {
		n, err := m.store.AssignStock(ctx, s.ID, m.stockOwner, s.CheckType, s.TargetCount)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "session: assign stock to %s", s.ID)
		}
		return n, 0, nil
	}

	price := m.pricing.PerItem(s.CheckType)
	for _, c := range contents {
		_, err := m.store.InsertItem(ctx, model.NewItem{
			Content:   c,
			OwnerID:   s.OwnerID,
			SessionID: s.ID,
			CheckType: s.CheckType,
			Source:    model.CheckSourceManual,
			Price:     price,
		})
		if errors.Is(err, store.ErrDuplicate) {
			skipped++
			continue
		}
		if err != nil {
			return seeded, skipped, eris.Wrapf(err, "session: seed item for %s", s.ID)
		}
		seeded++
	}
	return seeded, skipped, nil
}

func (m *Manager) fail(ctx context.Context, id string) {
	_, err := m.store.TransitionSession(ctx, id,
		[]model.SessionStatus{model.SessionStatusPending, model.SessionStatusRunning}, model.SessionStatusFailed, m.now())
	if err != nil {
		zap.L().Error("session: mark failed", zap.String("session_id", id), zap.Error(err))
	}
}

// StopResult reports the session after a stop and how many items it released.
type StopResult struct {
	Session  *model.Session `json:"session"`
	Released int            `json:"released"`
}

// Stop marks the session stopping, evicts its unresolved items and marks it
// stopped. Stopping an already finished session changes nothing. A session
// left in stopping by an interrupted stop is finished by the next call.
func (m *Manager) Stop(ctx context.Context, id string) (*StopResult, error) {
	if id == "" {
		return nil, eris.Wrap(ErrInvalid, "session: id is required")
	}
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "session: stop %s", id)
	}
	if s.Status.Terminal() {
		return &StopResult{Session: s}, nil
	}

	if s.Status.Stoppable() {
		_, err := m.store.TransitionSession(ctx, id, []model.SessionStatus{s.Status}, model.SessionStatusStopping, m.now())
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return nil, eris.Wrapf(err, "session: mark %s stopping", id)
		}
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with another stop or an auto-complete; re-read.
			if s, err = m.store.GetSession(ctx, id); err != nil {
				return nil, eris.Wrapf(err, "session: stop %s", id)
			}
			if s.Status.Terminal() {
				return &StopResult{Session: s}, nil
			}
		}
	}

	released, err := m.evictor.Evict(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "session: evict %s", id)
	}

	stopped, err := m.store.TransitionSession(ctx, id,
		[]model.SessionStatus{model.SessionStatusStopping}, model.SessionStatusStopped, m.now())
	if errors.Is(err, store.ErrConflict) {
		if stopped, err = m.store.GetSession(ctx, id); err != nil {
			return nil, eris.Wrapf(err, "session: stop %s", id)
		}
		return &StopResult{Session: stopped, Released: released}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "session: mark %s stopped", id)
	}

	zap.L().Info("session: stopped", zap.String("session_id", id), zap.Int("released", released))
	return &StopResult{Session: stopped, Released: released}, nil
}

// View is the status of a session and of every item still attached to it.
type View struct {
	Session *model.Session     `json:"session"`
	Items   []model.WorkItem   `json:"items"`
	Counts  model.StatusCounts `json:"counts"`
}

// Status reads the session and its items straight from the store. A running
// session whose items are all resolved is marked completed on the way.
func (m *Manager) Status(ctx context.Context, id string) (*View, error) {
	if id == "" {
		return nil, eris.Wrap(ErrInvalid, "session: id is required")
	}
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "session: status %s", id)
	}
	items, err := m.store.ListSessionItems(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "session: list items for %s", id)
	}

	counts := model.StatusCounts{}
	for _, it := range items {
		counts[it.Status]++
	}

	if s.Status == model.SessionStatusRunning && len(items) > 0 && counts.Unresolved() == 0 {
		done, err := m.store.TransitionSession(ctx, id,
			[]model.SessionStatus{model.SessionStatusRunning}, model.SessionStatusCompleted, m.now())
		switch {
		case err == nil:
			s = done
			zap.L().Info("session: completed", zap.String("session_id", id), zap.Int("items", len(items)))
		case errors.Is(err, store.ErrConflict):
			if s, err = m.store.GetSession(ctx, id); err != nil {
				return nil, eris.Wrapf(err, "session: status %s", id)
			}
		default:
			return nil, eris.Wrapf(err, "session: complete %s", id)
		}
	}

	if items == nil {
		items = []model.WorkItem{}
	}
	return &View{Session: s, Items: items, Counts: counts}, nil
}
