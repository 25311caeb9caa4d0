package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HoangAnhDev1805/checkpool/internal/config"
	"github.com/HoangAnhDev1805/checkpool/internal/cost"
	"github.com/HoangAnhDev1805/checkpool/internal/lease"
	"github.com/HoangAnhDev1805/checkpool/internal/model"
	"github.com/HoangAnhDev1805/checkpool/internal/store"
)

type harness struct {
	mgr   *Manager
	lease *lease.Service
	store *store.SQLiteStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	pricing := cost.NewCalculator(cost.Rates{DefaultPerItem: 0.5, PerCheckType: map[int]float64{2: 1.25}})
	svc := lease.NewService(lease.Deps{Store: st, Pricing: pricing, Config: config.LeaseConfig{StockOwner: "stock"}})
	return &harness{
		mgr:   NewManager(st, svc, pricing, "stock"),
		lease: svc,
		store: st,
	}
}

func (h *harness) fetchAll(t *testing.T, checkType int) []model.WorkItem {
	t.Helper()
	res, err := h.lease.Fetch(context.Background(), lease.FetchRequest{Caller: "w", Quantity: 50, CheckType: checkType})
	require.NoError(t, err)
	return res.Items
}

type failingEvictor struct{ err error }

func (f failingEvictor) Evict(context.Context, string) (int, error) { return 0, f.err }

func TestStart_SeedsInlineItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.mgr.Start(ctx, StartRequest{
		OwnerID:   "u1",
		CheckType: 2,
		Items:     []string{"a", "b", " ", "c", "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusRunning, s.Status)
	assert.Equal(t, 4, s.TargetCount)
	assert.Equal(t, 3, s.SeededCount)
	assert.Equal(t, 1, s.SkippedCount)
	assert.InDelta(t, 5.0, s.EstimatedCost, 1e-9)
	assert.NotNil(t, s.StartedAt)

	items, err := h.store.ListSessionItems(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, model.ItemStatusPending, it.Status)
		assert.Equal(t, model.CheckSourceManual, it.Source)
		assert.Equal(t, "u1", it.OwnerID)
		assert.InDelta(t, 1.25, it.Price, 1e-9)
	}
}

func TestStart_DuplicateAcrossSessionsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, StartRequest{OwnerID: "u1", CheckType: 1, Items: []string{"x", "y"}})
	require.NoError(t, err)
	s, err := h.mgr.Start(ctx, StartRequest{OwnerID: "u1", CheckType: 1, Items: []string{"y", "z"}})
	require.NoError(t, err)
	assert.Equal(t, 1, s.SeededCount)
	assert.Equal(t, 1, s.SkippedCount)

	other, err := h.mgr.Start(ctx, StartRequest{OwnerID: "u2", CheckType: 1, Items: []string{"y"}})
	require.NoError(t, err)
	assert.Equal(t, 1, other.SeededCount, "uniqueness is per owner")
}

func TestStart_AssignsStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.store.InsertItem(ctx, model.NewItem{Content: fmt.Sprintf("stock-%d", i), OwnerID: "stock", CheckType: 1})
		require.NoError(t, err)
	}

	s, err := h.mgr.Start(ctx, StartRequest{OwnerID: "u1", CheckType: 1, TargetCount: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, s.TargetCount)
	assert.Equal(t, 3, s.SeededCount)
	assert.InDelta(t, 2.5, s.EstimatedCost, 1e-9)

	items, err := h.store.ListSessionItems(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, model.CheckSourceStock, it.Source)
	}
}

func TestStart_Invalid(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  StartRequest
	}{
		{"no owner", StartRequest{Items: []string{"a"}}},
		{"nothing to do", StartRequest{OwnerID: "u1"}},
		{"only blanks", StartRequest{OwnerID: "u1", Items: []string{" ", ""}}},
		{"negative check type", StartRequest{OwnerID: "u1", CheckType: -2, TargetCount: 1}},
		{"too many", StartRequest{OwnerID: "u1", TargetCount: MaxItems + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.mgr.Start(context.Background(), tt.req)
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestStop_ReleasesLeasedItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.mgr.Start(ctx, StartRequest{OwnerID: "u1", CheckType: 1, Items: []string{"a", "b", "c"}})
	require.NoError(t, err)
	leased := h.fetchAll(t, 1)
	require.Len(t, leased, 3)
	_, err = h.lease.Report(ctx, lease.ReportRequest{Caller: "w", ItemID: leased[0].ID, Outcome: model.OutcomeFailure})
	require.NoError(t, err)

	res, err := h.mgr.Stop(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusStopped, res.Session.Status)
	assert.Equal(t, 2, res.Released)
	assert.NotNil(t, res.Session.StoppedAt)

	for _, it := range leased[1:] {
		got, err := h.store.GetItem(ctx, it.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ItemStatusPending, got.Status)
		assert.Empty(t, got.SessionID)
	}
	got, err := h.store.GetItem(ctx, leased[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusResolvedFailure, got.Status)
	assert.Equal(t, s.ID, got.SessionID)

	again, err := h.mgr.Stop(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusStopped, again.Session.Status)
	assert.Zero(t, again.Released)
}

func TestStop_EvictionFailureLeavesStopping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.mgr.Start(ctx, StartRequest{OwnerID: "u1", CheckType: 1, Items: []string{"a"}})
	require.NoError(t, err)

	broken := NewManager(h.store, failingEvictor{err: errors.New("connection refused")}, nil, "stock")
	_, err = broken.Stop(ctx, s.ID)
	require.Error(t, err)

	got, err := h.store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusStopping, got.Status)

	res, err := h.mgr.Stop(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusStopped, res.Session.Status)
	assert.Equal(t, 1, res.Released)
}

func TestStop_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Stop(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	_, err = h.mgr.Stop(context.Background(), "")
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestStatus_ReflectsReportsAndAutoCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.mgr.Start(ctx, StartRequest{OwnerID: "u1", CheckType: 1, Items: []string{"a", "b"}})
	require.NoError(t, err)

	view, err := h.mgr.Status(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusRunning, view.Session.Status)
	assert.Equal(t, 2, view.Counts[model.ItemStatusPending])

	leased := h.fetchAll(t, 1)
	require.Len(t, leased, 2)
	_, err = h.lease.Report(ctx, lease.ReportRequest{Caller: "w", ItemID: leased[0].ID, Outcome: model.OutcomeSuccess})
	require.NoError(t, err)

	view, err = h.mgr.Status(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusRunning, view.Session.Status)
	assert.Equal(t, 1, view.Counts[model.ItemStatusLeased])
	assert.Equal(t, 1, view.Counts[model.ItemStatusResolvedSuccess])

	_, err = h.lease.Report(ctx, lease.ReportRequest{
		Caller: "w", ItemID: leased[1].ID, Outcome: model.OutcomeFailure,
		Metadata: model.ItemMetadata{Issuer: "acme"},
	})
	require.NoError(t, err)

	view, err = h.mgr.Status(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, view.Session.Status)
	assert.NotNil(t, view.Session.StoppedAt)
	require.Len(t, view.Items, 2)
	var issuers []string
	for _, it := range view.Items {
		issuers = append(issuers, it.Metadata.Issuer)
	}
	assert.Contains(t, issuers, "acme")

	res, err := h.mgr.Stop(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, res.Session.Status, "stop after completion is a no-op")
}

func TestStatus_EmptySessionStaysRunning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.mgr.Start(ctx, StartRequest{OwnerID: "u1", CheckType: 1, TargetCount: 2})
	require.NoError(t, err)

	view, err := h.mgr.Status(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusRunning, view.Session.Status)
	assert.NotNil(t, view.Items)
	assert.Empty(t, view.Items)
}

func TestStatus_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Status(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
}
