package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/HoangAnhDev1805/checkpool/internal/lease"
	"github.com/HoangAnhDev1805/checkpool/internal/legacy"
)

// LegacyItem is the legacy view of one item.
type LegacyItem struct {
	ID     string      `json:"Id"`
	Status legacy.Code `json:"Status"`
}

// handleLegacyItem answers with the numeric legacy status of an item. The
// worker token travels in the header on GET.
func (s *Server) handleLegacyItem(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.caller(r, ""); !ok {
		writeJSON(w, http.StatusUnauthorized, WorkerEnvelope{ErrorId: ErrorUnauthorized, Title: "Unauthorized", Message: "invalid token"})
		return
	}
	id := chi.URLParam(r, "id")
	it, err := s.items.GetItem(r.Context(), id)
	if err != nil {
		writeWorkerError(w, err)
		return
	}
	code, err := legacy.FromStatus(it.Status)
	if err != nil {
		writeWorkerError(w, err)
		return
	}
	writeWorker(w, ErrorOK, "OK", "", LegacyItem{ID: it.ID, Status: code})
}

// handleLegacyReport accepts a report whose status is a legacy code and
// runs it through the normal report operation.
func (s *Server) handleLegacyReport(w http.ResponseWriter, r *http.Request) {
	req, caller, ok := s.decodeChecker(w, r)
	if !ok {
		return
	}
	outcome, err := legacy.ToOutcome(legacy.Code(req.Status))
	if err != nil {
		writeWorkerError(w, err)
		return
	}
	s.report(w, r, caller, lease.ReportRequest{
		Caller:   caller,
		Device:   req.Device,
		ItemID:   req.ItemID,
		Outcome:  outcome,
		Message:  req.Message,
		Metadata: req.metadata(),
	})
}
