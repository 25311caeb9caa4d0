package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/HoangAnhDev1805/checkpool/internal/lease"
	"github.com/HoangAnhDev1805/checkpool/internal/session"
)

type startSessionRequest struct {
	OwnerID     string   `json:"owner_id"`
	CheckType   int      `json:"check_type"`
	Items       []string `json:"items"`
	TargetCount int      `json:"target_count"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	sess, err := s.sessions.Start(r.Context(), session.StartRequest{
		OwnerID:     req.OwnerID,
		CheckType:   req.CheckType,
		Items:       req.Items,
		TargetCount: req.TargetCount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, "session started", sess)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.sessions.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "session stopped", res)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.sessions.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "", view)
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	n, err := s.lease.Evict(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "items released", map[string]int{"released": n})
}

type lookupRequest struct {
	CheckType    int      `json:"check_type"`
	Fingerprints []string `json:"fingerprints"`
	Items        []string `json:"items"`
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	hits, err := s.lease.Lookup(r.Context(), lease.LookupRequest{
		CheckType:    req.CheckType,
		Fingerprints: req.Fingerprints,
		Contents:     req.Items,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]lease.LookupHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	writeOK(w, http.StatusOK, "", out)
}
