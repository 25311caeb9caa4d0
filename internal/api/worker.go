package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/HoangAnhDev1805/checkpool/internal/lease"
	"github.com/HoangAnhDev1805/checkpool/internal/model"
)

// Service types multiplexed on the checker endpoint.
const (
	ServiceFetch  = 1
	ServiceReport = 2
)

// TokenHeader carries the worker token when it is not in the body.
const TokenHeader = "X-Checker-Token"

// checkerRequest is the union of fetch and report fields.
type checkerRequest struct {
	Token       string `json:"token"`
	ServiceType int    `json:"service_type"`
	Device      string `json:"device"`

	// Fetch
	Quantity  int    `json:"quantity"`
	CheckType int    `json:"check_type"`
	Content   string `json:"content"`

	// Report
	ItemID  string `json:"item_id"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Origin  string `json:"origin"`
	Locale  string `json:"locale"`
	Issuer  string `json:"issuer"`
	Tier    string `json:"tier"`
	Brand   string `json:"brand"`
	Kind    string `json:"kind"`
}

func (c checkerRequest) metadata() model.ItemMetadata {
	return model.ItemMetadata{
		Origin: c.Origin,
		Locale: c.Locale,
		Issuer: c.Issuer,
		Tier:   c.Tier,
		Brand:  c.Brand,
		Kind:   c.Kind,
	}
}

// LeasedItem is one entry of a fetch response.
type LeasedItem struct {
	ID        string  `json:"Id"`
	Content   string  `json:"Content"`
	CheckType int     `json:"CheckType"`
	Price     float64 `json:"Price"`
}

// HandledResult is the fetch answer for fallback content that already
// has a cached result.
type HandledResult struct {
	Status   model.ItemStatus   `json:"Status"`
	Message  string             `json:"Message,omitempty"`
	Metadata model.ItemMetadata `json:"Metadata"`
}

// caller resolves the worker identity from the body token or the header.
func (s *Server) caller(r *http.Request, bodyToken string) (string, bool) {
	token := strings.TrimSpace(bodyToken)
	if token == "" {
		token = strings.TrimSpace(r.Header.Get(TokenHeader))
	}
	if token == "" {
		return "", false
	}
	caller, ok := s.tokens[token]
	return caller, ok && caller != ""
}

// identify names the worker behind a request the gateway rejected. The body
// has not been validated yet, so a decode failure only drops the body token.
func (s *Server) identify(r *http.Request, body []byte) string {
	var req struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(body, &req)
	if caller, ok := s.caller(r, req.Token); ok {
		return caller
	}
	if strings.TrimSpace(req.Token) != "" || strings.TrimSpace(r.Header.Get(TokenHeader)) != "" {
		return "unrecognized-token"
	}
	return ""
}

func (s *Server) decodeChecker(w http.ResponseWriter, r *http.Request) (checkerRequest, string, bool) {
	var req checkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeWorker(w, ErrorInvalid, "InvalidRequest", "invalid request body", nil)
		return req, "", false
	}
	caller, ok := s.caller(r, req.Token)
	if !ok {
		zap.L().Warn("api: unknown worker token", zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusUnauthorized, WorkerEnvelope{ErrorId: ErrorUnauthorized, Title: "Unauthorized", Message: "invalid token"})
		return req, "", false
	}
	return req, caller, true
}

func (s *Server) handleChecker(w http.ResponseWriter, r *http.Request) {
	req, caller, ok := s.decodeChecker(w, r)
	if !ok {
		return
	}
	switch req.ServiceType {
	case ServiceFetch:
		s.fetch(w, r, req, caller)
	case ServiceReport:
		s.report(w, r, caller, lease.ReportRequest{
			Caller:   caller,
			Device:   req.Device,
			ItemID:   req.ItemID,
			Outcome:  model.Outcome(req.Status),
			Message:  req.Message,
			Metadata: req.metadata(),
		})
	default:
		writeWorker(w, ErrorInvalid, "InvalidRequest", "unknown service type", nil)
	}
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request, req checkerRequest, caller string) {
	qty := req.Quantity
	if qty == 0 {
		qty = 1
	}
	res, err := s.lease.Fetch(r.Context(), lease.FetchRequest{
		Caller:    caller,
		Device:    req.Device,
		Quantity:  qty,
		CheckType: req.CheckType,
		Fallback:  req.Content,
	})
	if err != nil {
		writeWorkerError(w, err)
		return
	}

	if res.Handled != nil {
		writeWorker(w, ErrorOK, "Handled", "content already resolved", HandledResult{
			Status:   res.Handled.Status(),
			Message:  res.Handled.Message,
			Metadata: res.Handled.Metadata,
		})
		return
	}

	items := make([]LeasedItem, 0, len(res.Items))
	for _, it := range res.Items {
		items = append(items, LeasedItem{ID: it.ID, Content: it.Content, CheckType: it.CheckType, Price: it.Price})
	}
	message := "leased"
	if res.Stock == lease.StockEmpty {
		message = "no stock available"
	}
	writeWorker(w, ErrorOK, string(res.Stock), message, items)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request, caller string, req lease.ReportRequest) {
	if _, err := s.lease.Report(r.Context(), req); err != nil {
		writeWorkerError(w, err)
		return
	}
	zap.L().Debug("api: report accepted",
		zap.String("caller", caller),
		zap.String("item_id", req.ItemID),
		zap.Stringer("outcome", req.Outcome),
	)
	writeWorker(w, ErrorReported, "OK", "reported", nil)
}
