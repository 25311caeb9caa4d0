package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/HoangAnhDev1805/checkpool/internal/config"
	"github.com/HoangAnhDev1805/checkpool/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStoreUnavailable AlertType = "store_unavailable"
	AlertStrandedLeases   AlertType = "stranded_leases"
	AlertPendingBacklog   AlertType = "pending_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	backoff resilience.Backoff
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		backoff: resilience.DefaultBackoff("monitoring: webhook"),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := time.Now().UTC()

	// Nothing else is meaningful without the store.
	if !snap.StoreReachable {
		return []Alert{{
			Type:      AlertStoreUnavailable,
			Severity:  "critical",
			Message:   "Item store is unreachable: " + snap.StoreError,
			Details:   map[string]any{"error": snap.StoreError},
			Timestamp: now,
		}}
	}

	var alerts []Alert
	if a.cfg.StrandedLeaseThreshold > 0 && snap.StrandedLeases >= a.cfg.StrandedLeaseThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertStrandedLeases,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d items leased for more than %d minutes (threshold %d)",
				snap.StrandedLeases, snap.StrandedAgeMins, a.cfg.StrandedLeaseThreshold,
			),
			Details: map[string]any{
				"stranded":  snap.StrandedLeases,
				"threshold": a.cfg.StrandedLeaseThreshold,
				"age_mins":  snap.StrandedAgeMins,
			},
			Timestamp: now,
		})
	}

	if a.cfg.PendingBacklogThreshold > 0 && snap.Pending >= a.cfg.PendingBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPendingBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d pending items exceed backlog threshold %d",
				snap.Pending, a.cfg.PendingBacklogThreshold,
			),
			Details: map[string]any{
				"pending":          snap.Pending,
				"threshold":        a.cfg.PendingBacklogThreshold,
				"running_sessions": snap.RunningSessions,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Enabled reports whether a webhook is configured.
func (a *Alerter) Enabled() bool {
	return a.cfg.WebhookURL != ""
}

// Notification is the webhook body: every alert raised by one check.
type Notification struct {
	Service string    `json:"service"`
	Alerts  []Alert   `json:"alerts"`
	SentAt  time.Time `json:"sent_at"`
}

// Notify posts alerts to the webhook as a single notification, retrying
// transient failures. It does nothing without a webhook URL.
func (a *Alerter) Notify(ctx context.Context, alerts []Alert) error {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}
	payload, err := json.Marshal(Notification{Service: "checkpool", Alerts: alerts, SentAt: time.Now().UTC()})
	if err != nil {
		return eris.Wrap(err, "monitoring: encode notification")
	}
	return resilience.Retry(ctx, a.backoff, func(ctx context.Context) error {
		return a.post(ctx, payload)
	})
}

func (a *Alerter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode < 300:
		return nil
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook answered %d", resp.StatusCode), resp.StatusCode)
	default:
		return eris.Errorf("monitoring: webhook rejected notification with %d", resp.StatusCode)
	}
}
