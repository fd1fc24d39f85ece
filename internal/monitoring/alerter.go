package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureBurst  AlertType = "failure_burst"
	AlertCreditOverrun AlertType = "credit_overrun"
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
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.FailureThreshold > 0 && snap.FailedQueries >= a.cfg.FailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureBurst,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d failed lookups in last %dh (threshold %d)",
				snap.FailedQueries, snap.LookbackHours, a.cfg.FailureThreshold,
			),
			Details: map[string]any{
				"failed":      snap.FailedQueries,
				"threshold":   a.cfg.FailureThreshold,
				"by_kind":     snap.FailuresByKind,
				"batch_state": snap.BatchState,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CreditThreshold > 0 && snap.CreditDelta > a.cfg.CreditThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCreditOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"%.2f lookup credits charged since last check exceeds threshold %.2f",
				snap.CreditDelta, a.cfg.CreditThreshold,
			),
			Details: map[string]any{
				"credit_delta":  snap.CreditDelta,
				"total_credits": snap.TotalCredits,
				"threshold":     a.cfg.CreditThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
