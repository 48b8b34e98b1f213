package cloud

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/benbjohnson/clock"
	"github.com/farmguard/farmguard/internal/domain"
)

// Alert record field names on the wire.
const (
	fieldAlertID     = "alert_id"
	fieldAnimal      = "animal"
	fieldConfidence  = "confidence"
	fieldTimestamp   = "timestamp"
	fieldStatus      = "status"
	fieldUserID      = "user_id"
	fieldLocation    = "location"
	fieldLastUpdated = "last_updated"
)

// ChannelConfig identifies this deployment in the alert record.
type ChannelConfig struct {
	UserID   string
	Location string
}

// Channel is the primary alert transport. It is a stateless transport: it
// owns the store connection and no incident state. Errors never cross the
// transport boundary; they degrade into boolean or option outcomes.
type Channel struct {
	cfg    ChannelConfig
	store  Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewChannel creates a channel over an open store.
func NewChannel(cfg ChannelConfig, store Store, clk clock.Clock, logger *slog.Logger) *Channel {
	return &Channel{cfg: cfg, store: store, clock: clk, logger: logger}
}

// Publish upserts the alert record with status PENDING and a
// server-assigned timestamp. Returns false on any connectivity, auth, or
// write error.
func (c *Channel) Publish(ctx context.Context, alertID, animal string, confidence float64) bool {
	data := map[string]any{
		fieldAlertID:    alertID,
		fieldAnimal:     animal,
		fieldConfidence: confidence,
		fieldTimestamp:  firestore.ServerTimestamp,
		fieldStatus:     string(domain.AlertStatusPending),
		fieldUserID:     c.cfg.UserID,
		fieldLocation:   c.cfg.Location,
	}

	if err := c.store.Set(ctx, alertID, data); err != nil {
		c.logger.Error("alert publish failed", "alert_id", alertID, "error", err)
		return false
	}

	c.logger.Info("alert published", "alert_id", alertID, "animal", animal, "confidence", confidence)
	return true
}

// ReadStatus returns the alert's current status. The second return is false
// when the document does not exist, the status field is unusable, or the
// read failed.
func (c *Channel) ReadStatus(ctx context.Context, alertID string) (domain.AlertStatus, bool) {
	data, found, err := c.store.Get(ctx, alertID)
	if err != nil {
		c.logger.Warn("alert status read failed", "alert_id", alertID, "error", err)
		return "", false
	}
	if !found {
		return "", false
	}

	raw, _ := data[fieldStatus].(string)
	parsed, ok := domain.ParseAlertStatus(raw)
	if !ok {
		c.logger.Warn("alert record has unknown status", "alert_id", alertID, "status", raw)
		return "", false
	}
	return parsed, true
}

// SetStatus updates the alert's status and last_updated timestamp.
// Best-effort: failures are logged and swallowed, the cloud may well be
// down when this runs.
func (c *Channel) SetStatus(ctx context.Context, alertID string, alertStatus domain.AlertStatus) {
	fields := map[string]any{
		fieldStatus:      string(alertStatus),
		fieldLastUpdated: c.clock.Now().UTC().Format(time.RFC3339),
	}

	if err := c.store.Update(ctx, alertID, fields); err != nil {
		c.logger.Warn("alert status update failed",
			"alert_id", alertID,
			"status", alertStatus,
			"error", err,
		)
		return
	}
	c.logger.Info("alert status updated", "alert_id", alertID, "status", alertStatus)
}
