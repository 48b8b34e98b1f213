// Package dispatch implements the alert delivery and confirmation state
// machine: one incident at a time is escalated through the cloud channel,
// falls back to SMS when the cloud is unreachable, and always ends with
// exactly one sound decision and a best-effort PROCESSED status.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/farmguard/farmguard/internal/domain"
	"github.com/farmguard/farmguard/internal/sms"
	"github.com/google/uuid"
)

// State names the dispatcher's position in an incident's lifecycle. States
// are observable through logs and the status endpoint; transitions are
// sequential within HandleDetection.
type State string

const (
	StateIdle             State = "idle"
	StatePublishing       State = "publishing"
	StateAwaitingCloud    State = "awaiting_cloud_reply"
	StateFallbackGsm      State = "fallback_gsm"
	StateAwaitingGsmReply State = "awaiting_gsm_reply"
	StateResolved         State = "resolved"
)

// CloudChannel is the primary transport.
type CloudChannel interface {
	Publish(ctx context.Context, alertID, animal string, confidence float64) bool
	ReadStatus(ctx context.Context, alertID string) (domain.AlertStatus, bool)
	SetStatus(ctx context.Context, alertID string, status domain.AlertStatus)
}

// GsmChannel is the SMS fallback transport.
type GsmChannel interface {
	Send(text string) bool
	AwaitReply(ctx context.Context, timeout, pollInterval time.Duration) domain.GsmReply
}

// SoundSink is invoked at most once per resolved incident.
type SoundSink interface {
	Play(kind domain.SoundKind) bool
}

// MessageRenderer builds the operator-facing SMS body.
type MessageRenderer interface {
	Alert(data sms.AlertData) (string, error)
}

// Config holds the dispatch policy knobs.
type Config struct {
	AlertDocID       string
	Location         string
	ThreatAnimals    []string
	ThreatConfidence float64
	AlertSpacing     time.Duration

	CloudReplyTimeout time.Duration
	CloudPollInterval time.Duration
	GsmReplyTimeout   time.Duration
	GsmPollInterval   time.Duration
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		AlertDocID:        "alert_test_001",
		Location:          "farm_camera_1",
		ThreatAnimals:     []string{"cattle", "camel", "sheep", "goat"},
		ThreatConfidence:  0.6,
		AlertSpacing:      15 * time.Second,
		CloudReplyTimeout: 5 * time.Minute,
		CloudPollInterval: 5 * time.Second,
		GsmReplyTimeout:   5 * time.Minute,
		GsmPollInterval:   10 * time.Second,
	}
}

// GsmDialer lazily produces the fallback channel. The serial connection is
// created on first use and reused across incidents.
type GsmDialer func() (GsmChannel, error)

// Dispatcher sequences gate-accepted detections through the transports.
// It resolves one incident at a time: HandleDetection blocks its caller
// until resolution, which intentionally suspends new threat evaluation.
type Dispatcher struct {
	cfg      Config
	threats  map[string]struct{}
	cloud    CloudChannel
	dialGsm  GsmDialer
	sound    SoundSink
	renderer MessageRenderer
	clock    clock.Clock
	logger   *slog.Logger

	gsm GsmChannel

	lastAlertAt time.Time

	mu    sync.Mutex
	state State
	last  *domain.Incident
}

// New creates a dispatcher. The GSM channel is not dialed until the first
// cloud failure.
func New(cfg Config, cloud CloudChannel, dialGsm GsmDialer, sound SoundSink, renderer MessageRenderer, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	threats := make(map[string]struct{}, len(cfg.ThreatAnimals))
	for _, animal := range cfg.ThreatAnimals {
		threats[strings.ToLower(animal)] = struct{}{}
	}

	return &Dispatcher{
		cfg:      cfg,
		threats:  threats,
		cloud:    cloud,
		dialGsm:  dialGsm,
		sound:    sound,
		renderer: renderer,
		clock:    clk,
		logger:   logger,
		state:    StateIdle,
	}
}

// HandleDetection escalates a gate-accepted detection. It returns the
// resolved incident, or nil when the detection did not qualify: not in the
// threat set, confidence at or below the threat floor, or inside the
// global inter-alert spacing window.
func (d *Dispatcher) HandleDetection(ctx context.Context, det domain.Detection) *domain.Incident {
	if _, ok := d.threats[strings.ToLower(det.Label)]; !ok {
		return nil
	}
	if det.Confidence <= d.cfg.ThreatConfidence {
		return nil
	}

	now := d.clock.Now()
	if !d.lastAlertAt.IsZero() && now.Sub(d.lastAlertAt) <= d.cfg.AlertSpacing {
		d.logger.Info("duplicate alert skipped", "animal", det.Label)
		return nil
	}
	d.lastAlertAt = now

	incident := &domain.Incident{
		ID:         uuid.NewString(),
		Label:      det.Label,
		Confidence: det.Confidence,
		AlertID:    d.cfg.AlertDocID,
		Channel:    domain.ChannelNone,
		CreatedAt:  now,
	}
	d.snapshot(StatePublishing, incident)
	d.logger.Info("threat detected, sending alert",
		"incident_id", incident.ID,
		"animal", det.Label,
		"confidence", det.Confidence,
	)

	if d.cloud.Publish(ctx, incident.AlertID, det.Label, det.Confidence) {
		incident.Channel = domain.ChannelCloud
		d.awaitCloud(ctx, incident)
	} else {
		recordPublishFailure()
		d.fallbackGsm(ctx, incident)
	}
	return incident
}

// awaitCloud polls the alert record until the operator decides or the
// deadline elapses. No decision within the deadline is ambiguous, and
// ambiguity sounds the alarm.
func (d *Dispatcher) awaitCloud(ctx context.Context, incident *domain.Incident) {
	d.snapshot(StateAwaitingCloud, incident)
	deadline := d.clock.Now().Add(d.cfg.CloudReplyTimeout)

	for d.clock.Now().Before(deadline) {
		alertStatus, ok := d.cloud.ReadStatus(ctx, incident.AlertID)
		if ok {
			switch alertStatus {
			case domain.AlertStatusPlay:
				d.logger.Info("operator chose play", "incident_id", incident.ID)
				d.resolve(ctx, incident, true, domain.ResolutionOperatorPlay)
				return
			case domain.AlertStatusNotPlay:
				d.logger.Info("operator chose not play", "incident_id", incident.ID)
				d.resolve(ctx, incident, false, domain.ResolutionOperatorSilence)
				return
			}
		}

		select {
		case <-ctx.Done():
			d.resolve(ctx, incident, true, domain.ResolutionReplyTimeout)
			return
		case <-d.clock.After(d.cfg.CloudPollInterval):
		}
	}

	d.logger.Info("no operator response within deadline", "incident_id", incident.ID)
	d.resolve(ctx, incident, true, domain.ResolutionReplyTimeout)
}

// fallbackGsm escalates over SMS when the cloud store is unreachable.
func (d *Dispatcher) fallbackGsm(ctx context.Context, incident *domain.Incident) {
	d.snapshot(StateFallbackGsm, incident)
	incident.Channel = domain.ChannelGsm

	channel, err := d.gsmChannel()
	if err != nil {
		d.logger.Error("gsm channel unavailable", "incident_id", incident.ID, "error", err)
		d.resolve(ctx, incident, true, domain.ResolutionSendFailed)
		return
	}

	body, err := d.renderer.Alert(sms.AlertData{
		Animal:     incident.Label,
		Confidence: incident.Confidence,
		Location:   d.cfg.Location,
	})
	if err != nil {
		d.logger.Error("sms render failed", "incident_id", incident.ID, "error", err)
		d.resolve(ctx, incident, true, domain.ResolutionSendFailed)
		return
	}

	if !channel.Send(body) {
		d.resolve(ctx, incident, true, domain.ResolutionSendFailed)
		return
	}

	d.snapshot(StateAwaitingGsmReply, incident)
	switch channel.AwaitReply(ctx, d.cfg.GsmReplyTimeout, d.cfg.GsmPollInterval) {
	case domain.GsmReplyPlay:
		d.resolve(ctx, incident, true, domain.ResolutionOperatorPlay)
	case domain.GsmReplyNotPlay:
		d.resolve(ctx, incident, false, domain.ResolutionOperatorSilence)
	default:
		d.resolve(ctx, incident, true, domain.ResolutionReplyTimeout)
	}
}

// gsmChannel returns the lazily-dialed fallback channel. A failed dial is
// retried on the next incident.
func (d *Dispatcher) gsmChannel() (GsmChannel, error) {
	if d.gsm != nil {
		return d.gsm, nil
	}
	channel, err := d.dialGsm()
	if err != nil {
		return nil, err
	}
	d.gsm = channel
	return channel, nil
}

// resolve terminates the incident: at most one sound decision, then a
// best-effort PROCESSED status. The status write is attempted on every
// path, including GSM fallback, tolerating a still-unreachable cloud.
func (d *Dispatcher) resolve(ctx context.Context, incident *domain.Incident, play bool, resolution domain.Resolution) {
	if play && !incident.SoundPlayed {
		d.sound.Play(domain.SoundWarning)
		incident.SoundPlayed = true
		recordSoundInvocation()
	}

	d.cloud.SetStatus(ctx, incident.AlertID, domain.AlertStatusProcessed)

	resolvedAt := d.clock.Now()
	incident.Resolution = resolution
	incident.ResolvedAt = &resolvedAt
	d.snapshot(StateResolved, incident)
	recordIncident(incident)

	d.logger.Info("incident resolved",
		"incident_id", incident.ID,
		"channel", incident.Channel,
		"resolution", resolution,
		"sound_played", incident.SoundPlayed,
	)
	d.snapshot(StateIdle, incident)
}

// snapshot publishes the dispatcher state for the status endpoint.
func (d *Dispatcher) snapshot(state State, incident *domain.Incident) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
	if incident != nil {
		copied := *incident
		d.last = &copied
	}
}

// State returns the dispatcher's current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastIncident returns a copy of the most recent incident, or nil if none
// has been opened since process start. No incident history is kept.
func (d *Dispatcher) LastIncident() *domain.Incident {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	copied := *d.last
	return &copied
}
