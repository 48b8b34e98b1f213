// Package detect runs the motion-gated detection loop that feeds the
// alert engine. Camera capture and model inference live behind the
// FrameSource and Classifier interfaces; this package owns only the loop.
package detect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/farmguard/farmguard/internal/domain"
	"github.com/farmguard/farmguard/internal/gate"
)

// Frame is one captured camera frame, encoded as JPEG.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// FrameSource produces frames. Next blocks until a frame is available or
// ctx is cancelled; io.EOF ends the loop cleanly.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// MotionEstimator scores a frame for motion activity.
type MotionEstimator interface {
	MotionPixels(frame Frame) int
}

// Classifier turns a frame into a label and confidence.
type Classifier interface {
	Classify(ctx context.Context, frame Frame) (label string, confidence float64, err error)
}

// AlertHandler escalates gate-accepted detections. It blocks until the
// incident resolves; the loop intentionally evaluates no new threats
// while an incident is open.
type AlertHandler interface {
	HandleDetection(ctx context.Context, det domain.Detection) *domain.Incident
}

// FrameSink receives every captured frame, e.g. for the image endpoint.
type FrameSink interface {
	SetLatest(frame Frame)
}

// Config holds the loop policy.
type Config struct {
	MotionThreshold   int
	DetectionInterval int
	NoiseFloor        float64
	ErrorBackoff      time.Duration
}

// DefaultConfig returns the deployment defaults: classify every 10th
// frame with motion, treat 2500 changed pixels as motion, discard
// classifier output below 0.4 confidence as noise.
func DefaultConfig() Config {
	return Config{
		MotionThreshold:   2500,
		DetectionInterval: 10,
		NoiseFloor:        0.4,
		ErrorBackoff:      2 * time.Second,
	}
}

// Runner is the detection loop.
type Runner struct {
	cfg        Config
	source     FrameSource
	motion     MotionEstimator
	classifier Classifier
	gate       *gate.Gate
	alerts     AlertHandler
	frames     FrameSink
	clock      clock.Clock
	logger     *slog.Logger

	armedFrames int
}

// NewRunner creates the loop. frames may be nil.
func NewRunner(cfg Config, source FrameSource, motion MotionEstimator, classifier Classifier, g *gate.Gate, alerts AlertHandler, frames FrameSink, clk clock.Clock, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		source:     source,
		motion:     motion,
		classifier: classifier,
		gate:       g,
		alerts:     alerts,
		frames:     frames,
		clock:      clk,
		logger:     logger,
	}
}

// Run consumes frames until ctx is cancelled or the source ends. Frame
// and classifier errors are logged and retried after a backoff; nothing
// short of cancellation terminates the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("detection loop started",
		"motion_threshold", r.cfg.MotionThreshold,
		"detection_interval", r.cfg.DetectionInterval,
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Info("frame source ended")
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.logger.Error("frame read failed", "error", err)
			r.clock.Sleep(r.cfg.ErrorBackoff)
			continue
		}

		if r.frames != nil {
			r.frames.SetLatest(frame)
		}

		r.step(ctx, frame)
	}
}

func (r *Runner) step(ctx context.Context, frame Frame) {
	if r.motion.MotionPixels(frame) <= r.cfg.MotionThreshold {
		r.armedFrames = 0
		return
	}

	r.armedFrames++
	if r.armedFrames%r.cfg.DetectionInterval != 0 {
		return
	}

	label, confidence, err := r.classifier.Classify(ctx, frame)
	if err != nil {
		r.logger.Error("classification failed", "error", err)
		return
	}

	if confidence < r.cfg.NoiseFloor {
		r.logger.Debug("classification below noise floor", "animal", label, "confidence", confidence)
		return
	}

	now := r.clock.Now()
	if !r.gate.Accept(label, confidence, now) {
		return
	}

	r.escalate(ctx, domain.Detection{
		Label:      label,
		Confidence: confidence,
		ObservedAt: now,
	})
}

// escalate hands the detection to the dispatcher. A panic from anywhere
// below the transport boundary must not take the loop down.
func (r *Runner) escalate(ctx context.Context, det domain.Detection) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("alert handling panicked", "animal", det.Label, "panic", rec)
		}
	}()

	r.alerts.HandleDetection(ctx, det)
}
