package gsm

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/farmguard/farmguard/internal/domain"
)

// Channel defaults.
const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultReplyTimeout = 5 * time.Minute
	DefaultPollInterval = 10 * time.Second
	DefaultListWindow   = time.Second
)

// ChannelConfig configures the SMS fallback channel.
type ChannelConfig struct {
	Number       string
	WriteTimeout time.Duration
	ListWindow   time.Duration
	SettleDelay  time.Duration
}

// Channel is the SMS fallback transport. It is a stateless transport from
// the dispatcher's point of view: it owns the serial connection and nothing
// else. Access is not serialized; the dispatcher resolves one incident at
// a time.
type Channel struct {
	cfg    ChannelConfig
	engine *Engine
	clock  clock.Clock
	logger *slog.Logger
}

// NewChannel creates the channel and initializes the modem.
func NewChannel(cfg ChannelConfig, port Port, clk clock.Clock, logger *slog.Logger) (*Channel, error) {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ListWindow <= 0 {
		cfg.ListWindow = DefaultListWindow
	}

	engine := NewEngine(port, clk, logger, cfg.SettleDelay)
	if err := engine.Init(); err != nil {
		return nil, err
	}

	return &Channel{
		cfg:    cfg,
		engine: engine,
		clock:  clk,
		logger: logger,
	}, nil
}

// Send delivers one SMS to the configured operator number. The inbox is
// cleared first so a reply meant for a previous incident can never be read
// as the answer to this one. Returns false on any modem or serial failure.
func (c *Channel) Send(text string) bool {
	if err := c.engine.ClearInbox(); err != nil {
		c.logger.Warn("pre-send inbox clear failed", "error", err)
	}

	if err := c.engine.Send(c.cfg.Number, text, c.cfg.WriteTimeout); err != nil {
		c.logger.Error("sms send failed", "number", c.cfg.Number, "error", err)
		return false
	}

	c.logger.Info("sms sent", "number", c.cfg.Number)
	return true
}

// AwaitReply scans the SMS inbox until a decisive 1/0 reply arrives or the
// deadline elapses. Messages that match neither convention are deleted
// individually so the inbox cannot grow without bound. A decisive reply
// clears the whole inbox before returning. Cancelling ctx returns
// GsmReplyNone early.
func (c *Channel) AwaitReply(ctx context.Context, timeout, pollInterval time.Duration) domain.GsmReply {
	deadline := c.clock.Now().Add(timeout)

	for {
		if reply, ok := c.scanOnce(); ok {
			return reply
		}

		if !c.clock.Now().Add(pollInterval).Before(deadline) {
			c.logger.Info("sms reply deadline elapsed")
			return domain.GsmReplyNone
		}

		select {
		case <-ctx.Done():
			return domain.GsmReplyNone
		case <-c.clock.After(pollInterval):
		}
	}
}

// scanOnce lists the inbox and looks for a decisive reply.
func (c *Channel) scanOnce() (domain.GsmReply, bool) {
	raw, err := c.engine.ListMessages(c.cfg.ListWindow)
	if err != nil {
		// Serial noise is not fatal; the next poll retries.
		c.logger.Warn("inbox listing failed", "error", err)
		return domain.GsmReplyNone, false
	}

	for _, msg := range parseInbox(raw) {
		reply := classifyBody(msg.Body)
		if reply != domain.GsmReplyNone {
			c.logger.Info("operator reply received", "reply", reply.String())
			if err := c.engine.ClearInbox(); err != nil {
				c.logger.Warn("post-reply inbox clear failed", "error", err)
			}
			return reply, true
		}

		if msg.Index >= 0 {
			if err := c.engine.DeleteMessage(msg.Index); err != nil {
				c.logger.Warn("delete stray message failed", "index", msg.Index, "error", err)
			}
		}
	}
	return domain.GsmReplyNone, false
}
