package gsm

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// AT command set used by the engine. Text-mode SMS only.
const (
	cmdAttention    = "AT"
	cmdTextMode     = "AT+CMGF=1"
	cmdNotifyStored = "AT+CNMI=2,1,0,0,0"
	cmdDeleteAll    = "AT+CMGD=1,4"
	cmdListAll      = `AT+CMGL="ALL"`

	ctrlZ = 0x1a
)

// Response tokens. Matched by substring: modem output is fragmented and
// interleaved with echo, so exact framing cannot be relied on.
const (
	tokenOK      = "OK"
	tokenError   = "ERROR"
	tokenSendAck = "+CMGS"
	headerStored = "+CMGL:"
	headerPushed = "+CMT:"
)

// Engine errors.
var (
	ErrModemError = errors.New("modem returned ERROR")
	ErrNoResponse = errors.New("no response from modem")
)

const (
	defaultSettleDelay = 300 * time.Millisecond
	readPollDelay      = 200 * time.Millisecond
	drainReadTimeout   = 50 * time.Millisecond
	readBufSize        = 256
)

// Engine drives the AT dialogue over a serial port. It owns no SMS policy;
// the channel layer decides what to send and how to interpret replies.
type Engine struct {
	port        Port
	clock       clock.Clock
	logger      *slog.Logger
	settleDelay time.Duration
}

// NewEngine creates an AT engine over an open port. A negative settle
// delay selects the default; zero disables settling entirely.
func NewEngine(port Port, clk clock.Clock, logger *slog.Logger, settleDelay time.Duration) *Engine {
	if settleDelay < 0 {
		settleDelay = defaultSettleDelay
	}
	return &Engine{
		port:        port,
		clock:       clk,
		logger:      logger,
		settleDelay: settleDelay,
	}
}

// Init brings the modem into a known state: attention check, text-mode SMS,
// store-and-forward delivery of incoming messages, and an empty inbox so
// stale messages from previous runs cannot be misread as a fresh reply.
func (e *Engine) Init() error {
	for _, cmd := range []string{cmdAttention, cmdTextMode, cmdNotifyStored} {
		if err := e.command(cmd); err != nil {
			return fmt.Errorf("init %s: %w", cmd, err)
		}
	}
	if err := e.ClearInbox(); err != nil {
		return fmt.Errorf("init clear inbox: %w", err)
	}
	e.logger.Info("gsm modem initialized")
	return nil
}

// ClearInbox deletes every stored message regardless of read status.
func (e *Engine) ClearInbox() error {
	return e.command(cmdDeleteAll)
}

// DeleteMessage deletes a single stored message by inbox index.
func (e *Engine) DeleteMessage(index int) error {
	return e.command(fmt.Sprintf("AT+CMGD=%d", index))
}

// Send transmits one text-mode SMS and waits up to writeTimeout for the
// modem to acknowledge it. ERROR, an empty response, and a serial failure
// all surface as errors; the channel layer maps them to the fail-safe path.
func (e *Engine) Send(number, text string, writeTimeout time.Duration) error {
	if err := e.write(fmt.Sprintf("AT+CMGS=%q\r", number)); err != nil {
		return err
	}
	e.clock.Sleep(e.settleDelay)

	if err := e.write(text + string(rune(ctrlZ))); err != nil {
		return err
	}

	deadline := e.clock.Now().Add(writeTimeout)
	var response strings.Builder
	for {
		chunk, err := e.drain()
		if err != nil {
			return fmt.Errorf("read send response: %w", err)
		}
		response.WriteString(chunk)

		got := response.String()
		switch {
		case strings.Contains(got, tokenError):
			return ErrModemError
		case strings.Contains(got, tokenSendAck), strings.Contains(got, tokenOK):
			e.logger.Debug("sms accepted by modem", "number", number)
			return nil
		}

		if !e.clock.Now().Before(deadline) {
			return ErrNoResponse
		}
		e.clock.Sleep(readPollDelay)
	}
}

// ListMessages re-asserts text mode, drains any unsolicited push data, then
// lists all stored messages and accumulates the response for the given
// window. The raw accumulated text is returned for parsing.
func (e *Engine) ListMessages(window time.Duration) (string, error) {
	if err := e.write(cmdTextMode + "\r"); err != nil {
		return "", err
	}
	e.clock.Sleep(e.settleDelay)

	var raw strings.Builder
	// Unsolicited +CMT: pushes arrive outside any command; keep them, the
	// parser understands both formats.
	chunk, err := e.drain()
	if err != nil {
		return "", fmt.Errorf("drain unsolicited: %w", err)
	}
	raw.WriteString(chunk)

	if err := e.write(cmdListAll + "\r"); err != nil {
		return "", err
	}

	deadline := e.clock.Now().Add(window)
	for {
		chunk, err := e.drain()
		if err != nil {
			return "", fmt.Errorf("read list response: %w", err)
		}
		raw.WriteString(chunk)
		if !e.clock.Now().Before(deadline) {
			return raw.String(), nil
		}
		e.clock.Sleep(readPollDelay)
	}
}

// command writes a bare AT command, lets the modem settle, and drains the
// response. ERROR fails the command; anything else is accepted, since many
// modems answer housekeeping commands with garbage or nothing at all.
func (e *Engine) command(cmd string) error {
	if err := e.write(cmd + "\r"); err != nil {
		return err
	}
	e.clock.Sleep(e.settleDelay)

	response, err := e.drain()
	if err != nil {
		return fmt.Errorf("read %s response: %w", cmd, err)
	}
	if strings.Contains(response, tokenError) {
		return fmt.Errorf("%s: %w", cmd, ErrModemError)
	}
	return nil
}

func (e *Engine) write(data string) error {
	if _, err := e.port.Write([]byte(data)); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// drain reads whatever bytes are currently available. Response latency and
// fragmentation are unpredictable, so fixed-length reads cannot work; a
// short read timeout bounds each call instead.
func (e *Engine) drain() (string, error) {
	if err := e.port.SetReadTimeout(drainReadTimeout); err != nil {
		return "", fmt.Errorf("set read timeout: %w", err)
	}

	var out strings.Builder
	buf := make([]byte, readBufSize)
	for {
		n, err := e.port.Read(buf)
		if err != nil {
			return out.String(), fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			return out.String(), nil
		}
		out.Write(buf[:n])
	}
}
