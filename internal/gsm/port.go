// Package gsm implements the SMS fallback channel: a Hayes AT command
// dialogue with a cellular modem over a serial line, in text-mode SMS.
package gsm

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the serial handle the AT engine talks through. go.bug.st/serial
// ports satisfy it directly; tests substitute a scripted transcript.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// PortConfig describes how to open the modem's serial line.
type PortConfig struct {
	Name     string
	BaudRate int
}

// OpenPort opens the serial line to the modem.
func OpenPort(cfg PortConfig) (Port, error) {
	mode := &serial.Mode{BaudRate: cfg.BaudRate}
	port, err := serial.Open(cfg.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Name, err)
	}
	return port, nil
}
