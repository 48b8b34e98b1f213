// Package sound renders audible alarms on the field unit. Playback must
// never fail loudly: when no audio backend is available the player degrades
// to the console bell, and failing that to a visible banner.
package sound

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/farmguard/farmguard/internal/domain"
)

const defaultPauseUnit = 100 * time.Millisecond

// Player is the sound sink invoked by the dispatcher.
type Player struct {
	clock  clock.Clock
	logger *slog.Logger

	run       func(name string, args ...string) error
	bellOut   io.Writer
	pauseUnit time.Duration
}

// NewPlayer creates a player using the system `beep` command with a
// console-bell fallback.
func NewPlayer(clk clock.Clock, logger *slog.Logger) *Player {
	return &Player{
		clock:  clk,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
		bellOut:   os.Stdout,
		pauseUnit: defaultPauseUnit,
	}
}

// Play renders the given alarm pattern. It never returns an error to the
// caller; the return value only reports whether anything audible happened.
func (p *Player) Play(kind domain.SoundKind) bool {
	p.logger.Info("playing sound", "kind", kind)

	if err := p.playBeep(kind); err == nil {
		return true
	}

	if err := p.consoleBell(kind); err != nil {
		p.visualAlert(kind)
		return false
	}
	return true
}

// playBeep drives the Linux `beep` utility.
func (p *Player) playBeep(kind domain.SoundKind) error {
	switch kind {
	case domain.SoundWarning:
		for i := 0; i < 5; i++ {
			if err := p.run("beep", "-f", "1500", "-l", "800"); err != nil {
				return err
			}
			p.clock.Sleep(3 * p.pauseUnit)
		}
		return nil
	case domain.SoundAlert:
		for i := 0; i < 3; i++ {
			if err := p.run("beep", "-f", "1200", "-l", "400"); err != nil {
				return err
			}
			p.clock.Sleep(2 * p.pauseUnit)
		}
		return nil
	default:
		return p.run("beep", "-f", "1000", "-l", "600")
	}
}

// consoleBell writes ASCII bell characters, the universal fallback.
func (p *Player) consoleBell(kind domain.SoundKind) error {
	var pattern string
	var repeats int
	switch kind {
	case domain.SoundWarning:
		pattern, repeats = "\a", 8
	case domain.SoundAlert:
		pattern, repeats = "\a\a", 4
	default:
		pattern, repeats = "\a", 1
	}

	for i := 0; i < repeats; i++ {
		if _, err := fmt.Fprint(p.bellOut, pattern); err != nil {
			return err
		}
		if repeats > 1 {
			p.clock.Sleep(5 * p.pauseUnit)
		}
	}
	_, err := fmt.Fprintln(p.bellOut)
	return err
}

// visualAlert is the last resort when nothing can make noise.
func (p *Player) visualAlert(kind domain.SoundKind) {
	p.logger.Warn("no audio backend available, showing visual alert", "kind", kind)
	fmt.Fprintf(p.bellOut, "!!! %s: THREAT DETECTED !!!\n", kind)
}
