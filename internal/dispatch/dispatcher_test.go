package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/farmguard/farmguard/internal/domain"
	"github.com/farmguard/farmguard/internal/sms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloud struct {
	mu        sync.Mutex
	publishOK bool
	statusFn  func(call int) (domain.AlertStatus, bool)

	published []string
	readCalls int
	setCalls  []domain.AlertStatus
}

func (c *fakeCloud) Publish(_ context.Context, _, animal string, _ float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, animal)
	return c.publishOK
}

func (c *fakeCloud) ReadStatus(_ context.Context, _ string) (domain.AlertStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readCalls++
	if c.statusFn == nil {
		return "", false
	}
	return c.statusFn(c.readCalls)
}

func (c *fakeCloud) SetStatus(_ context.Context, _ string, status domain.AlertStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCalls = append(c.setCalls, status)
}

func (c *fakeCloud) statusUpdates() []domain.AlertStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.AlertStatus(nil), c.setCalls...)
}

type fakeGsm struct {
	mu         sync.Mutex
	sendOK     bool
	reply      domain.GsmReply
	sent       []string
	awaitCalls int
}

func (g *fakeGsm) Send(text string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, text)
	return g.sendOK
}

func (g *fakeGsm) AwaitReply(context.Context, time.Duration, time.Duration) domain.GsmReply {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.awaitCalls++
	return g.reply
}

type fakeSound struct {
	mu    sync.Mutex
	plays []domain.SoundKind
}

func (s *fakeSound) Play(kind domain.SoundKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, kind)
	return true
}

func (s *fakeSound) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plays)
}

type fixture struct {
	dispatcher *Dispatcher
	cloud      *fakeCloud
	gsm        *fakeGsm
	sound      *fakeSound
	mock       *clock.Mock
	dialCalls  int
	dialErr    error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		cloud: &fakeCloud{publishOK: true},
		gsm:   &fakeGsm{sendOK: true, reply: domain.GsmReplyNone},
		sound: &fakeSound{},
		mock:  clock.NewMock(),
	}

	renderer, err := sms.NewRenderer()
	require.NoError(t, err)

	dial := func() (GsmChannel, error) {
		f.dialCalls++
		if f.dialErr != nil {
			return nil, f.dialErr
		}
		return f.gsm, nil
	}

	f.dispatcher = New(DefaultConfig(), f.cloud, dial, f.sound, renderer, f.mock, slog.Default())
	return f
}

// resolveWithClock runs fn in the background while advancing the mock
// clock, so deadline-bounded polling loops complete without real sleeping.
func resolveWithClock(mock *clock.Mock, fn func() *domain.Incident) *domain.Incident {
	done := make(chan *domain.Incident, 1)
	go func() { done <- fn() }()
	for {
		select {
		case incident := <-done:
			return incident
		case <-time.After(time.Millisecond):
			mock.Add(5 * time.Second)
		}
	}
}

func detection(label string, confidence float64) domain.Detection {
	return domain.Detection{Label: label, Confidence: confidence}
}

func TestDispatcher_IgnoresNonThreats(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		det  domain.Detection
	}{
		{"unknown animal", detection("rabbit", 0.95)},
		{"threat below confidence floor", detection("cattle", 0.55)},
		{"threat at confidence floor", detection("cattle", 0.6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, f.dispatcher.HandleDetection(context.Background(), tt.det))
		})
	}
	assert.Empty(t, f.cloud.published)
	assert.Zero(t, f.sound.count())
}

func TestDispatcher_InterAlertSpacing(t *testing.T) {
	f := newFixture(t)
	f.cloud.statusFn = func(int) (domain.AlertStatus, bool) {
		return domain.AlertStatusPlay, true
	}

	require.NotNil(t, f.dispatcher.HandleDetection(context.Background(), detection("cattle", 0.9)))

	// A different threat right after the first must still be suppressed.
	assert.Nil(t, f.dispatcher.HandleDetection(context.Background(), detection("goat", 0.9)))

	f.mock.Add(16 * time.Second)
	assert.NotNil(t, f.dispatcher.HandleDetection(context.Background(), detection("goat", 0.9)))
}

func TestDispatcher_CloudPlay(t *testing.T) {
	f := newFixture(t)
	f.cloud.statusFn = func(int) (domain.AlertStatus, bool) {
		return domain.AlertStatusPlay, true
	}

	incident := f.dispatcher.HandleDetection(context.Background(), detection("cattle", 0.92))

	require.NotNil(t, incident)
	assert.Equal(t, domain.ChannelCloud, incident.Channel)
	assert.Equal(t, domain.ResolutionOperatorPlay, incident.Resolution)
	assert.True(t, incident.SoundPlayed)
	assert.Equal(t, 1, f.sound.count())
	assert.Equal(t, []domain.AlertStatus{domain.AlertStatusProcessed}, f.cloud.statusUpdates())
}

func TestDispatcher_CloudNotPlay(t *testing.T) {
	f := newFixture(t)
	f.cloud.statusFn = func(int) (domain.AlertStatus, bool) {
		return domain.AlertStatusNotPlay, true
	}

	incident := f.dispatcher.HandleDetection(context.Background(), detection("sheep", 0.85))

	require.NotNil(t, incident)
	assert.Equal(t, domain.ResolutionOperatorSilence, incident.Resolution)
	assert.False(t, incident.SoundPlayed)
	assert.Zero(t, f.sound.count())
	assert.Equal(t, []domain.AlertStatus{domain.AlertStatusProcessed}, f.cloud.statusUpdates())
}

func TestDispatcher_CloudPlayOnLaterPoll(t *testing.T) {
	f := newFixture(t)
	f.cloud.statusFn = func(call int) (domain.AlertStatus, bool) {
		if call < 4 {
			return domain.AlertStatusPending, true
		}
		return domain.AlertStatusPlay, true
	}

	incident := resolveWithClock(f.mock, func() *domain.Incident {
		return f.dispatcher.HandleDetection(context.Background(), detection("cattle", 0.92))
	})

	require.NotNil(t, incident)
	assert.Equal(t, domain.ResolutionOperatorPlay, incident.Resolution)
	assert.Equal(t, 1, f.sound.count())
}

func TestDispatcher_CloudReplyTimeout(t *testing.T) {
	f := newFixture(t)
	f.cloud.statusFn = func(int) (domain.AlertStatus, bool) {
		return domain.AlertStatusPending, true
	}
	start := f.mock.Now()

	incident := resolveWithClock(f.mock, func() *domain.Incident {
		return f.dispatcher.HandleDetection(context.Background(), detection("cattle", 0.92))
	})

	require.NotNil(t, incident)
	assert.Equal(t, domain.ResolutionReplyTimeout, incident.Resolution)
	assert.True(t, incident.SoundPlayed, "no response is ambiguous, fail-safe plays")
	assert.Equal(t, 1, f.sound.count())
	assert.Equal(t, []domain.AlertStatus{domain.AlertStatusProcessed}, f.cloud.statusUpdates())
	// The deadline is wall-clock based: resolution lands at the 300s
	// mark (the clock pump can overshoot by a few mock ticks).
	elapsed := incident.ResolvedAt.Sub(start)
	assert.GreaterOrEqual(t, elapsed, 5*time.Minute)
	assert.Less(t, elapsed, 6*time.Minute)
}

func TestDispatcher_FallbackGsmPlay(t *testing.T) {
	f := newFixture(t)
	f.cloud.publishOK = false
	f.gsm.reply = domain.GsmReplyPlay

	incident := f.dispatcher.HandleDetection(context.Background(), detection("goat", 0.7))

	require.NotNil(t, incident)
	assert.Equal(t, domain.ChannelGsm, incident.Channel)
	assert.Equal(t, domain.ResolutionOperatorPlay, incident.Resolution)
	assert.Equal(t, 1, f.sound.count())

	require.Len(t, f.gsm.sent, 1)
	assert.Contains(t, f.gsm.sent[0], "Goat")
	assert.Contains(t, f.gsm.sent[0], "Reply 1")
}

func TestDispatcher_FallbackGsmNotPlay(t *testing.T) {
	f := newFixture(t)
	f.cloud.publishOK = false
	f.gsm.reply = domain.GsmReplyNotPlay

	incident := f.dispatcher.HandleDetection(context.Background(), detection("goat", 0.7))

	require.NotNil(t, incident)
	assert.Equal(t, domain.ResolutionOperatorSilence, incident.Resolution)
	assert.Zero(t, f.sound.count())
	// PROCESSED is still attempted best-effort even though the cloud
	// was unreachable for the publish.
	assert.Equal(t, []domain.AlertStatus{domain.AlertStatusProcessed}, f.cloud.statusUpdates())
}

func TestDispatcher_FallbackGsmReplyTimeout(t *testing.T) {
	f := newFixture(t)
	f.cloud.publishOK = false
	f.gsm.reply = domain.GsmReplyNone

	incident := f.dispatcher.HandleDetection(context.Background(), detection("camel", 0.8))

	require.NotNil(t, incident)
	assert.Equal(t, domain.ResolutionReplyTimeout, incident.Resolution)
	assert.Equal(t, 1, f.sound.count())
}

func TestDispatcher_FallbackGsmSendFailure(t *testing.T) {
	f := newFixture(t)
	f.cloud.publishOK = false
	f.gsm.sendOK = false

	incident := f.dispatcher.HandleDetection(context.Background(), detection("cattle", 0.9))

	require.NotNil(t, incident)
	assert.Equal(t, domain.ResolutionSendFailed, incident.Resolution)
	assert.Equal(t, 1, f.sound.count())
	assert.Zero(t, f.gsm.awaitCalls, "no reply wait after a failed send")
}

func TestDispatcher_FallbackGsmDialFailure(t *testing.T) {
	f := newFixture(t)
	f.cloud.publishOK = false
	f.dialErr = errors.New("no such device /dev/ttyUSB0")

	incident := f.dispatcher.HandleDetection(context.Background(), detection("cattle", 0.9))

	require.NotNil(t, incident)
	assert.Equal(t, domain.ResolutionSendFailed, incident.Resolution)
	assert.Equal(t, 1, f.sound.count())
}

func TestDispatcher_GsmChannelDialedOnce(t *testing.T) {
	f := newFixture(t)
	f.cloud.publishOK = false
	f.gsm.reply = domain.GsmReplyNotPlay

	require.NotNil(t, f.dispatcher.HandleDetection(context.Background(), detection("cattle", 0.9)))
	f.mock.Add(16 * time.Second)
	require.NotNil(t, f.dispatcher.HandleDetection(context.Background(), detection("goat", 0.9)))

	assert.Equal(t, 1, f.dialCalls, "serial connection is created once and reused")
}

func TestDispatcher_LastIncidentSnapshot(t *testing.T) {
	f := newFixture(t)
	f.cloud.statusFn = func(int) (domain.AlertStatus, bool) {
		return domain.AlertStatusPlay, true
	}

	assert.Nil(t, f.dispatcher.LastIncident())
	assert.Equal(t, StateIdle, f.dispatcher.State())

	incident := f.dispatcher.HandleDetection(context.Background(), detection("cattle", 0.92))
	require.NotNil(t, incident)

	last := f.dispatcher.LastIncident()
	require.NotNil(t, last)
	assert.Equal(t, incident.ID, last.ID)
	assert.True(t, last.Resolved())
	assert.Equal(t, StateIdle, f.dispatcher.State())
}

func TestDispatcher_CancellationResolvesFailSafe(t *testing.T) {
	f := newFixture(t)
	f.cloud.statusFn = func(int) (domain.AlertStatus, bool) {
		return domain.AlertStatusPending, true
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	incident := f.dispatcher.HandleDetection(ctx, detection("cattle", 0.92))

	require.NotNil(t, incident)
	assert.Equal(t, domain.ResolutionReplyTimeout, incident.Resolution)
	assert.Equal(t, 1, f.sound.count())
}
