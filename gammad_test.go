package gammad

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pgaskin/gammad/colorramp"
	"github.com/pgaskin/gammad/config"
	"github.com/pgaskin/gammad/display"
	"github.com/pgaskin/gammad/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type change struct {
	color   colorramp.Color
	seconds float64
}

type fakeDisplay struct {
	changes chan change
}

func (d *fakeDisplay) Outputs() []display.OutputInfo {
	return []display.OutputInfo{{ID: 1, RampSize: 256}}
}

func (d *fakeDisplay) ChangeToColor(target colorramp.Color, seconds float64) {
	d.changes <- change{target, seconds}
}

type harness struct {
	t       *testing.T
	clock   *fakeClock
	display *fakeDisplay
	daemon  *Daemon
	waits   chan time.Duration
	fire    chan time.Time
	fatal   chan error
	result  chan error
	cancel  context.CancelFunc
}

func start(t *testing.T, now time.Time, cfg *config.Config) *harness {
	h := &harness{
		t:       t,
		clock:   &fakeClock{now: now},
		display: &fakeDisplay{changes: make(chan change)},
		waits:   make(chan time.Duration, 1),
		fire:    make(chan time.Time),
		fatal:   make(chan error, 1),
		result:  make(chan error, 1),
	}
	h.daemon = New(h.display, WithClock(h.clock))
	h.daemon.after = func(d time.Duration) <-chan time.Time {
		h.waits <- d
		return h.fire
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.result <- h.daemon.Run(ctx, cfg, h.fatal)
	}()
	t.Cleanup(cancel)
	return h
}

func (h *harness) expectChange(c colorramp.Color, seconds float64) {
	h.t.Helper()
	select {
	case got := <-h.display.changes:
		assert.Equal(h.t, change{c, seconds}, got)
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for color change")
	}
}

func (h *harness) expectWait(d time.Duration) {
	h.t.Helper()
	select {
	case got := <-h.waits:
		assert.Equal(h.t, d, got)
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for timer")
	}
}

func (h *harness) expectResult() error {
	h.t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for run to return")
		return nil
	}
}

func at(hour, min int) time.Time {
	return time.Date(2000, time.January, 1, hour, min, 0, 0, time.UTC)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Transition = 2
	return cfg
}

func TestDaemonSwitch(t *testing.T) {
	cfg := testConfig()
	h := start(t, at(12, 0), cfg)

	// first switch is immediate
	h.expectChange(cfg.Day, 0)
	h.expectWait(7*time.Hour + time.Millisecond)

	h.clock.Set(at(19, 0).Add(time.Millisecond))
	h.fire <- time.Time{}
	h.expectChange(cfg.Night, 2)
	h.expectWait(12 * time.Hour)

	h.clock.Set(at(7, 0).AddDate(0, 0, 1))
	h.fire <- time.Time{}
	h.expectChange(cfg.Day, 2)
	h.expectWait(12*time.Hour + time.Millisecond)

	h.cancel()
	assert.NoError(t, h.expectResult())
}

func TestDaemonReload(t *testing.T) {
	cfg := testConfig()
	h := start(t, at(20, 0), cfg)

	h.expectChange(cfg.Night, 0)
	h.expectWait(11*time.Hour + time.Millisecond)

	reloaded := testConfig()
	reloaded.Night.Temperature = 2700
	reloaded.Schedule.Night = schedule.FixedEntry(21, 0)
	h.daemon.Reload(reloaded)

	// still before the new night time
	h.expectChange(reloaded.Day, 2)
	h.expectWait(time.Hour + time.Millisecond)

	h.cancel()
	assert.NoError(t, h.expectResult())
}

func TestDaemonReloadReplacesPending(t *testing.T) {
	d := New(&fakeDisplay{})
	a, b := testConfig(), testConfig()
	d.Reload(a)
	d.Reload(b)
	require.Len(t, d.reload, 1)
	assert.Same(t, b, <-d.reload)
}

func TestDaemonFatal(t *testing.T) {
	cfg := testConfig()
	h := start(t, at(12, 0), cfg)
	h.expectChange(cfg.Day, 0)
	h.expectWait(7*time.Hour + time.Millisecond)

	fatal := errors.New("broken pipe")
	h.fatal <- fatal
	assert.ErrorIs(t, h.expectResult(), fatal)
}

func TestDaemonCancelDuringTransition(t *testing.T) {
	cfg := testConfig()
	h := start(t, at(12, 0), cfg)

	// ChangeToColor blocks until it is received
	time.Sleep(10 * time.Millisecond)
	h.cancel()
	assert.NoError(t, h.expectResult())

	waited := make(chan struct{})
	go func() {
		defer close(waited)
		h.daemon.Wait()
	}()
	select {
	case <-waited:
		t.Fatal("wait returned before the transition was done")
	case <-time.After(50 * time.Millisecond):
	}

	h.expectChange(cfg.Day, 0)
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the transition")
	}
}

func TestDaemonLocationRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Day = schedule.AutoEntry()
	h := start(t, at(12, 0), cfg)
	assert.ErrorIs(t, h.expectResult(), schedule.ErrLocationRequired)
}

func TestDaemonNoSolarEvent(t *testing.T) {
	svalbard, err := schedule.NewCoordinates(78.22, 15.65)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Schedule = schedule.Schedule{Day: schedule.AutoEntry(), Night: schedule.AutoEntry()}
	cfg.Location = &svalbard

	// polar night
	h := start(t, at(12, 0), cfg)
	h.expectChange(cfg.Day, 0)
	h.expectWait(schedule.RetryDelay)

	h.fire <- time.Time{}
	h.expectChange(cfg.Day, 2)
	h.expectWait(schedule.RetryDelay)

	h.cancel()
	assert.NoError(t, h.expectResult())
}

func TestDaemonOnSwitch(t *testing.T) {
	var (
		cfg      = testConfig()
		switched = make(chan schedule.Mode, 1)
		disp     = &fakeDisplay{changes: make(chan change, 1)}
	)
	d := New(disp,
		WithClock(&fakeClock{now: at(23, 0)}),
		OnSwitch(func(mode schedule.Mode, color colorramp.Color) {
			assert.Equal(t, cfg.Night, color)
			switched <- mode
		}))
	d.after = func(time.Duration) <-chan time.Time {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- d.Run(ctx, cfg, nil)
	}()
	assert.Equal(t, schedule.Night, <-switched)
	cancel()
	assert.NoError(t, <-done)
}
