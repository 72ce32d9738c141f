package navigation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navi/internal/positioning"
)

func newLiveSession(t *testing.T, l Listener) (*Session, *positioning.MemorySource) {
	t.Helper()
	src := positioning.NewMemorySource()
	s := NewSession(SessionConfig{
		ID:        "test-session",
		Positions: src,
		Watch:     positioning.WatchOptions{DeviceID: "phone-1"},
		Listener:  l,
	})
	t.Cleanup(s.Cancel)
	return s, src
}

func TestSession_RequiresRoute(t *testing.T) {
	s, _ := newLiveSession(t, nil)
	assert.ErrorIs(t, s.StartLive(context.Background(), ""), ErrNoActiveRoute)
	assert.ErrorIs(t, s.StartSimulated(), ErrNoActiveRoute)
	assert.ErrorIs(t, s.SetRoute(nil), ErrNoActiveRoute)
	assert.False(t, s.Navigating())
}

func TestSession_RejectsInvalidRoute(t *testing.T) {
	s, _ := newLiveSession(t, nil)
	route := cornerRoute()
	route.Legs[0].Steps[0].Geometry = route.Legs[0].Steps[0].Geometry[:1]
	assert.ErrorIs(t, s.SetRoute(route), ErrInvalidRoute)
}

func TestSession_CancelWhenIdleIsNoop(t *testing.T) {
	s, _ := newLiveSession(t, nil)
	s.Cancel()
	require.NoError(t, s.SetRoute(cornerRoute()))
	s.Cancel()
	s.Cancel()
	assert.False(t, s.Navigating())
	assert.Equal(t, SourceNone, s.Snapshot().Source)
}

func TestSession_OneSourceAtATime(t *testing.T) {
	s, _ := newLiveSession(t, nil)
	require.NoError(t, s.SetRoute(cornerRoute()))

	require.NoError(t, s.StartLive(context.Background(), ""))
	assert.ErrorIs(t, s.StartSimulated(), ErrSourceActive)
	assert.ErrorIs(t, s.StartLive(context.Background(), ""), ErrSourceActive)
	assert.Equal(t, SourceLive, s.Snapshot().Source)

	s.Cancel()
	require.NoError(t, s.StartSimulated())
	assert.ErrorIs(t, s.StartLive(context.Background(), ""), ErrSourceActive)
	snap := s.Snapshot()
	assert.Equal(t, SourceSimulated, snap.Source)
	require.NotNil(t, snap.Simulation)
	assert.Equal(t, DefaultSampleCount, snap.Simulation.SampleCount)
}

func TestSession_LiveWithoutSource(t *testing.T) {
	s := NewSession(SessionConfig{ID: "no-source"})
	require.NoError(t, s.SetRoute(cornerRoute()))
	assert.ErrorIs(t, s.StartLive(context.Background(), "phone-1"), ErrNoPositionSource)
}

func TestSession_LiveFixesDriveDisplay(t *testing.T) {
	c := &collector{}
	s, src := newLiveSession(t, c)
	require.NoError(t, s.SetRoute(cornerRoute()))
	require.NoError(t, s.StartLive(context.Background(), ""))

	corner := offset(testOrigin, 0, 200)

	src.Push("phone-1", fixAt(offset(testOrigin, 2, 100)))
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	d := c.last()
	assert.Equal(t, 0, d.Progress.CurrentStepIndex)
	assert.InDelta(t, 100, d.Progress.DistanceAlongCurrentStepMeters, 0.5)
	assert.InDelta(t, 100, d.DistanceToManeuverMeters, 0.5)
	require.NotNil(t, d.Instruction)
	assert.Equal(t, "Head north", d.Instruction.Primary.Text)
	assert.Equal(t, SourceLive, d.Source)

	src.Push("phone-1", fixAt(offset(testOrigin, 2, 170)))
	require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Turn right onto East St", c.last().Instruction.Primary.Text)

	src.Push("phone-1", fixAt(offset(corner, 30, 1)))
	require.Eventually(t, func() bool { return c.count() == 3 }, time.Second, 5*time.Millisecond)
	d = c.last()
	assert.True(t, d.Advanced)
	assert.Equal(t, 1, d.Progress.CurrentStepIndex)
	assert.InDelta(t, 30, d.Progress.DistanceAlongCurrentStepMeters, 0.5)
	assert.Equal(t, "Continue on East St", d.Instruction.Primary.Text)

	snap := s.Snapshot()
	assert.True(t, snap.Navigating)
	require.NotNil(t, snap.Display)
	assert.Equal(t, d.Progress, snap.Display.Progress)
	require.NotNil(t, snap.Summary)
	assert.Equal(t, 2, snap.Summary.Minutes)
	assert.Equal(t, 0, c.errorCount())
}

func TestSession_SourceErrorKeepsProgress(t *testing.T) {
	c := &collector{}
	s, src := newLiveSession(t, c)
	require.NoError(t, s.SetRoute(cornerRoute()))
	require.NoError(t, s.StartLive(context.Background(), ""))

	src.Push("phone-1", fixAt(offset(testOrigin, 0, 80)))
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	before := s.Snapshot().Progress

	src.Fail("phone-1", positioning.NewSourceError(positioning.CodePermissionDenied, nil))
	require.Eventually(t, func() bool { return c.errorCount() == 1 }, time.Second, 5*time.Millisecond)

	code, ok := positioning.CodeOf(c.lastError())
	require.True(t, ok)
	assert.Equal(t, positioning.CodePermissionDenied, code)
	assert.Equal(t, before, s.Snapshot().Progress)
	assert.True(t, s.Navigating())
}

func TestSession_MissingBannersSurfaceError(t *testing.T) {
	c := &collector{}
	s, src := newLiveSession(t, c)
	route := straightRoute(300)
	route.Legs[0].Steps[0].BannerInstructions = nil
	require.NoError(t, s.SetRoute(route))
	require.NoError(t, s.StartLive(context.Background(), ""))

	src.Push("phone-1", fixAt(offset(testOrigin, 0, 50)))
	require.Eventually(t, func() bool { return c.errorCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.lastError(), ErrNoInstruction)
	require.Equal(t, 1, c.count())
	assert.Nil(t, c.last().Instruction)
	assert.InDelta(t, 50, c.last().Progress.DistanceAlongCurrentStepMeters, 0.5)
}

func TestSession_SetRouteStopsSourceAndResets(t *testing.T) {
	c := &collector{}
	s, src := newLiveSession(t, c)
	require.NoError(t, s.SetRoute(cornerRoute()))
	require.NoError(t, s.StartLive(context.Background(), ""))

	src.Push("phone-1", fixAt(offset(offset(testOrigin, 0, 200), 20, 1)))
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, s.Snapshot().Progress.CurrentStepIndex)

	require.NoError(t, s.SetRoute(straightRoute(500)))
	snap := s.Snapshot()
	assert.False(t, snap.Navigating)
	assert.Equal(t, ProgressState{}, snap.Progress)
	assert.Nil(t, snap.Display)

	// The old subscription is gone; nothing reaches the tracker.
	assert.Eventually(t, func() bool { return src.Watchers("phone-1") == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, src.Push("phone-1", fixAt(offset(testOrigin, 0, 10))))
	assert.Equal(t, 1, c.count())
}

func TestSession_DropsFixesAfterCancel(t *testing.T) {
	c := &collector{}
	s, _ := newLiveSession(t, c)
	require.NoError(t, s.SetRoute(cornerRoute()))
	require.NoError(t, s.StartLive(context.Background(), ""))

	gen := s.generation
	s.Cancel()
	s.handleFix(gen, SourceLive, fixAt(offset(testOrigin, 0, 10)))
	s.handleSourceError(gen, positioning.NewSourceError(positioning.CodeTimeout, nil))
	assert.Equal(t, 0, c.count())
	assert.Equal(t, 0, c.errorCount())
}

func TestSession_SimulatedRunReachesLastStep(t *testing.T) {
	c := &collector{}
	s := NewSession(SessionConfig{
		ID:        "sim",
		Simulator: NewSimulator(SimulatorConfig{Interval: time.Millisecond, Samples: 80}, nil),
		Listener:  c,
	})
	t.Cleanup(s.Cancel)
	require.NoError(t, s.SetRoute(cornerRoute()))
	require.NoError(t, s.StartSimulated())

	require.Eventually(t, func() bool { return c.count() == 80 }, 5*time.Second, 5*time.Millisecond)

	maxIndex := 0
	c.mu.Lock()
	for _, d := range c.displays {
		assert.Equal(t, SourceSimulated, d.Source)
		assert.GreaterOrEqual(t, d.Progress.CurrentStepIndex, maxIndex)
		maxIndex = d.Progress.CurrentStepIndex
	}
	c.mu.Unlock()

	last := c.last()
	assert.Equal(t, 1, last.Progress.CurrentStepIndex)
	assert.InDelta(t, 200, last.Progress.DistanceAlongCurrentStepMeters, 0.5)
	assert.Equal(t, "You have arrived", last.Instruction.Primary.Text)

	// Samples are exhausted but the source stays until cancelled.
	snap := s.Snapshot()
	assert.True(t, snap.Navigating)
	assert.Equal(t, 80, snap.Simulation.SampleIndex)
	s.Cancel()
	assert.False(t, s.Navigating())
}

func TestSession_CancelFromListener(t *testing.T) {
	c := &collector{}
	s := NewSession(SessionConfig{
		ID:        "sim-cancel",
		Simulator: NewSimulator(SimulatorConfig{Interval: time.Millisecond, Samples: 200}, nil),
		Listener:  c,
	})
	c.onFix = func(d Display) {
		if d.Progress.DistanceAlongCurrentStepMeters >= 100 && d.Progress.CurrentStepIndex == 0 {
			s.Cancel()
		}
	}
	require.NoError(t, s.SetRoute(cornerRoute()))
	require.NoError(t, s.StartSimulated())

	require.Eventually(t, func() bool { return !s.Navigating() }, 5*time.Second, 5*time.Millisecond)
	n := c.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, c.count())
}

// gatedSource holds Watch until release is closed.
type gatedSource struct {
	inner   positioning.Source
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	stopped bool
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		inner:   positioning.NewMemorySource(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedSource) Watch(ctx context.Context, opts positioning.WatchOptions) (positioning.Subscription, error) {
	close(g.entered)
	<-g.release
	sub, err := g.inner.Watch(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &trackedSub{Subscription: sub, g: g}, nil
}

func (g *gatedSource) wasStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

type trackedSub struct {
	positioning.Subscription
	g *gatedSource
}

func (t *trackedSub) Stop() {
	t.g.mu.Lock()
	t.g.stopped = true
	t.g.mu.Unlock()
	t.Subscription.Stop()
}

func startGated(t *testing.T) (*Session, *gatedSource, chan error) {
	t.Helper()
	src := newGatedSource()
	s := NewSession(SessionConfig{
		ID:        "gated",
		Positions: src,
		Watch:     positioning.WatchOptions{DeviceID: "phone-1"},
		Simulator: NewSimulator(SimulatorConfig{Interval: time.Millisecond, Samples: 5}, nil),
	})
	t.Cleanup(s.Cancel)
	require.NoError(t, s.SetRoute(cornerRoute()))

	done := make(chan error, 1)
	go func() { done <- s.StartLive(context.Background(), "") }()
	select {
	case <-src.entered:
	case <-time.After(time.Second):
		t.Fatalf("Watch was never called")
	}
	return s, src, done
}

func TestSession_SlowWatchDoesNotHoldLock(t *testing.T) {
	s, src, done := startGated(t)

	snapped := make(chan Snapshot, 1)
	go func() { snapped <- s.Snapshot() }()
	select {
	case snap := <-snapped:
		assert.False(t, snap.Navigating)
	case <-time.After(time.Second):
		t.Fatalf("Snapshot blocked behind Watch")
	}
	assert.ErrorIs(t, s.StartSimulated(), ErrSourceActive)
	assert.ErrorIs(t, s.StartLive(context.Background(), ""), ErrSourceActive)

	close(src.release)
	require.NoError(t, <-done)
	assert.Equal(t, SourceLive, s.Snapshot().Source)
	assert.False(t, src.wasStopped())
}

func TestSession_CancelDuringWatchAbortsStart(t *testing.T) {
	s, src, done := startGated(t)

	s.Cancel()
	close(src.release)
	assert.ErrorIs(t, <-done, ErrStartAborted)
	assert.True(t, src.wasStopped())
	assert.False(t, s.Navigating())

	require.NoError(t, s.StartSimulated())
	assert.Equal(t, SourceSimulated, s.Snapshot().Source)
}

func TestSession_SetRouteDuringWatchAbortsStart(t *testing.T) {
	s, src, done := startGated(t)

	require.NoError(t, s.SetRoute(cornerRoute()))
	close(src.release)
	assert.ErrorIs(t, <-done, ErrStartAborted)
	assert.True(t, src.wasStopped())
	assert.False(t, s.Navigating())
}
