// README: Route simulator that replays a route geometry as timed position fixes.
package navigation

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"

	"navi/internal/geo"
	"navi/internal/types"
)

const (
	DefaultSampleCount    = 1000
	DefaultSampleInterval = 100 * time.Millisecond
)

type SimulatorConfig struct {
	Interval time.Duration
	Samples  int
}

type Simulator struct {
	interval time.Duration
	samples  int
	logger   *slog.Logger
	now      func() time.Time
}

func NewSimulator(cfg SimulatorConfig, logger *slog.Logger) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.Samples <= 0 {
		cfg.Samples = DefaultSampleCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		interval: cfg.Interval,
		samples:  cfg.Samples,
		logger:   logger,
		now:      time.Now,
	}
}

// SimulationHandle owns the simulator's ticker. Exhausting the samples does
// not release it; Cancel must be called.
type SimulationHandle struct {
	geometry orb.LineString
	onSample func(types.Position)
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	state SimulationState

	canceled atomic.Bool
	once     sync.Once
	done     chan struct{}
}

// Start samples geometry every routeDistance/samples meters, one sample per
// interval, handing each to onSample from the handle's goroutine.
func (s *Simulator) Start(geometry orb.LineString, routeDistance float64, onSample func(types.Position)) (*SimulationHandle, error) {
	h, err := s.newHandle(geometry, routeDistance, onSample)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(s.interval)
	go h.run(ticker)
	s.logger.Debug("simulation started",
		"samples", h.state.SampleCount,
		"increment_m", h.state.DistanceIncrementMeters,
		"interval_ms", s.interval.Milliseconds(),
	)
	return h, nil
}

func (s *Simulator) newHandle(geometry orb.LineString, routeDistance float64, onSample func(types.Position)) (*SimulationHandle, error) {
	if len(geometry) < 2 {
		return nil, geo.ErrTooFewPoints
	}
	if routeDistance < 0 || math.IsNaN(routeDistance) || math.IsInf(routeDistance, 0) {
		return nil, ErrInvalidDistance
	}
	return &SimulationHandle{
		geometry: geometry,
		onSample: onSample,
		now:      s.now,
		logger:   s.logger,
		state: SimulationState{
			SampleCount:             s.samples,
			DistanceIncrementMeters: routeDistance / float64(s.samples),
		},
		done: make(chan struct{}),
	}, nil
}

func (h *SimulationHandle) run(ticker *time.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

// tick emits the next sample, if any remain. It reports whether one was emitted.
func (h *SimulationHandle) tick() bool {
	if h.canceled.Load() {
		return false
	}
	h.mu.Lock()
	if h.state.SampleIndex >= h.state.SampleCount {
		h.mu.Unlock()
		return false
	}
	h.state.SampleIndex++
	distance := float64(h.state.SampleIndex) * h.state.DistanceIncrementMeters
	h.mu.Unlock()

	pt, err := geo.SampleAtDistance(h.geometry, distance)
	if err != nil {
		h.logger.Error("simulation sample failed", "error", err)
		return false
	}
	if h.canceled.Load() {
		return false
	}
	h.onSample(types.NewPosition(pt, h.now()))
	return true
}

// Cancel stops the ticker. Safe to call more than once and from onSample.
func (h *SimulationHandle) Cancel() {
	h.once.Do(func() {
		h.canceled.Store(true)
		close(h.done)
	})
}

// Done is closed by Cancel.
func (h *SimulationHandle) Done() <-chan struct{} {
	return h.done
}

func (h *SimulationHandle) State() SimulationState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Exhausted reports whether every sample has been emitted.
func (h *SimulationHandle) Exhausted() bool {
	st := h.State()
	return st.SampleIndex >= st.SampleCount
}
