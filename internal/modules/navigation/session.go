// README: Navigation session; owns the route, the tracker and the single active position source.
package navigation

import (
	"context"
	"log/slog"
	"sync"

	"navi/internal/positioning"
	"navi/internal/types"
)

// Listener receives session output. Calls for one source arrive in fix order
// and never while the session lock is held.
type Listener interface {
	OnProgress(Display)
	OnError(error)
}

type ListenerFuncs struct {
	Progress func(Display)
	Error    func(error)
}

func (l ListenerFuncs) OnProgress(d Display) {
	if l.Progress != nil {
		l.Progress(d)
	}
}

func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// activeSource is the session's source slot; nil means no source.
type activeSource interface {
	kind() SourceKind
	stop()
}

type liveSource struct {
	sub  positioning.Subscription
	quit chan struct{}
}

func (l *liveSource) kind() SourceKind { return SourceLive }

func (l *liveSource) stop() {
	l.sub.Stop()
	close(l.quit)
}

type simulatedSource struct {
	handle *SimulationHandle
}

func (s *simulatedSource) kind() SourceKind { return SourceSimulated }
func (s *simulatedSource) stop()            { s.handle.Cancel() }

type SessionConfig struct {
	ID        types.ID
	Positions positioning.Source
	Watch     positioning.WatchOptions
	Simulator *Simulator
	Listener  Listener
	Logger    *slog.Logger
}

type Session struct {
	id        types.ID
	positions positioning.Source
	watch     positioning.WatchOptions
	simulator *Simulator
	listener  Listener
	logger    *slog.Logger

	mu         sync.Mutex
	route      *Route
	tracker    *Tracker
	source     activeSource
	starting   bool // a live Watch is in flight
	generation uint64
	last       *Display
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sim := cfg.Simulator
	if sim == nil {
		sim = NewSimulator(SimulatorConfig{}, logger)
	}
	listener := cfg.Listener
	if listener == nil {
		listener = ListenerFuncs{}
	}
	return &Session{
		id:        cfg.ID,
		positions: cfg.Positions,
		watch:     cfg.Watch,
		simulator: sim,
		listener:  listener,
		logger:    logger.With("session_id", string(cfg.ID)),
		tracker:   NewTracker(nil),
	}
}

func (s *Session) ID() types.ID {
	return s.id
}

// DeviceID is the device live navigation follows when none is given.
func (s *Session) DeviceID() string {
	return s.watch.DeviceID
}

// SetRoute switches to route, stopping any active source and resetting
// progress to the first step.
func (s *Session) SetRoute(route *Route) error {
	if route == nil {
		return ErrNoActiveRoute
	}
	if err := route.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil {
		s.logger.Info("route changed while navigating; stopping source", "source", s.source.kind())
		s.stopSourceLocked()
	}
	if s.starting {
		s.generation++
	}
	s.route = route
	s.tracker.Reset(route)
	s.last = nil
	return nil
}

// StartLive subscribes to live positions. The watch options come from the
// session config; deviceID overrides the configured device when non-empty.
// Watch runs without the session lock held, so a slow source does not stall
// Snapshot or fixes. A Cancel or SetRoute that lands meanwhile aborts the
// start with ErrStartAborted.
func (s *Session) StartLive(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	if s.route == nil {
		s.mu.Unlock()
		return ErrNoActiveRoute
	}
	if s.source != nil || s.starting {
		s.mu.Unlock()
		return ErrSourceActive
	}
	if s.positions == nil {
		s.mu.Unlock()
		return ErrNoPositionSource
	}
	opts := s.watch
	if deviceID != "" {
		opts.DeviceID = deviceID
	}
	s.starting = true
	gen := s.generation
	s.mu.Unlock()

	sub, err := s.positions.Watch(ctx, opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		return err
	}
	if gen != s.generation {
		sub.Stop()
		return ErrStartAborted
	}

	s.generation++
	live := &liveSource{sub: sub, quit: make(chan struct{})}
	s.source = live
	go s.pumpLive(s.generation, live)

	s.logger.Info("live navigation started", "device_id", opts.DeviceID)
	return nil
}

// StartSimulated replays the active route through the simulator.
func (s *Session) StartSimulated() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.route == nil {
		return ErrNoActiveRoute
	}
	if s.source != nil || s.starting {
		return ErrSourceActive
	}

	gen := s.generation + 1
	handle, err := s.simulator.Start(s.route.Geometry, s.route.Distance, func(p types.Position) {
		s.handleFix(gen, SourceSimulated, p)
	})
	if err != nil {
		return err
	}
	s.generation = gen
	s.source = &simulatedSource{handle: handle}

	s.logger.Info("simulated navigation started", "route_distance_m", s.route.Distance)
	return nil
}

// Cancel stops the active source, or aborts a live start still subscribing.
// It is a no-op when nothing is active.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		if s.starting {
			s.generation++
		}
		return
	}
	s.logger.Info("navigation cancelled", "source", s.source.kind())
	s.stopSourceLocked()
}

func (s *Session) stopSourceLocked() {
	s.source.stop()
	s.source = nil
	s.generation++
}

func (s *Session) Navigating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source != nil
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	ID         types.ID         `json:"session_id"`
	Navigating bool             `json:"navigating"`
	Source     SourceKind       `json:"source"`
	Progress   ProgressState    `json:"progress"`
	Display    *Display         `json:"display,omitempty"`
	Simulation *SimulationState `json:"simulation,omitempty"`
	Summary    *RouteSummary    `json:"summary,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:       s.id,
		Source:   SourceNone,
		Progress: s.tracker.State(),
	}
	if s.source != nil {
		snap.Navigating = true
		snap.Source = s.source.kind()
		if sim, ok := s.source.(*simulatedSource); ok {
			st := sim.handle.State()
			snap.Simulation = &st
		}
	}
	if s.last != nil {
		d := *s.last
		snap.Display = &d
	}
	if s.route != nil {
		sum := Summarize(s.route)
		snap.Summary = &sum
	}
	return snap
}

func (s *Session) pumpLive(gen uint64, live *liveSource) {
	for {
		select {
		case <-live.quit:
			return
		case p := <-live.sub.Positions():
			s.handleFix(gen, SourceLive, p)
		case err := <-live.sub.Errors():
			s.handleSourceError(gen, err)
		}
	}
}

// handleFix runs one fix through the tracker and selector. Fixes from a
// source that has since been replaced or cancelled are dropped.
func (s *Session) handleFix(gen uint64, kind SourceKind, p types.Position) {
	s.mu.Lock()
	if gen != s.generation || s.source == nil {
		s.mu.Unlock()
		return
	}

	before := s.tracker.State()
	state, err := s.tracker.OnPosition(p)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("fix rejected", "source", kind, "error", err)
		s.listener.OnError(err)
		return
	}

	step := s.route.Steps()[state.CurrentStepIndex]
	d := Display{
		Progress:                 state,
		DistanceToManeuverMeters: DistanceToManeuver(step, state.DistanceAlongCurrentStepMeters),
		Position:                 p,
		Source:                   kind,
		Advanced:                 state.CurrentStepIndex > before.CurrentStepIndex,
	}
	instr, selErr := SelectInstruction(step, state.DistanceAlongCurrentStepMeters)
	if selErr == nil {
		d.Instruction = &instr
	}
	s.last = &d
	s.mu.Unlock()

	if d.Advanced {
		s.logger.Debug("step advanced",
			"step_index", state.CurrentStepIndex,
			"distance_along_m", state.DistanceAlongCurrentStepMeters,
			"source", kind,
		)
	}
	s.listener.OnProgress(d)
	if selErr != nil {
		s.listener.OnError(selErr)
	}
}

// handleSourceError forwards a source failure. Progress is left as is.
func (s *Session) handleSourceError(gen uint64, err error) {
	s.mu.Lock()
	stale := gen != s.generation || s.source == nil
	s.mu.Unlock()
	if stale {
		return
	}
	s.logger.Warn("position source error", "error", err)
	s.listener.OnError(err)
}
