// README: Navigation service manages sessions, wiring them to sources, persistence and metrics.
package navigation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"navi/internal/geo"
	"navi/internal/metrics"
	"navi/internal/positioning"
	"navi/internal/types"
)

// Planner turns a free-text request into a route starting at origin.
type Planner interface {
	Plan(ctx context.Context, message string, origin orb.Point) (*Route, error)
}

type ServiceConfig struct {
	Simulator SimulatorConfig
	Watch     positioning.WatchOptions
	// PersistTimeout bounds each snapshot or event write.
	PersistTimeout time.Duration
}

// progressStore is the persistence the service writes through. *Store
// implements it.
type progressStore interface {
	SaveProgress(ctx context.Context, snap ProgressSnapshot) error
	LoadProgress(ctx context.Context, id types.ID) (ProgressSnapshot, bool, error)
	DeleteProgress(ctx context.Context, id types.ID) error
	AppendStepEvent(ctx context.Context, e StepEvent) error
	StepEvents(ctx context.Context, id types.ID) ([]StepEvent, error)
}

type Service struct {
	store     progressStore
	positions positioning.Source
	planner   Planner
	cfg       ServiceConfig
	logger    *slog.Logger

	// ctx outlives requests; live subscriptions are bound to it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[types.ID]*managed
}

type managed struct {
	sess *Session
	rec  *recorder
}

func NewService(store *Store, positions positioning.Source, planner Planner, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 2 * time.Second
	}
	if cfg.Watch.MaximumAge <= 0 {
		cfg.Watch.MaximumAge = positioning.DefaultMaximumAge
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     store,
		positions: positions,
		planner:   planner,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  map[types.ID]*managed{},
	}
}

type CreateCommand struct {
	Route *Route
	// DeviceID is the default device for live navigation.
	DeviceID string
	// Listener, if set, also receives the session's output.
	Listener Listener
}

type PlanCommand struct {
	Message  string
	Origin   orb.Point
	DeviceID string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, RouteSummary, error) {
	if cmd.Route == nil {
		return "", RouteSummary{}, ErrBadRequest
	}
	id := types.ID(uuid.NewString())

	watch := s.cfg.Watch
	watch.DeviceID = cmd.DeviceID
	rec := &recorder{svc: s, id: id, next: cmd.Listener}
	sess := NewSession(SessionConfig{
		ID:        id,
		Positions: s.positions,
		Watch:     watch,
		Simulator: NewSimulator(s.cfg.Simulator, s.logger),
		Listener:  rec,
		Logger:    s.logger,
	})
	if err := sess.SetRoute(cmd.Route); err != nil {
		return "", RouteSummary{}, err
	}

	s.mu.Lock()
	s.sessions[id] = &managed{sess: sess, rec: rec}
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()

	s.logger.Info("navigation session created", "session_id", string(id), "steps", len(cmd.Route.Steps()))
	return id, Summarize(cmd.Route), nil
}

// CanPlan reports whether a planner is configured.
func (s *Service) CanPlan() bool {
	return s.planner != nil
}

// Plan asks the planner for a route and opens a session on it.
func (s *Service) Plan(ctx context.Context, cmd PlanCommand) (types.ID, RouteSummary, error) {
	if s.planner == nil {
		return "", RouteSummary{}, ErrPlannerDisabled
	}
	if cmd.Message == "" {
		return "", RouteSummary{}, ErrBadRequest
	}
	route, err := s.planner.Plan(ctx, cmd.Message, cmd.Origin)
	if err != nil {
		return "", RouteSummary{}, err
	}
	return s.Create(ctx, CreateCommand{Route: route, DeviceID: cmd.DeviceID})
}

// Get returns the live session view, falling back to the last persisted
// progress for sessions no longer held in memory.
func (s *Service) Get(ctx context.Context, id types.ID) (Snapshot, error) {
	if sess, ok := s.lookup(id); ok {
		return sess.Snapshot(), nil
	}
	snap, ok, err := s.store.LoadProgress(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	d := snap.Display
	return Snapshot{
		ID:       id,
		Source:   SourceNone,
		Progress: d.Progress,
		Display:  &d,
	}, nil
}

// DefaultDevice returns the device the session was created for, if any.
func (s *Service) DefaultDevice(id types.ID) (string, error) {
	sess, ok := s.lookup(id)
	if !ok {
		return "", ErrNotFound
	}
	return sess.DeviceID(), nil
}

// Events lists the step advancements recorded for a session. Events outlive
// the in-memory session; an unknown id with no events is ErrNotFound.
func (s *Service) Events(ctx context.Context, id types.ID) ([]StepEvent, error) {
	events, err := s.store.StepEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		if _, ok := s.lookup(id); !ok {
			return nil, ErrNotFound
		}
	}
	return events, nil
}

func (s *Service) SetRoute(ctx context.Context, id types.ID, route *Route) (RouteSummary, error) {
	sess, ok := s.lookup(id)
	if !ok {
		return RouteSummary{}, ErrNotFound
	}
	if route == nil {
		return RouteSummary{}, ErrBadRequest
	}
	if err := sess.SetRoute(route); err != nil {
		return RouteSummary{}, err
	}
	return Summarize(route), nil
}

func (s *Service) StartLive(ctx context.Context, id types.ID, deviceID string) error {
	sess, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	return sess.StartLive(s.ctx, deviceID)
}

func (s *Service) StartSimulated(ctx context.Context, id types.ID) error {
	sess, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	return sess.StartSimulated()
}

func (s *Service) Cancel(ctx context.Context, id types.ID) error {
	sess, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	sess.Cancel()
	return nil
}

// Delete cancels the session, forgets it and drops its persisted progress.
// A write already in flight finishes before the progress is dropped, and
// none follow it.
func (s *Service) Delete(ctx context.Context, id types.ID) error {
	s.mu.Lock()
	m, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.sess.Cancel()
	m.rec.close()
	metrics.ActiveSessions.Dec()
	return s.store.DeleteProgress(ctx, id)
}

// Close cancels every session. Persisted progress is kept.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = map[types.ID]*managed{}
	s.mu.Unlock()

	for _, m := range sessions {
		m.sess.Cancel()
		m.rec.close()
		metrics.ActiveSessions.Dec()
	}
	s.cancel()
}

func (s *Service) lookup(id types.ID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return m.sess, true
}

// recorder is the Listener the service installs on each session.
type recorder struct {
	svc  *Service
	id   types.ID
	next Listener

	// mu orders persistence against close.
	mu     sync.Mutex
	closed bool
}

// close waits for an in-flight write and turns later writes into no-ops.
func (r *recorder) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) OnProgress(d Display) {
	metrics.FixesProcessed.WithLabelValues(string(d.Source)).Inc()
	if d.Source == SourceSimulated {
		metrics.SimulatorSamples.Inc()
	}
	if d.Advanced {
		metrics.StepAdvances.Inc()
	}
	r.persist(d)

	if r.next != nil {
		r.next.OnProgress(d)
	}
}

func (r *recorder) persist(d Display) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	ctx, cancel := context.WithTimeout(r.svc.ctx, r.svc.cfg.PersistTimeout)
	defer cancel()

	if d.Advanced {
		err := r.svc.store.AppendStepEvent(ctx, StepEvent{
			SessionID:     r.id,
			FromStep:      d.Progress.CurrentStepIndex - 1,
			ToStep:        d.Progress.CurrentStepIndex,
			DistanceAlong: d.Progress.DistanceAlongCurrentStepMeters,
			Source:        d.Source,
			Longitude:     d.Position.Coords.Longitude,
			Latitude:      d.Position.Coords.Latitude,
			RecordedAt:    d.Position.Timestamp,
		})
		if err != nil {
			r.svc.logger.Warn("append step event failed", "session_id", string(r.id), "error", err)
		}
	}

	err := r.svc.store.SaveProgress(ctx, ProgressSnapshot{SessionID: r.id, Display: d, UpdatedAt: time.Now()})
	if err != nil {
		r.svc.logger.Warn("save progress failed", "session_id", string(r.id), "error", err)
	}
}

func (r *recorder) OnError(err error) {
	metrics.SourceErrors.WithLabelValues(errorCode(err)).Inc()
	if r.next != nil {
		r.next.OnError(err)
	}
}

func errorCode(err error) string {
	if code, ok := positioning.CodeOf(err); ok {
		return string(code)
	}
	switch {
	case errors.Is(err, ErrNoInstruction):
		return "no_instruction"
	case errors.Is(err, geo.ErrTooFewPoints):
		return "geometry"
	case errors.Is(err, ErrNoActiveRoute), errors.Is(err, ErrStepOutOfRange):
		return "state"
	default:
		return "other"
	}
}
