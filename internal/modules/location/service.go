// README: Location service ingests device fixes, feeds live navigation and answers radius queries.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"navi/internal/positioning"
	"navi/internal/types"
)

// DefaultSnapshotEvery throttles Postgres snapshots per device.
const DefaultSnapshotEvery = 30 * time.Second

// Mirror copies the latest fix somewhere clients can read it directly.
type Mirror interface {
	Mirror(ctx context.Context, id types.ID, p types.Position) error
}

type ServiceConfig struct {
	SnapshotEvery time.Duration
}

type Service struct {
	store     *Store
	publisher positioning.Publisher
	mirror    Mirror
	every     time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	latest    map[types.ID]types.Position
	lastFlush map[types.ID]time.Time
}

func NewService(store *Store, publisher positioning.Publisher, mirror Mirror, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = DefaultSnapshotEvery
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		publisher: publisher,
		mirror:    mirror,
		every:     cfg.SnapshotEvery,
		logger:    logger,
		now:       time.Now,
		latest:    map[types.ID]types.Position{},
		lastFlush: map[types.ID]time.Time{},
	}
}

// Update records a device fix and forwards it to sessions watching the device.
func (s *Service) Update(ctx context.Context, u Update) (Result, error) {
	if u.DeviceID == "" || !validPoint(u.Position.Point()) || u.Position.Coords.Accuracy < 0 {
		return Result{}, ErrBadRequest
	}
	now := s.now()
	if u.Position.Timestamp == 0 {
		u.Position.Timestamp = now.UnixMilli()
	}

	ok, err := s.store.AcceptSeq(ctx, u.DeviceID, u.Seq)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	if err := s.store.SetGeo(ctx, u.DeviceID, u.Position.Point()); err != nil {
		return Result{}, fmt.Errorf("set geo: %w", err)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, string(u.DeviceID), u.Position); err != nil {
			return Result{}, fmt.Errorf("publish position: %w", err)
		}
	}
	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, u.DeviceID, u.Position); err != nil {
			s.logger.Warn("location mirror failed", "device_id", u.DeviceID, "error", err)
		}
	}

	res := Result{Accepted: true}
	if s.recordAndCheckFlush(u.DeviceID, u.Position, now) {
		if err := s.FlushSnapshot(ctx, u, now); err != nil {
			s.logger.Warn("location snapshot failed", "device_id", u.DeviceID, "error", err)
		} else {
			res.Flushed = true
		}
	}
	return res, nil
}

func (s *Service) recordAndCheckFlush(id types.ID, p types.Position, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[id] = p
	if last, ok := s.lastFlush[id]; ok && now.Sub(last) < s.every {
		return false
	}
	s.lastFlush[id] = now
	return true
}

func (s *Service) FlushSnapshot(ctx context.Context, u Update, now time.Time) error {
	return s.store.AppendSnapshot(ctx, Snapshot{
		DeviceID:   u.DeviceID,
		Position:   u.Position,
		RecordedAt: now,
	})
}

// Latest returns the last fix seen by this process, falling back to the
// newest Postgres snapshot.
func (s *Service) Latest(ctx context.Context, id types.ID) (types.Position, bool, error) {
	s.mu.Lock()
	p, ok := s.latest[id]
	s.mu.Unlock()
	if ok {
		return p, true, nil
	}
	snap, ok, err := s.store.LatestSnapshot(ctx, id)
	if err != nil || !ok {
		return types.Position{}, false, err
	}
	return snap.Position, true, nil
}

// Nearby lists devices within radiusKm of center, closest first. Without a
// Redis GEO index it searches the fixes seen by this process.
func (s *Service) Nearby(ctx context.Context, center orb.Point, radiusKm float64, limit int) ([]Nearby, error) {
	if !validPoint(center) || radiusKm <= 0 {
		return nil, ErrBadRequest
	}
	out, err := s.store.SearchGeo(ctx, center, radiusKm, limit)
	if !errors.Is(err, ErrUnavailable) {
		return out, err
	}

	s.mu.Lock()
	for id, p := range s.latest {
		if d := distanceKm(center, p.Point()); d <= radiusKm {
			out = append(out, Nearby{DeviceID: id, Point: p.Point(), DistanceKm: d})
		}
	}
	s.mu.Unlock()

	sortByDistance(out, func(n Nearby) float64 { return n.DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Forget drops a device from the index.
func (s *Service) Forget(ctx context.Context, id types.ID) error {
	s.mu.Lock()
	delete(s.latest, id)
	delete(s.lastFlush, id)
	s.mu.Unlock()
	return s.store.RemoveGeo(ctx, id)
}
