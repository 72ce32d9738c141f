// README: Location store backed by Redis GEO and Postgres snapshots.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"

	"navi/internal/types"
)

const (
	geoKey       = "geo:devices"
	seqKeyFormat = "devices:%s:seq"
	seqTTL       = time.Hour
)

// acceptSeq stores ARGV[1] when it is greater than the current value.
var acceptSeq = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local next = tonumber(ARGV[1])
if next <= cur then
  return 0
end
redis.call("SET", KEYS[1], next, "PX", ARGV[2])
return 1
`)

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

// AcceptSeq reports whether seq is newer than the last one seen for the device.
// Without Redis every update is accepted.
func (s *Store) AcceptSeq(ctx context.Context, id types.ID, seq int64) (bool, error) {
	if s == nil || s.redis == nil || seq <= 0 {
		return true, nil
	}
	ok, err := acceptSeq.Run(ctx, s.redis, []string{fmt.Sprintf(seqKeyFormat, id)}, seq, seqTTL.Milliseconds()).Bool()
	if err != nil {
		return false, fmt.Errorf("accept seq: %w", err)
	}
	return ok, nil
}

func (s *Store) SetGeo(ctx context.Context, id types.ID, p orb.Point) error {
	if s == nil || s.redis == nil {
		return nil
	}
	return s.redis.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lon(),
		Latitude:  p.Lat(),
	}).Err()
}

func (s *Store) RemoveGeo(ctx context.Context, id types.ID) error {
	if s == nil || s.redis == nil {
		return nil
	}
	return s.redis.ZRem(ctx, geoKey, string(id)).Err()
}

// SearchGeo returns devices within radiusKm of center, closest first.
func (s *Store) SearchGeo(ctx context.Context, center orb.Point, radiusKm float64, limit int) ([]Nearby, error) {
	if s == nil || s.redis == nil {
		return nil, ErrUnavailable
	}
	locs, err := s.redis.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lon(),
			Latitude:   center.Lat(),
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}
	out := make([]Nearby, 0, len(locs))
	for _, l := range locs {
		out = append(out, Nearby{
			DeviceID:   types.ID(l.Name),
			Point:      orb.Point{l.Longitude, l.Latitude},
			DistanceKm: l.Dist,
		})
	}
	return out, nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap Snapshot) error {
	if s == nil || s.db == nil {
		return nil
	}
	var accuracy *float64
	if snap.Position.Coords.Accuracy > 0 {
		a := snap.Position.Coords.Accuracy
		accuracy = &a
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO device_location_snapshots (device_id, lng, lat, accuracy_m, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(snap.DeviceID), snap.Position.Coords.Longitude, snap.Position.Coords.Latitude, accuracy, snap.RecordedAt)
	if err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent persisted fix for a device.
func (s *Store) LatestSnapshot(ctx context.Context, id types.ID) (Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, false, nil
	}
	var (
		snap     Snapshot
		deviceID string
		accuracy *float64
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, device_id, lng, lat, accuracy_m, recorded_at
		FROM device_location_snapshots
		WHERE device_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`, string(id)).Scan(
		&snap.ID, &deviceID, &snap.Position.Coords.Longitude, &snap.Position.Coords.Latitude, &accuracy, &snap.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	snap.DeviceID = types.ID(deviceID)
	if accuracy != nil {
		snap.Position.Coords.Accuracy = *accuracy
	}
	snap.Position.Timestamp = snap.RecordedAt.UnixMilli()
	return snap, true, nil
}
