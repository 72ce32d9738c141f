// README: Navigation store; Redis progress snapshots and a Postgres step event log.
package navigation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"navi/internal/types"
)

const (
	progressKeyPrefix = "navigation:session:%s:progress"
	// Snapshots outlive the in-memory session so a restarted API can still answer.
	progressTTL = 24 * time.Hour
)

// Store persists navigation output. Either backend may be nil, in which case
// its writes are skipped and its reads report nothing.
type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

type ProgressSnapshot struct {
	SessionID types.ID  `json:"session_id"`
	Display   Display   `json:"display"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) SaveProgress(ctx context.Context, snap ProgressSnapshot) error {
	if s == nil || s.redis == nil {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, progressKey(snap.SessionID), payload, progressTTL).Err()
}

// LoadProgress returns the last saved snapshot and whether one exists.
func (s *Store) LoadProgress(ctx context.Context, id types.ID) (ProgressSnapshot, bool, error) {
	if s == nil || s.redis == nil {
		return ProgressSnapshot{}, false, nil
	}
	val, err := s.redis.Get(ctx, progressKey(id)).Result()
	if err == redis.Nil {
		return ProgressSnapshot{}, false, nil
	}
	if err != nil {
		return ProgressSnapshot{}, false, err
	}
	var snap ProgressSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return ProgressSnapshot{}, false, fmt.Errorf("decode progress snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *Store) DeleteProgress(ctx context.Context, id types.ID) error {
	if s == nil || s.redis == nil {
		return nil
	}
	return s.redis.Del(ctx, progressKey(id)).Err()
}

func (s *Store) AppendStepEvent(ctx context.Context, e StepEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO navigation_step_events (
			session_id, from_step, to_step, distance_along_m, source, lng, lat, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(e.SessionID),
		e.FromStep,
		e.ToStep,
		e.DistanceAlong,
		string(e.Source),
		e.Longitude,
		e.Latitude,
		time.UnixMilli(e.RecordedAt),
	)
	return err
}

// StepEvents lists a session's step advancements in order.
func (s *Store) StepEvents(ctx context.Context, id types.ID) ([]StepEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT session_id, from_step, to_step, distance_along_m, source, lng, lat, recorded_at
		FROM navigation_step_events
		WHERE session_id = $1
		ORDER BY id`, string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepEvent
	for rows.Next() {
		var e StepEvent
		var sessionID, source string
		var recordedAt time.Time
		if err := rows.Scan(&sessionID, &e.FromStep, &e.ToStep, &e.DistanceAlong, &source, &e.Longitude, &e.Latitude, &recordedAt); err != nil {
			return nil, err
		}
		e.SessionID = types.ID(sessionID)
		e.Source = SourceKind(source)
		e.RecordedAt = recordedAt.UnixMilli()
		out = append(out, e)
	}
	return out, rows.Err()
}

func progressKey(id types.ID) string {
	return fmt.Sprintf(progressKeyPrefix, string(id))
}
