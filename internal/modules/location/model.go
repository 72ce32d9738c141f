// README: Device location updates, snapshots and nearby query results.
package location

import (
	"errors"
	"time"

	"github.com/paulmach/orb"

	"navi/internal/types"
)

var (
	ErrBadRequest  = errors.New("bad request")
	ErrUnavailable = errors.New("location index unavailable")
)

// Update is one fix reported by a device. Seq is optional; when set, updates
// with a Seq not greater than the last accepted one are ignored.
type Update struct {
	DeviceID types.ID
	Seq      int64
	Position types.Position
}

type Result struct {
	Accepted bool
	Flushed  bool
}

type Snapshot struct {
	ID         int64
	DeviceID   types.ID
	Position   types.Position
	RecordedAt time.Time
}

// Nearby is a device found by a radius query.
type Nearby struct {
	DeviceID   types.ID
	Point      orb.Point
	DistanceKm float64
}
