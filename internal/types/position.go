// README: Shared value objects for identifiers and observed positions.
package types

import (
	"time"

	"github.com/paulmach/orb"
)

type ID string

// Coords mirrors the coordinate block delivered by a positioning source.
// Accuracy is in meters; zero means the source did not report one.
type Coords struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Position is one fix. Live sources and the route simulator produce the same
// shape so consumers cannot tell them apart.
type Position struct {
	Coords    Coords `json:"coords"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

func NewPosition(p orb.Point, at time.Time) Position {
	return Position{
		Coords:    Coords{Longitude: p.Lon(), Latitude: p.Lat()},
		Timestamp: at.UnixMilli(),
	}
}

func (p Position) Point() orb.Point {
	return orb.Point{p.Coords.Longitude, p.Coords.Latitude}
}

func (p Position) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}
