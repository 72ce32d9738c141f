// README: Navigation route model, progress state and module errors.
package navigation

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"navi/internal/types"
)

var (
	ErrNoActiveRoute    = errors.New("no active route")
	ErrStepOutOfRange   = errors.New("current step index out of range")
	ErrNoInstruction    = errors.New("step has no banner instructions")
	ErrSourceActive     = errors.New("a position source is already active")
	ErrStartAborted     = errors.New("live start aborted by cancel or route change")
	ErrNoPositionSource = errors.New("live positioning is not configured")
	ErrInvalidRoute     = errors.New("invalid route")
	ErrInvalidDistance  = errors.New("route distance must be a non-negative number")
	ErrNotFound         = errors.New("navigation session not found")
	ErrPlannerDisabled  = errors.New("trip planning is not configured")
	ErrBadRequest       = errors.New("bad request")
)

type BannerText struct {
	Text string `json:"text"`
}

// BannerInstruction is one guidance message. DistanceAlongGeometry is the
// remaining distance to the maneuver, in meters, at which it becomes eligible.
type BannerInstruction struct {
	DistanceAlongGeometry float64     `json:"distance_along_geometry"`
	Primary               BannerText  `json:"primary"`
	Secondary             *BannerText `json:"secondary,omitempty"`
}

type Step struct {
	Geometry           orb.LineString
	Distance           float64 // meters
	Duration           float64 // seconds
	Name               string
	BannerInstructions []BannerInstruction
}

type Leg struct {
	Steps    []Step
	Distance float64
	Duration float64
}

// Route is read-only once handed to a session. Only the first leg is navigated.
type Route struct {
	Legs     []Leg
	Geometry orb.LineString
	Distance float64
	Duration float64
}

// Steps returns the steps of the first leg, or nil.
func (r *Route) Steps() []Step {
	if r == nil || len(r.Legs) == 0 {
		return nil
	}
	return r.Legs[0].Steps
}

// Validate checks the structural requirements for tracking and simulation.
func (r *Route) Validate() error {
	steps := r.Steps()
	if len(steps) == 0 {
		return ErrNoActiveRoute
	}
	for i, s := range steps {
		if len(s.Geometry) < 2 {
			return invalidRoutef("step %d geometry has %d points", i, len(s.Geometry))
		}
		if s.Distance < 0 {
			return invalidRoutef("step %d has negative distance", i)
		}
	}
	if len(r.Geometry) < 2 {
		return invalidRoutef("route geometry has %d points", len(r.Geometry))
	}
	if r.Distance < 0 {
		return invalidRoutef("route has negative distance")
	}
	return nil
}

func invalidRoutef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidRoute}, args...)...)
}

type ProgressState struct {
	CurrentStepIndex               int     `json:"current_step_index"`
	DistanceAlongCurrentStepMeters float64 `json:"distance_along_current_step_m"`
}

type SimulationState struct {
	SampleIndex             int     `json:"sample_index"`
	SampleCount             int     `json:"sample_count"`
	DistanceIncrementMeters float64 `json:"distance_increment_m"`
}

type SourceKind string

const (
	SourceNone      SourceKind = "none"
	SourceLive      SourceKind = "live"
	SourceSimulated SourceKind = "simulated"
)

// Display is the payload handed to the presentation layer after every fix.
// Instruction is nil when the current step carries no banners.
type Display struct {
	Progress                 ProgressState      `json:"progress"`
	Instruction              *BannerInstruction `json:"instruction,omitempty"`
	DistanceToManeuverMeters float64            `json:"distance_to_maneuver_m"`
	Position                 types.Position     `json:"position"`
	Source                   SourceKind         `json:"source"`
	Advanced                 bool               `json:"advanced"`
}

// StepEvent records a step advancement for the session event log.
type StepEvent struct {
	SessionID     types.ID
	FromStep      int
	ToStep        int
	DistanceAlong float64
	Source        SourceKind
	Longitude     float64
	Latitude      float64
	RecordedAt    int64 // unix milliseconds of the triggering fix
}
