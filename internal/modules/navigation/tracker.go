// README: Step-advancement state machine driven by position fixes.
package navigation

import (
	"fmt"

	"navi/internal/geo"
	"navi/internal/types"
)

// AdvanceLookaheadMeters bounds how far into the next step a fix may project
// and still trigger advancement.
const AdvanceLookaheadMeters = 50.0

// Tracker owns the ProgressState of one session. It is not safe for
// concurrent use; the session serialises calls.
type Tracker struct {
	steps []Step
	state ProgressState
}

func NewTracker(route *Route) *Tracker {
	t := &Tracker{}
	t.Reset(route)
	return t
}

// Reset discards progress and starts over on route (which may be nil).
func (t *Tracker) Reset(route *Route) {
	t.steps = route.Steps()
	t.state = ProgressState{}
}

func (t *Tracker) State() ProgressState {
	return t.state
}

// OnPosition projects the fix onto the current step and the one after it and
// advances when the fix is closer to the next step and still within
// AdvanceLookaheadMeters of its start. State is unchanged on error.
func (t *Tracker) OnPosition(p types.Position) (ProgressState, error) {
	if len(t.steps) == 0 {
		return t.state, ErrNoActiveRoute
	}
	idx := t.state.CurrentStepIndex
	if idx < 0 || idx >= len(t.steps) {
		return t.state, ErrStepOutOfRange
	}

	pt := p.Point()
	cur, err := geo.Project(t.steps[idx].Geometry, pt)
	if err != nil {
		return t.state, fmt.Errorf("project onto step %d: %w", idx, err)
	}

	if idx+1 < len(t.steps) {
		next, err := geo.Project(t.steps[idx+1].Geometry, pt)
		if err != nil {
			return t.state, fmt.Errorf("project onto step %d: %w", idx+1, err)
		}
		if next.DistanceMeters < cur.DistanceMeters && next.AlongMeters < AdvanceLookaheadMeters {
			t.state = ProgressState{
				CurrentStepIndex:               idx + 1,
				DistanceAlongCurrentStepMeters: next.AlongMeters,
			}
			return t.state, nil
		}
	}

	t.state.DistanceAlongCurrentStepMeters = cur.AlongMeters
	return t.state, nil
}
