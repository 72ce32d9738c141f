package navigation

import (
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"navi/internal/types"
)

var testOrigin = orb.Point{121.5645, 25.0340}

// offset moves east/north from p by the given meters.
func offset(p orb.Point, east, north float64) orb.Point {
	if north != 0 {
		p = geo.PointAtBearingAndDistance(p, 0, north)
	}
	if east != 0 {
		p = geo.PointAtBearingAndDistance(p, 90, east)
	}
	return p
}

func fixAt(p orb.Point) types.Position {
	return types.NewPosition(p, time.Now())
}

func banner(threshold float64, text string) BannerInstruction {
	return BannerInstruction{DistanceAlongGeometry: threshold, Primary: BannerText{Text: text}}
}

// cornerRoute heads 200 m north from testOrigin, then 200 m east.
func cornerRoute() *Route {
	a := testOrigin
	b := offset(a, 0, 200)
	c := offset(b, 200, 0)
	return &Route{
		Legs: []Leg{{
			Steps: []Step{
				{
					Geometry: orb.LineString{a, b},
					Distance: 200,
					BannerInstructions: []BannerInstruction{
						banner(200, "Head north"),
						banner(50, "Turn right onto East St"),
					},
				},
				{
					Geometry: orb.LineString{b, c},
					Distance: 200,
					BannerInstructions: []BannerInstruction{
						banner(200, "Continue on East St"),
						banner(30, "You have arrived"),
					},
				},
			},
			Distance: 400,
		}},
		Geometry: orb.LineString{a, b, c},
		Distance: 400,
		Duration: 95,
	}
}

// parallelRoute has a second step on a road 20 m east of the first, starting
// 110 m north of the origin.
func parallelRoute() *Route {
	a := testOrigin
	return &Route{
		Legs: []Leg{{
			Steps: []Step{
				{
					Geometry:           orb.LineString{a, offset(a, 0, 200)},
					Distance:           200,
					BannerInstructions: []BannerInstruction{banner(200, "Head north")},
				},
				{
					Geometry:           orb.LineString{offset(a, 20, 110), offset(a, 20, 400)},
					Distance:           290,
					BannerInstructions: []BannerInstruction{banner(290, "Keep right")},
				},
			},
		}},
		Geometry: orb.LineString{a, offset(a, 0, 110), offset(a, 20, 110), offset(a, 20, 400)},
		Distance: 400,
	}
}

// straightRoute is a single north-bound step of the given length.
func straightRoute(meters float64) *Route {
	a := testOrigin
	b := offset(a, 0, meters)
	return &Route{
		Legs: []Leg{{Steps: []Step{{
			Geometry:           orb.LineString{a, b},
			Distance:           meters,
			BannerInstructions: []BannerInstruction{banner(meters, "Head north")},
		}}}},
		Geometry: orb.LineString{a, b},
		Distance: meters,
	}
}

// collector is a Listener that records everything it receives.
type collector struct {
	mu       sync.Mutex
	displays []Display
	errs     []error
	onFix    func(Display)
}

func (c *collector) OnProgress(d Display) {
	c.mu.Lock()
	c.displays = append(c.displays, d)
	hook := c.onFix
	c.mu.Unlock()
	if hook != nil {
		hook(d)
	}
}

func (c *collector) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.displays)
}

func (c *collector) errorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func (c *collector) last() Display {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displays[len(c.displays)-1]
}

func (c *collector) lastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs[len(c.errs)-1]
}
