package maps

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
	"googlemaps.github.io/maps"

	"navi/internal/modules/navigation"
)

var ErrNoRoute = errors.New("no route found")

// directionsClient is the part of *maps.Client used here.
type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client   directionsClient
	language string
	region   string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, language: "zh-TW", region: "TW"}, nil
}

// Directions requests a driving route and converts the first result into a
// navigable route. Alternatives are ignored.
func (s *RouteService) Directions(ctx context.Context, origin, destination orb.Point) (*navigation.Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLngString(origin),
		Destination: latLngString(destination),
		Mode:        maps.TravelModeDriving,
		Language:    s.language,
		Region:      s.region,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, ErrNoRoute
	}
	return ToNavigationRoute(routes[0])
}

// ToNavigationRoute converts a Google route. Each step gets one banner
// announcing the maneuver that ends it: the next step's instruction, or the
// arrival on the last step.
func ToNavigationRoute(r maps.Route) (*navigation.Route, error) {
	out := &navigation.Route{}
	for li, leg := range r.Legs {
		if leg == nil {
			continue
		}
		nl := navigation.Leg{
			Distance: float64(leg.Distance.Meters),
			Duration: leg.Duration.Seconds(),
		}
		for si, step := range leg.Steps {
			line, err := decodePolyline(step.Polyline)
			if err != nil {
				return nil, fmt.Errorf("leg %d step %d: %w", li, si, err)
			}
			nl.Steps = append(nl.Steps, navigation.Step{
				Geometry: line,
				Distance: float64(step.Distance.Meters),
				Duration: step.Duration.Seconds(),
				Name:     stripHTML(step.HTMLInstructions),
				BannerInstructions: []navigation.BannerInstruction{{
					DistanceAlongGeometry: float64(step.Distance.Meters),
					Primary:               navigation.BannerText{Text: upcomingManeuver(leg, si)},
				}},
			})
		}
		out.Legs = append(out.Legs, nl)
		out.Distance += nl.Distance
		out.Duration += nl.Duration
	}
	if len(out.Steps()) == 0 {
		return nil, ErrNoRoute
	}

	overview, err := decodePolyline(r.OverviewPolyline)
	if err != nil || len(overview) < 2 {
		overview = joinSteps(out.Steps())
	}
	out.Geometry = overview

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func upcomingManeuver(leg *maps.Leg, stepIndex int) string {
	if stepIndex+1 < len(leg.Steps) {
		return stripHTML(leg.Steps[stepIndex+1].HTMLInstructions)
	}
	if leg.EndAddress != "" {
		return "Arrive at " + leg.EndAddress
	}
	return "Arrive at destination"
}

func decodePolyline(p maps.Polyline) (orb.LineString, error) {
	pts, err := p.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	line := make(orb.LineString, 0, len(pts))
	for _, ll := range pts {
		line = append(line, orb.Point{ll.Lng, ll.Lat})
	}
	return line, nil
}

func joinSteps(steps []navigation.Step) orb.LineString {
	var out orb.LineString
	for _, s := range steps {
		for i, p := range s.Geometry {
			if i == 0 && len(out) > 0 && out[len(out)-1].Equal(p) {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// stripHTML turns Google's HTML instructions into plain banner text.
func stripHTML(s string) string {
	s = strings.ReplaceAll(s, "<div", " <div")
	s = htmlTag.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

func latLngString(p orb.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat(), p.Lon())
}
