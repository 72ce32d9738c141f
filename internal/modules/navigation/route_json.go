// README: Route decoding from directions JSON with GeoJSON geometries.
package navigation

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var validate = validator.New()

type bannerTextDoc struct {
	Text string `json:"text"`
}

type bannerDoc struct {
	DistanceAlongGeometry float64        `json:"distanceAlongGeometry" validate:"gte=0"`
	Primary               bannerTextDoc  `json:"primary"`
	Secondary             *bannerTextDoc `json:"secondary,omitempty"`
}

type stepDoc struct {
	Distance           float64           `json:"distance" validate:"gte=0"`
	Duration           float64           `json:"duration" validate:"gte=0"`
	Name               string            `json:"name,omitempty"`
	Geometry           *geojson.Geometry `json:"geometry" validate:"required"`
	BannerInstructions []bannerDoc       `json:"bannerInstructions" validate:"dive"`
}

type legDoc struct {
	Distance float64   `json:"distance" validate:"gte=0"`
	Duration float64   `json:"duration" validate:"gte=0"`
	Steps    []stepDoc `json:"steps" validate:"required,min=1,dive"`
}

type routeDoc struct {
	Distance float64           `json:"distance" validate:"gte=0"`
	Duration float64           `json:"duration" validate:"gte=0"`
	Geometry *geojson.Geometry `json:"geometry,omitempty"`
	Legs     []legDoc          `json:"legs" validate:"required,min=1,dive"`
}

type directionsDoc struct {
	Routes []json.RawMessage `json:"routes"`
}

// DecodeRoute parses a single route object or a directions response with a
// "routes" array, in which case the first route is used. When the route has
// no top-level geometry the step geometries are joined instead.
func DecodeRoute(data []byte) (*Route, error) {
	var wrapper directionsDoc
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Routes) > 0 {
		data = wrapper.Routes[0]
	}

	var doc routeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}

	route := &Route{Distance: doc.Distance, Duration: doc.Duration}
	for li, ld := range doc.Legs {
		leg := Leg{Distance: ld.Distance, Duration: ld.Duration}
		for si, sd := range ld.Steps {
			line, err := lineString(sd.Geometry)
			if err != nil {
				return nil, invalidRoutef("leg %d step %d: %v", li, si, err)
			}
			leg.Steps = append(leg.Steps, Step{
				Geometry:           line,
				Distance:           sd.Distance,
				Duration:           sd.Duration,
				Name:               sd.Name,
				BannerInstructions: banners(sd.BannerInstructions),
			})
		}
		route.Legs = append(route.Legs, leg)
	}

	if doc.Geometry != nil {
		line, err := lineString(doc.Geometry)
		if err != nil {
			return nil, invalidRoutef("route geometry: %v", err)
		}
		route.Geometry = line
	} else {
		route.Geometry = joinSteps(route.Steps())
	}

	if err := route.Validate(); err != nil {
		return nil, err
	}
	return route, nil
}

func lineString(g *geojson.Geometry) (orb.LineString, error) {
	if g == nil {
		return nil, fmt.Errorf("missing geometry")
	}
	ls, ok := g.Geometry().(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("geometry is %s, want LineString", g.Type)
	}
	return ls, nil
}

func banners(docs []bannerDoc) []BannerInstruction {
	out := make([]BannerInstruction, 0, len(docs))
	for _, b := range docs {
		bi := BannerInstruction{
			DistanceAlongGeometry: b.DistanceAlongGeometry,
			Primary:               BannerText{Text: b.Primary.Text},
		}
		if b.Secondary != nil {
			bi.Secondary = &BannerText{Text: b.Secondary.Text}
		}
		out = append(out, bi)
	}
	return out
}

// joinSteps concatenates step geometries, skipping a vertex repeated at a
// step boundary.
func joinSteps(steps []Step) orb.LineString {
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
