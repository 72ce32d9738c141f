// README: TripPlanner turns a spoken request into a route: Gemini picks the
// destination, Places resolves it to a point, Directions builds the route.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"navi/internal/ai"
	"navi/internal/maps"
	"navi/internal/modules/navigation"
)

// ErrNoDestination means the message did not name a place we could search for.
var ErrNoDestination = errors.New("no destination in request")

type placeFinder interface {
	SearchNear(ctx context.Context, query string, near orb.Point, opts *maps.SearchOptions) ([]maps.Place, error)
}

type routeFinder interface {
	Directions(ctx context.Context, origin, destination orb.Point) (*navigation.Route, error)
}

// TripPlanner orchestrates the AI intent parsing and Google Maps routing.
type TripPlanner struct {
	parser ai.DestinationParser
	places placeFinder
	routes routeFinder
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewTripPlanner creates a TripPlanner with initialized dependencies.
func NewTripPlanner(parser ai.DestinationParser, routes *maps.RouteService, places *maps.PlacesService, tz string, logger *slog.Logger) (*TripPlanner, error) {
	return newTripPlanner(parser, places, routes, tz, logger)
}

func newTripPlanner(parser ai.DestinationParser, places placeFinder, routes routeFinder, tz string, logger *slog.Logger) (*TripPlanner, error) {
	if tz == "" {
		tz = "Asia/Taipei"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s location: %w", tz, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TripPlanner{
		parser: parser,
		places: places,
		routes: routes,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Plan implements navigation.Planner.
func (p *TripPlanner) Plan(ctx context.Context, message string, origin orb.Point) (*navigation.Route, error) {
	currentContext := map[string]string{
		"current_time":  p.now().In(p.loc).Format(time.RFC3339),
		"user_location": fmt.Sprintf("%f,%f", origin.Lat(), origin.Lon()),
	}

	intent, err := p.parser.ParseDestination(ctx, message, currentContext)
	if err != nil {
		p.logger.Error("destination parse failed", "err", err)
		return nil, fmt.Errorf("parse destination: %w", err)
	}
	query := intent.Query()
	if intent.Intent == ai.IntentClarification || query == "" {
		if intent.Reply != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoDestination, intent.Reply)
		}
		return nil, ErrNoDestination
	}

	candidates, err := p.places.SearchNear(ctx, query, origin, &maps.SearchOptions{
		ExcludeKeywords: intent.ExcludeKeywords,
		Limit:           1,
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %q", maps.ErrNoPlace, query)
	}
	dest := candidates[0]
	p.logger.Info("destination resolved", "query", query, "place", dest.Name, "place_id", dest.PlaceID)

	route, err := p.routes.Directions(ctx, origin, dest.Location)
	if err != nil {
		return nil, fmt.Errorf("route to %s: %w", dest.Name, err)
	}
	return route, nil
}

var _ navigation.Planner = (*TripPlanner)(nil)
