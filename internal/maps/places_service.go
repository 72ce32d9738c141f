package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"googlemaps.github.io/maps"
)

var ErrNoPlace = errors.New("no matching place")

// DefaultSearchRadiusMeters biases text search around the caller.
const DefaultSearchRadiusMeters = 5000

// Place is a destination candidate.
type Place struct {
	Name     string
	Address  string
	PlaceID  string
	Rating   float32
	Location orb.Point
}

// SearchOptions refines a text search.
type SearchOptions struct {
	// SearchKeywords are prepended to the query (e.g. "24h").
	SearchKeywords string
	// ExcludeKeywords disqualify any result whose name contains one of them.
	ExcludeKeywords []string
	// MinRating drops results rated below it. Zero keeps unrated places.
	MinRating float32
	// Limit caps the result count; zero means 3.
	Limit int
}

type textSearcher interface {
	TextSearch(ctx context.Context, r *maps.TextSearchRequest) (maps.PlacesSearchResponse, error)
}

// PlacesService handles interactions with Google Places API.
type PlacesService struct {
	client   textSearcher
	language string
	region   string
}

// NewPlacesService creates a new PlacesService with the given API Key.
func NewPlacesService(apiKey string) (*PlacesService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &PlacesService{client: client, language: "zh-TW", region: "TW"}, nil
}

// SearchNear runs a text search biased toward near. Results keep API order.
func (s *PlacesService) SearchNear(ctx context.Context, query string, near orb.Point, opts *SearchOptions) ([]Place, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	fullQuery := strings.TrimSpace(query)
	if opts.SearchKeywords != "" {
		fullQuery = opts.SearchKeywords + " " + fullQuery
	}

	r := &maps.TextSearchRequest{
		Query:    fullQuery,
		Language: s.language,
		Region:   s.region,
	}
	if !near.Equal(orb.Point{}) {
		r.Location = &maps.LatLng{Lat: near.Lat(), Lng: near.Lon()}
		r.Radius = DefaultSearchRadiusMeters
	}

	resp, err := s.client.TextSearch(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("places api error: %w", err)
	}
	return filterPlaces(resp.Results, opts), nil
}

// Best returns the first acceptable place for query.
func (s *PlacesService) Best(ctx context.Context, query string, near orb.Point, opts *SearchOptions) (Place, error) {
	places, err := s.SearchNear(ctx, query, near, opts)
	if err != nil {
		return Place{}, err
	}
	if len(places) == 0 {
		return Place{}, ErrNoPlace
	}
	return places[0], nil
}

func filterPlaces(results []maps.PlacesSearchResult, opts *SearchOptions) []Place {
	limit := opts.Limit
	if limit <= 0 {
		limit = 3
	}

	var out []Place
	for _, result := range results {
		if opts.MinRating > 0 && result.Rating < opts.MinRating {
			continue
		}
		if containsAny(result.Name, opts.ExcludeKeywords) {
			continue
		}
		loc := result.Geometry.Location
		out = append(out, Place{
			Name:     result.Name,
			Address:  result.FormattedAddress,
			PlaceID:  result.PlaceID,
			Rating:   result.Rating,
			Location: orb.Point{loc.Lng, loc.Lat},
		})
		if len(out) >= limit {
			break
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
