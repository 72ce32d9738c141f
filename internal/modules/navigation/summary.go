package navigation

import "math"

// RouteSummary is the rounded trip overview shown before navigation starts.
type RouteSummary struct {
	Minutes         int     `json:"minutes"`
	Kilometers      int     `json:"kilometers"`
	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds float64 `json:"duration_s"`
	Steps           int     `json:"steps"`
}

func Summarize(r *Route) RouteSummary {
	if r == nil {
		return RouteSummary{}
	}
	return RouteSummary{
		Minutes:         int(math.Round(r.Duration / 60)),
		Kilometers:      int(math.Round(r.Distance / 1000)),
		DistanceMeters:  r.Distance,
		DurationSeconds: r.Duration,
		Steps:           len(r.Steps()),
	}
}
