package navigation

// DistanceToManeuver is the distance left on step after travelling
// distanceAlong meters of it.
func DistanceToManeuver(step Step, distanceAlong float64) float64 {
	return step.Distance - distanceAlong
}

// SelectInstruction picks the banner to show. Every instruction whose
// threshold exceeds the remaining distance overwrites the previous choice, so
// the last match in array order wins and the first element is the fallback.
// The array is used as given, never re-sorted.
func SelectInstruction(step Step, distanceAlong float64) (BannerInstruction, error) {
	if len(step.BannerInstructions) == 0 {
		return BannerInstruction{}, ErrNoInstruction
	}
	remaining := DistanceToManeuver(step, distanceAlong)

	chosen := step.BannerInstructions[0]
	for _, b := range step.BannerInstructions {
		if b.DistanceAlongGeometry > remaining {
			chosen = b
		}
	}
	return chosen, nil
}
