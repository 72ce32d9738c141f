package quota

import "errors"

// ErrExhausted is returned when a caller has no plans remaining for the current month.
var ErrExhausted = errors.New("monthly plan quota exhausted")

// DefaultMonthlyPlans is the number of trip plans granted per month.
const DefaultMonthlyPlans = 100
