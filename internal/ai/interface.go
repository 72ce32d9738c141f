package ai

import (
	"context"
)

// DestinationParser turns a free-form request ("take me to the nearest
// station") into a structured destination.
type DestinationParser interface {
	// currentContext carries request facts like "current_time" and "user_location".
	ParseDestination(ctx context.Context, userMessage string, currentContext map[string]string) (*DestinationIntent, error)
}
