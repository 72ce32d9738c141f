// README: Live position sources: subscription contract, watch options and source errors.
package positioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"navi/internal/types"
)

// DefaultMaximumAge is how long a live fix stays usable.
const DefaultMaximumAge = 5 * time.Second

// LowAccuracyMeters is the accuracy above which fixes are dropped when high
// accuracy was requested.
const LowAccuracyMeters = 100.0

type WatchOptions struct {
	DeviceID           string
	EnableHighAccuracy bool
	MaximumAge         time.Duration
}

// Source produces live fixes for a device.
type Source interface {
	Watch(ctx context.Context, opts WatchOptions) (Subscription, error)
}

// Publisher injects fixes reported by a device into a Source.
type Publisher interface {
	Publish(ctx context.Context, deviceID string, p types.Position) error
}

// Subscription delivers fixes and asynchronous failures until Stop is called
// or the Watch context ends. Stop never blocks.
type Subscription interface {
	Positions() <-chan types.Position
	Errors() <-chan error
	Stop()
}

type ErrorCode string

const (
	CodePermissionDenied    ErrorCode = "permission_denied"
	CodePositionUnavailable ErrorCode = "position_unavailable"
	CodeTimeout             ErrorCode = "timeout"
)

var ErrMissingDevice = errors.New("device id is required")

type SourceError struct {
	Code ErrorCode
	Err  error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return "positioning: " + string(e.Code)
	}
	return fmt.Sprintf("positioning: %s: %v", e.Code, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func NewSourceError(code ErrorCode, err error) *SourceError {
	return &SourceError{Code: code, Err: err}
}

// CodeOf returns the code of the first SourceError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}
