// README: Mirrors device fixes into Firebase RTDB so phones can follow each other directly.
package location

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"

	"navi/internal/types"
)

const rtdbDeviceNode = "device_locations"

// rtdbDeviceEntry mirrors a single entry under /device_locations.
type rtdbDeviceEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

type FirebaseMirror struct {
	ref *db.Ref
}

// NewFirebaseMirror needs an app configured with a DatabaseURL.
func NewFirebaseMirror(ctx context.Context, app *firebase.App) (*FirebaseMirror, error) {
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
	}
	return &FirebaseMirror{ref: client.NewRef(rtdbDeviceNode)}, nil
}

func (m *FirebaseMirror) Mirror(ctx context.Context, id types.ID, p types.Position) error {
	entry := rtdbDeviceEntry{
		Lat:       p.Coords.Latitude,
		Lng:       p.Coords.Longitude,
		Accuracy:  p.Coords.Accuracy,
		Timestamp: p.Timestamp,
	}
	if err := m.ref.Child(string(id)).Set(ctx, entry); err != nil {
		return fmt.Errorf("writing %s/%s: %w", rtdbDeviceNode, id, err)
	}
	return nil
}
