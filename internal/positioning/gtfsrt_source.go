// README: Live positions polled from a GTFS-realtime VehiclePositions feed.
package positioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"navi/internal/types"
)

const DefaultPollInterval = time.Second

type GTFSRTConfig struct {
	URL          string
	PollInterval time.Duration
	Client       *http.Client
}

// GTFSRTSource treats the DeviceID of a watch as a GTFS-RT vehicle id.
type GTFSRTSource struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

func NewGTFSRTSource(cfg GTFSRTConfig, logger *slog.Logger) *GTFSRTSource {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GTFSRTSource{
		url:      cfg.URL,
		interval: cfg.PollInterval,
		client:   cfg.Client,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *GTFSRTSource) Watch(ctx context.Context, opts WatchOptions) (Subscription, error) {
	if opts.DeviceID == "" {
		return nil, ErrMissingDevice
	}
	st := newStream(ctx, opts, s.now)
	go s.poll(st)
	return st, nil
}

func (s *GTFSRTSource) poll(st *stream) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lastSeen int64
	for {
		p, found, err := s.fetchVehicle(st.ctx, st.opts.DeviceID)
		switch {
		case err != nil:
			if st.ctx.Err() != nil {
				return
			}
			s.logger.Warn("gtfs-rt poll failed", "vehicle_id", st.opts.DeviceID, "error", err)
			st.fail(err)
		case found && p.Timestamp > lastSeen:
			lastSeen = p.Timestamp
			if !st.publish(p) {
				return
			}
		}

		select {
		case <-st.Done():
			return
		case <-ticker.C:
		}
	}
}

// fetchVehicle downloads the feed and returns the vehicle's latest position.
func (s *GTFSRTSource) fetchVehicle(ctx context.Context, vehicleID string) (types.Position, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return types.Position{}, false, NewSourceError(CodePositionUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return types.Position{}, false, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.Position{}, false, NewSourceError(CodePermissionDenied, fmt.Errorf("feed returned %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return types.Position{}, false, NewSourceError(CodePositionUnavailable, fmt.Errorf("feed returned %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Position{}, false, classifyTransportError(err)
	}
	var feed gtfs.FeedMessage
	if err := proto.Unmarshal(body, &feed); err != nil {
		return types.Position{}, false, NewSourceError(CodePositionUnavailable, fmt.Errorf("decode feed: %w", err))
	}
	p, ok := VehiclePosition(&feed, vehicleID)
	return p, ok, nil
}

// VehiclePosition finds vehicleID in a VehiclePositions feed. Entities
// without a timestamp fall back to the feed header timestamp.
func VehiclePosition(feed *gtfs.FeedMessage, vehicleID string) (types.Position, bool) {
	headerTS := feed.GetHeader().GetTimestamp()
	for _, e := range feed.GetEntity() {
		v := e.GetVehicle()
		if v == nil || v.GetPosition() == nil {
			continue
		}
		if v.GetVehicle().GetId() != vehicleID {
			continue
		}
		ts := v.GetTimestamp()
		if ts == 0 {
			ts = headerTS
		}
		return types.Position{
			Coords: types.Coords{
				Longitude: float64(v.GetPosition().GetLongitude()),
				Latitude:  float64(v.GetPosition().GetLatitude()),
			},
			Timestamp: int64(ts) * 1000,
		}, true
	}
	return types.Position{}, false
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewSourceError(CodeTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewSourceError(CodeTimeout, err)
	}
	return NewSourceError(CodePositionUnavailable, err)
}
