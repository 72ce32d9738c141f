package positioning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"navi/internal/types"
)

func fixAt(at time.Time, accuracy float64) types.Position {
	return types.Position{
		Coords:    types.Coords{Longitude: 121.5645, Latitude: 25.0340, Accuracy: accuracy},
		Timestamp: at.UnixMilli(),
	}
}

func TestAccept(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name string
		opts WatchOptions
		pos  types.Position
		want bool
	}{
		{"fresh", WatchOptions{MaximumAge: 5 * time.Second}, fixAt(now.Add(-time.Second), 5), true},
		{"exactly max age", WatchOptions{MaximumAge: 5 * time.Second}, fixAt(now.Add(-5*time.Second), 5), true},
		{"stale", WatchOptions{MaximumAge: 5 * time.Second}, fixAt(now.Add(-6*time.Second), 5), false},
		{"coarse without high accuracy", WatchOptions{MaximumAge: 5 * time.Second}, fixAt(now, 500), true},
		{"coarse with high accuracy", WatchOptions{MaximumAge: 5 * time.Second, EnableHighAccuracy: true}, fixAt(now, 500), false},
		{"unknown accuracy with high accuracy", WatchOptions{EnableHighAccuracy: true}, fixAt(now, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Accept(tt.opts, tt.pos, now))
		})
	}
}

func TestSourceError(t *testing.T) {
	base := errors.New("denied by user")
	err := fmt.Errorf("watch: %w", NewSourceError(CodePermissionDenied, base))

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodePermissionDenied, code)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "permission_denied")

	_, ok = CodeOf(base)
	assert.False(t, ok)
}

func TestMemorySource_DeliversAndFilters(t *testing.T) {
	src := NewMemorySource()
	_, err := src.Watch(context.Background(), WatchOptions{})
	assert.ErrorIs(t, err, ErrMissingDevice)

	sub, err := src.Watch(context.Background(), WatchOptions{DeviceID: "phone-1", EnableHighAccuracy: true})
	require.NoError(t, err)
	defer sub.Stop()

	assert.Equal(t, 0, src.Push("phone-1", fixAt(time.Now().Add(-time.Minute), 5)), "stale fix")
	assert.Equal(t, 0, src.Push("phone-1", fixAt(time.Now(), 250)), "coarse fix")
	assert.Equal(t, 0, src.Push("phone-2", fixAt(time.Now(), 5)), "other device")

	want := fixAt(time.Now(), 5)
	assert.Equal(t, 1, src.Push("phone-1", want))
	select {
	case got := <-sub.Positions():
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("no position delivered")
	}

	src.Fail("phone-1", NewSourceError(CodeTimeout, nil))
	select {
	case err := <-sub.Errors():
		code, _ := CodeOf(err)
		assert.Equal(t, CodeTimeout, code)
	case <-time.After(time.Second):
		t.Fatal("no error delivered")
	}
}

func TestMemorySource_StopRemovesWatcher(t *testing.T) {
	src := NewMemorySource()
	sub, err := src.Watch(context.Background(), WatchOptions{DeviceID: "phone-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, src.Watchers("phone-1"))

	sub.Stop()
	sub.Stop()
	assert.Eventually(t, func() bool { return src.Watchers("phone-1") == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, src.Push("phone-1", fixAt(time.Now(), 5)))
}

func vehicleFeed(vehicleID string, lat, lng float32, ts time.Time) *gtfs.FeedMessage {
	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(ts.Unix())),
		},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("other"),
				Vehicle: &gtfs.VehiclePosition{
					Vehicle:  &gtfs.VehicleDescriptor{Id: proto.String("bus-9")},
					Position: &gtfs.Position{Latitude: proto.Float32(1), Longitude: proto.Float32(1)},
				},
			},
			{
				Id: proto.String("target"),
				Vehicle: &gtfs.VehiclePosition{
					Vehicle:   &gtfs.VehicleDescriptor{Id: proto.String(vehicleID)},
					Position:  &gtfs.Position{Latitude: proto.Float32(lat), Longitude: proto.Float32(lng)},
					Timestamp: proto.Uint64(uint64(ts.Unix())),
				},
			},
		},
	}
}

func TestVehiclePosition(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	feed := vehicleFeed("bus-1", 25.5, 121.25, ts)

	p, ok := VehiclePosition(feed, "bus-1")
	require.True(t, ok)
	assert.InDelta(t, 25.5, p.Coords.Latitude, 1e-6)
	assert.InDelta(t, 121.25, p.Coords.Longitude, 1e-6)
	assert.Equal(t, ts.UnixMilli(), p.Timestamp)

	// bus-9 has no entity timestamp; the header one is used.
	p, ok = VehiclePosition(feed, "bus-9")
	require.True(t, ok)
	assert.Equal(t, ts.UnixMilli(), p.Timestamp)

	_, ok = VehiclePosition(feed, "missing")
	assert.False(t, ok)
}

func TestGTFSRTSource_PollsFeed(t *testing.T) {
	payload, err := proto.Marshal(vehicleFeed("bus-1", 25.5, 121.25, time.Now()))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	src := NewGTFSRTSource(GTFSRTConfig{URL: srv.URL, PollInterval: 10 * time.Millisecond}, nil)
	sub, err := src.Watch(context.Background(), WatchOptions{DeviceID: "bus-1", MaximumAge: time.Minute})
	require.NoError(t, err)
	defer sub.Stop()

	select {
	case p := <-sub.Positions():
		assert.InDelta(t, 25.5, p.Coords.Latitude, 1e-6)
	case <-time.After(2 * time.Second):
		t.Fatal("no position from feed")
	}

	// The same vehicle timestamp is not delivered twice.
	select {
	case p := <-sub.Positions():
		t.Fatalf("duplicate position delivered: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGTFSRTSource_Forbidden(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	src := NewGTFSRTSource(GTFSRTConfig{URL: srv.URL, PollInterval: 10 * time.Millisecond}, nil)
	sub, err := src.Watch(context.Background(), WatchOptions{DeviceID: "bus-1"})
	require.NoError(t, err)
	defer sub.Stop()

	select {
	case err := <-sub.Errors():
		code, ok := CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, CodePermissionDenied, code)
	case <-time.After(2 * time.Second):
		t.Fatal("no error from feed")
	}
	assert.GreaterOrEqual(t, hits.Load(), int32(1))
}

func TestRedisSource_PubSub(t *testing.T) {
	redisAddr := os.Getenv("NAVI_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("NAVI_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	ctx := context.Background()
	device := fmt.Sprintf("device_test_%d", time.Now().UnixNano())
	src := NewRedisSource(rdb, nil)

	sub, err := src.Watch(ctx, WatchOptions{DeviceID: device})
	require.NoError(t, err)
	defer sub.Stop()

	want := fixAt(time.Now(), 8)
	require.NoError(t, PublishPosition(ctx, rdb, device, want))

	select {
	case got := <-sub.Positions():
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no position from redis")
	}

	require.NoError(t, rdb.Publish(ctx, PositionChannel(device), "not json").Err())
	select {
	case err := <-sub.Errors():
		code, _ := CodeOf(err)
		assert.Equal(t, CodePositionUnavailable, code)
	case <-time.After(2 * time.Second):
		t.Fatal("no error for malformed payload")
	}
}
