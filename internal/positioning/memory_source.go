package positioning

import (
	"context"
	"sync"
	"time"

	"navi/internal/types"
)

// MemorySource fans fixes pushed in-process out to every watcher of a device.
type MemorySource struct {
	mu       sync.Mutex
	watchers map[string][]*stream
	now      func() time.Time
}

func NewMemorySource() *MemorySource {
	return &MemorySource{watchers: map[string][]*stream{}, now: time.Now}
}

func (m *MemorySource) Watch(ctx context.Context, opts WatchOptions) (Subscription, error) {
	if opts.DeviceID == "" {
		return nil, ErrMissingDevice
	}
	st := newStream(ctx, opts, m.now)

	m.mu.Lock()
	m.watchers[opts.DeviceID] = append(m.watchers[opts.DeviceID], st)
	m.mu.Unlock()

	go func() {
		<-st.Done()
		m.remove(opts.DeviceID, st)
	}()
	return st, nil
}

// Push delivers p to the device's watchers and reports how many accepted it.
func (m *MemorySource) Push(deviceID string, p types.Position) int {
	delivered := 0
	for _, st := range m.snapshot(deviceID) {
		if st.accept(p) && st.publish(p) {
			delivered++
		}
	}
	return delivered
}

func (m *MemorySource) Publish(_ context.Context, deviceID string, p types.Position) error {
	m.Push(deviceID, p)
	return nil
}

// Fail reports err to the device's watchers.
func (m *MemorySource) Fail(deviceID string, err error) {
	for _, st := range m.snapshot(deviceID) {
		st.fail(err)
	}
}

// Watchers returns the number of live subscriptions for a device.
func (m *MemorySource) Watchers(deviceID string) int {
	return len(m.snapshot(deviceID))
}

func (m *MemorySource) snapshot(deviceID string) []*stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*stream, 0, len(m.watchers[deviceID]))
	for _, st := range m.watchers[deviceID] {
		if st.ctx.Err() == nil {
			out = append(out, st)
		}
	}
	return out
}

func (m *MemorySource) remove(deviceID string, target *stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.watchers[deviceID]
	for i, st := range list {
		if st == target {
			m.watchers[deviceID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.watchers[deviceID]) == 0 {
		delete(m.watchers, deviceID)
	}
}
