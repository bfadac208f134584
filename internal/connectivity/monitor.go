package connectivity

import (
	"context"
	"sync"
	"time"
)

// Pinger is the probe target, usually the remote store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor is a boolean online/offline observable. State changes come from
// explicit reports (a device agent calling SetOnline) or from the optional
// probe loop. Subscribers get every transition, not intermediate states.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

func NewMonitor(initiallyOnline bool) *Monitor {
	return &Monitor{online: initiallyOnline}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the new state and notifies subscribers on transitions.
// Notification is non-blocking: a subscriber that is not draining its
// channel misses intermediate transitions but never stalls the monitor.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	subs := m.subs
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// Subscribe returns a channel receiving transition states. The channel is
// buffered so a slow reader cannot block SetOnline.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 8)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Probe polls the pinger on the given interval and feeds the result into
// the monitor until ctx is cancelled.
func (m *Monitor) Probe(ctx context.Context, target Pinger, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			err := target.Ping(probeCtx)
			cancel()
			m.SetOnline(err == nil)
		}
	}
}
