// README: Keyed persistence throttle; broadcast paths call ShouldPersist before durable writes.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Throttle allows at most one persist per key per interval.
type Throttle interface {
	ShouldPersist(ctx context.Context, key string) bool
}

// pruneThreshold bounds map growth from keys that stopped reporting.
const pruneThreshold = 4096

// Memory is a process-local throttle. In a multi-instance deployment each
// instance throttles independently; use Redis when that matters.
type Memory struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemory(interval time.Duration) *Memory {
	return &Memory{interval: interval, now: time.Now, last: make(map[string]time.Time)}
}

func (m *Memory) ShouldPersist(_ context.Context, key string) bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.last[key]; ok && now.Sub(t) < m.interval {
		return false
	}
	m.last[key] = now
	if len(m.last) > pruneThreshold {
		m.prune(now)
	}
	return true
}

func (m *Memory) prune(now time.Time) {
	for k, t := range m.last {
		if now.Sub(t) >= m.interval {
			delete(m.last, k)
		}
	}
}
