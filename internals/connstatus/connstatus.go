// Package connstatus de-duplicates user notices and analysis submissions.
// A Manager is constructed per owner; there is no package-level state.
package connstatus

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type RequestKey struct {
	MediaID int64
	Model   string
}

type Manager struct {
	clock    clockwork.Clock
	cooldown time.Duration

	mu        sync.Mutex
	announced map[string]time.Time
	inflight  map[RequestKey]struct{}
}

func New(clock clockwork.Clock, cooldown time.Duration) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		clock:     clock,
		cooldown:  cooldown,
		announced: make(map[string]time.Time),
		inflight:  make(map[RequestKey]struct{}),
	}
}

// Announce reports whether a notice for key should be shown. It returns true
// at most once per cooldown window for the same key.
func (m *Manager) Announce(key string) bool {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.announced[key]; ok && now.Sub(last) < m.cooldown {
		return false
	}
	m.announced[key] = now
	return true
}

// Begin marks a submission for mediaID+model as in flight. ok is false when
// the same pair is already in flight; release must be called exactly once
// when ok is true.
func (m *Manager) Begin(mediaID int64, model string) (release func(), ok bool) {
	key := RequestKey{MediaID: mediaID, Model: strings.TrimSpace(model)}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.inflight[key]; exists {
		return func() {}, false
	}
	m.inflight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.inflight, key)
			m.mu.Unlock()
		})
	}, true
}

func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}
