package classify

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ProcessedSet remembers event ids for a sliding window. A zero window
// keeps ids forever.
type ProcessedSet struct {
	mu     sync.Mutex
	window time.Duration
	clock  clockwork.Clock
	seen   map[string]time.Time
}

func NewProcessedSet(window time.Duration, clock clockwork.Clock) *ProcessedSet {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProcessedSet{window: window, clock: clock, seen: make(map[string]time.Time)}
}

// Contains reports whether id was marked within the window.
func (p *ProcessedSet) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.seen[id]
	if !ok {
		return false
	}
	if p.expired(at, p.clock.Now()) {
		delete(p.seen, id)
		return false
	}
	return true
}

func (p *ProcessedSet) Mark(id string) {
	p.mu.Lock()
	p.seen[id] = p.clock.Now()
	p.mu.Unlock()
}

// Forget removes id so a redelivery is processed again.
func (p *ProcessedSet) Forget(id string) {
	p.mu.Lock()
	delete(p.seen, id)
	p.mu.Unlock()
}

// Prune drops expired ids and returns how many were removed.
func (p *ProcessedSet) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	n := 0
	for id, at := range p.seen {
		if p.expired(at, now) {
			delete(p.seen, id)
			n++
		}
	}
	return n
}

func (p *ProcessedSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func (p *ProcessedSet) expired(at, now time.Time) bool {
	return p.window > 0 && now.Sub(at) >= p.window
}
