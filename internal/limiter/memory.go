package limiter

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultMaxSlots bounds the number of (identifier, ip) pairs a Memory
// limiter tracks at once.
const DefaultMaxSlots = 100_000

// Memory is an in-process limiter with the same window and lockout rules
// as PG. State is per process and lost on restart.
//
// Stale slots (outside the window and not blocked) are swept at most once
// per window. When the map still reaches maxSlots a tenth is shed,
// unblocked slots first.
type Memory struct {
	mu        sync.Mutex
	policy    Policy
	now       func() time.Time
	slots     map[string]*slot
	maxSlots  int
	lastSweep time.Time
}

type slot struct {
	fails        int
	lastFail     time.Time
	blockedUntil time.Time
}

func (s *slot) stale(now time.Time, window time.Duration) bool {
	return now.Sub(s.lastFail) > window && !s.blockedUntil.After(now)
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-process limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, now: time.Now, slots: map[string]*slot{}, maxSlots: DefaultMaxSlots}
}

func memKey(identifier string, ipHash []byte) string {
	return identifier + "|" + hex.EncodeToString(ipHash)
}

func (l *Memory) Allow(_ context.Context, identifier string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := memKey(identifier, ipHash)
	s, ok := l.slots[k]
	if !ok {
		return true, 0, nil
	}
	now := l.now()
	if s.blockedUntil.After(now) {
		return false, s.blockedUntil.Sub(now), nil
	}
	if s.stale(now, l.policy.Window) {
		delete(l.slots, k)
	}
	return true, 0, nil
}

func (l *Memory) Success(_ context.Context, identifier string, ipHash []byte) error {
	l.mu.Lock()
	delete(l.slots, memKey(identifier, ipHash))
	l.mu.Unlock()
	return nil
}

func (l *Memory) Failure(_ context.Context, identifier string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	k := memKey(identifier, ipHash)
	s, ok := l.slots[k]
	if !ok {
		l.makeRoom(now)
		s = &slot{}
		l.slots[k] = s
	}
	if now.Sub(s.lastFail) > l.policy.Window {
		s.fails = 0
	}
	s.fails++
	s.lastFail = now
	if s.fails >= l.policy.MaxFails {
		s.blockedUntil = now.Add(l.policy.BlockFor)
		return true, l.policy.BlockFor, nil
	}
	return false, 0, nil
}

// makeRoom runs under l.mu before a new slot is inserted.
func (l *Memory) makeRoom(now time.Time) {
	full := l.maxSlots > 0 && len(l.slots) >= l.maxSlots
	if !full && now.Sub(l.lastSweep) < l.policy.Window {
		return
	}
	l.lastSweep = now
	for k, s := range l.slots {
		if s.stale(now, l.policy.Window) {
			delete(l.slots, k)
		}
	}
	if l.maxSlots <= 0 || len(l.slots) < l.maxSlots {
		return
	}
	// shed a tenth so the next inserts do not rescan
	target := l.maxSlots - l.maxSlots/10
	if target >= l.maxSlots {
		target = l.maxSlots - 1
	}
	for k, s := range l.slots {
		if len(l.slots) <= target {
			return
		}
		if !s.blockedUntil.After(now) {
			delete(l.slots, k)
		}
	}
	for k := range l.slots {
		if len(l.slots) <= target {
			return
		}
		delete(l.slots, k)
	}
}
