// Package toggle pkg/toggle-api/toggle/tracker.go
package toggle

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skycoin/dongle-services/internal/dongle"
)

var (
	// ErrAlreadyInProgress is returned by Begin when the subnet is being toggled.
	ErrAlreadyInProgress = errors.New("toggle already in progress")
	// ErrTooManyConcurrent is returned by Begin when the concurrency cap is reached.
	ErrTooManyConcurrent = errors.New("too many concurrent toggles")
)

// Token is the ownership of one in-flight toggle.
type Token struct {
	ID        string
	Subnet    int
	StartedAt time.Time
}

type progress struct {
	id        string
	startedAt time.Time
}

// Tracker is the in-memory registry of in-flight toggles.
// An entry older than the timeout is stale: it is evicted only by the next
// Begin or Status for its own subnet and never counts towards the cap.
type Tracker struct {
	mu            sync.Mutex
	entries       map[int]progress
	timeout       time.Duration
	maxConcurrent int
	now           func() time.Time
}

// NewTracker returns a Tracker. maxConcurrent <= 0 disables the global cap.
func NewTracker(timeout time.Duration, maxConcurrent int) *Tracker {
	return &Tracker{
		entries:       make(map[int]progress),
		timeout:       timeout,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// Timeout returns the staleness timeout.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// MaxConcurrent returns the global cap, 0 when disabled.
func (t *Tracker) MaxConcurrent() int {
	return t.maxConcurrent
}

// Begin registers a toggle for subnet, replacing a stale entry of the same
// subnet. The duplicate check runs before the cap check, so a busy subnet
// always yields ErrAlreadyInProgress.
func (t *Tracker) Begin(subnet int) (Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if p, ok := t.entries[subnet]; ok {
		if now.Sub(p.startedAt) <= t.timeout {
			return Token{}, ErrAlreadyInProgress
		}
		delete(t.entries, subnet)
	}
	if t.maxConcurrent > 0 && t.liveLocked(now) >= t.maxConcurrent {
		return Token{}, ErrTooManyConcurrent
	}

	tok := Token{ID: uuid.NewString(), Subnet: subnet, StartedAt: now}
	t.entries[subnet] = progress{id: tok.ID, startedAt: now}
	return tok, nil
}

// Complete releases tok. It is a no-op when the entry was evicted or
// already taken over by a newer toggle.
func (t *Tracker) Complete(tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.entries[tok.Subnet]; ok && p.id == tok.ID {
		delete(t.entries, tok.Subnet)
	}
}

// Status derives the toggle status of subnet from the tracker and the
// persisted last toggle time. A stale entry is evicted and reported as timeout.
func (t *Tracker) Status(subnet int, lastToggle *dongle.Timestamp) dongle.ToggleStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if p, ok := t.entries[subnet]; ok {
		started := p.startedAt
		elapsed := now.Sub(started)
		if elapsed > t.timeout {
			delete(t.entries, subnet)
			return dongle.ToggleStatus{Status: dongle.ToggleTimeout, StartedAt: &started, ElapsedSeconds: int64(elapsed.Seconds())}
		}
		return dongle.ToggleStatus{Status: dongle.ToggleInProgress, StartedAt: &started, ElapsedSeconds: int64(elapsed.Seconds())}
	}

	if lastToggle != nil && !lastToggle.IsZero() {
		if since := now.Sub(lastToggle.Time); since <= t.timeout {
			if since < 0 {
				since = 0
			}
			return dongle.ToggleStatus{Status: dongle.ToggleRecent, ElapsedSeconds: int64(since.Seconds())}
		}
	}
	return dongle.ToggleStatus{Status: dongle.ToggleIdle}
}

// InProgress reports whether subnet has a live entry.
func (t *Tracker) InProgress(subnet int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[subnet]
	return ok && t.now().Sub(p.startedAt) <= t.timeout
}

// Active returns the subnets with a live entry, ascending.
func (t *Tracker) Active() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]int, 0, len(t.entries))
	for subnet, p := range t.entries {
		if now.Sub(p.startedAt) <= t.timeout {
			out = append(out, subnet)
		}
	}
	sort.Ints(out)
	return out
}

// Len returns the number of live entries.
func (t *Tracker) Len() int {
	return len(t.Active())
}

// liveLocked counts the entries that are not stale. Stale entries of other
// subnets stay in place until their own Status or Begin reports them.
func (t *Tracker) liveLocked(now time.Time) int {
	n := 0
	for _, p := range t.entries {
		if now.Sub(p.startedAt) <= t.timeout {
			n++
		}
	}
	return n
}
