// Package clock provides the time source used by the engine. Every
// component that needs "now" takes a Clock so tests can drive lease
// expiry and timestamps deterministically.
package clock

import (
	"sync"
	"time"
)

// Layout is the canonical timestamp format for both state planes:
// RFC 3339 in UTC. Lexicographic order on formatted values matches
// chronological order, which the runtime store relies on for its
// expiry predicates.
const Layout = time.RFC3339

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

// System is the real clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Format renders t in the canonical layout.
func Format(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(Layout)
}

// Parse reads a canonical timestamp. It accepts any RFC 3339 value and
// normalizes to UTC.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Fake is a settable clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a fake clock pinned to t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}
