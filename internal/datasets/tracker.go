package datasets

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind identifies a downloaded dataset
type Kind string

const (
	KindMETAR    Kind = "metar"
	KindTAF      Kind = "taf"
	KindRunways  Kind = "runways"
	KindAirports Kind = "airports"
)

// Kinds lists every dataset in fetch order
var Kinds = []Kind{KindMETAR, KindTAF, KindRunways, KindAirports}

// Status is the freshness state of one dataset
type Status struct {
	Kind        Kind       `json:"kind"`
	Serial      uint64     `json:"serial"`
	LastUpdated *time.Time `json:"last_updated"`
}

type entry struct {
	serial  uint64
	updated time.Time
}

// Tracker counts confirmed content changes per dataset. A serial starts at zero, moves up
// by exactly one per change and never goes back. Wraparound is not a concern within a
// process lifetime.
type Tracker struct {
	mu      sync.RWMutex
	entries map[Kind]*entry
	now     func() time.Time
}

// NewTracker creates a tracker with every dataset never fetched
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[Kind]*entry),
		now:     time.Now,
	}
}

// MarkUpdated records a content change and returns the new serial. The update time is
// kept strictly increasing even if the clock stalls or steps back.
func (t *Tracker) MarkUpdated(kind Kind) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[kind]
	if !ok {
		e = &entry{}
		t.entries[kind] = e
	}

	now := t.now().UTC()
	if !e.updated.IsZero() && !now.After(e.updated) {
		now = e.updated.Add(time.Nanosecond)
	}
	e.serial++
	e.updated = now
	return e.serial
}

// Serial returns the current serial, zero when never fetched
func (t *Tracker) Serial(kind Kind) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[kind]; ok {
		return e.serial
	}
	return 0
}

// LastUpdated returns the time of the latest change; false when never fetched
func (t *Tracker) LastUpdated(kind Kind) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[kind]; ok {
		return e.updated, true
	}
	return time.Time{}, false
}

// Stats returns the status of every known dataset in fetch order
func (t *Tracker) Stats() []Status {
	out := make([]Status, 0, len(Kinds))
	for _, k := range Kinds {
		st := Status{Kind: k, Serial: t.Serial(k)}
		if ts, ok := t.LastUpdated(k); ok {
			st.LastUpdated = &ts
		}
		out = append(out, st)
	}
	return out
}

func (t *Tracker) String() string {
	var b strings.Builder
	for i, st := range t.Stats() {
		if i > 0 {
			b.WriteString("; ")
		}
		updated := "never"
		if st.LastUpdated != nil {
			updated = st.LastUpdated.Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "%s serial %d updated %s", st.Kind, st.Serial, updated)
	}
	return b.String()
}
