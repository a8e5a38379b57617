package course

import (
	"sort"
	"sync"
	"time"
)

// SortByPriority returns a copy of cs ordered by ascending priority.
// The sort is stable, and courses without a priority come after every
// course that has one.
func SortByPriority(cs []Course) []Course {
	out := make([]Course, len(cs))
	copy(out, cs)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority, out[j].Priority
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return *pi < *pj
		}
	})
	return out
}

// Entry is one secured course.
type Entry struct {
	Code      string    `json:"course_code" yaml:"course_code"`
	Section   string    `json:"section_code" yaml:"section_code"`
	Slot      *TimeSlot `json:"time_slot,omitempty" yaml:"time_slot,omitempty"`
	SecuredAt time.Time `json:"secured_at" yaml:"secured_at"`
}

// SelectionRecord maps course code to the section secured this run.
// Entries are append-only: Secure never overwrites, only Clear removes.
type SelectionRecord struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewSelectionRecord(initial ...Entry) *SelectionRecord {
	r := &SelectionRecord{entries: make(map[string]Entry, len(initial))}
	for _, e := range initial {
		r.entries[e.Code] = e
	}
	return r
}

// Secure checks c against the record and adds it in one critical section,
// so two concurrent successes can never both land if they conflict.
func (r *SelectionRecord) Secure(c Course, at time.Time) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(c); err != nil {
		return Entry{}, err
	}
	e := Entry{Code: c.Code, Section: c.Section, Slot: c.Slot, SecuredAt: at.UTC()}
	r.entries[c.Code] = e
	return e, nil
}

func (r *SelectionRecord) Get(code string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[code]
	return e, ok
}

// Entries returns the secured courses ordered by course code.
func (r *SelectionRecord) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (r *SelectionRecord) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear drops every entry. Used when resyncing from persisted state.
func (r *SelectionRecord) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry)
}

// Restore replaces the record with persisted entries.
func (r *SelectionRecord) Restore(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		r.entries[e.Code] = e
	}
}
