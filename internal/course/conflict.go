package course

import (
	"errors"
	"fmt"

	"github.com/example/coursegrab/internal/internaltypes"
)

type ConflictKind string

const (
	ConflictDuplicate ConflictKind = "duplicate"
	ConflictTimeSlot  ConflictKind = "time_slot"
)

// ErrAlreadySecured is returned when the candidate is exactly the course and
// section already held. There is nothing left to attempt.
var ErrAlreadySecured = errors.New("already secured")

type ConflictError struct {
	Kind      ConflictKind
	Candidate Course
	With      Entry
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictDuplicate:
		return fmt.Sprintf("course %s already secured in section %s", e.Candidate.Code, e.With.Section)
	default:
		return fmt.Sprintf("course %s (%s) overlaps %s/%s (%s)",
			e.Candidate, e.Candidate.Slot, e.With.Code, e.With.Section, e.With.Slot)
	}
}

func (e *ConflictError) Unwrap() error { return internaltypes.ErrConflict }

// Overlaps reports whether the half-open intervals [a.Start,a.End) and
// [b.Start,b.End) intersect on a shared day.
func Overlaps(a, b TimeSlot) bool {
	if a.Day != 0 && b.Day != 0 && a.Day != b.Day {
		return false
	}
	return !(a.End <= b.Start || b.End <= a.Start)
}

// Check approves candidate against the record. It returns nil, ErrAlreadySecured
// or a *ConflictError.
func Check(candidate Course, record *SelectionRecord) error {
	record.mu.Lock()
	defer record.mu.Unlock()
	return record.checkLocked(candidate)
}

func (r *SelectionRecord) checkLocked(candidate Course) error {
	if held, ok := r.entries[candidate.Code]; ok {
		if held.Section == candidate.Section {
			return ErrAlreadySecured
		}
		return &ConflictError{Kind: ConflictDuplicate, Candidate: candidate, With: held}
	}
	if candidate.Slot == nil {
		return nil
	}
	for _, held := range r.entries {
		if held.Slot == nil {
			continue
		}
		if Overlaps(*candidate.Slot, *held.Slot) {
			return &ConflictError{Kind: ConflictTimeSlot, Candidate: candidate, With: held}
		}
	}
	return nil
}
