package course

import (
	"errors"
	"testing"
	"time"

	"github.com/example/coursegrab/internal/internaltypes"
)

func intp(v int) *int { return &v }

func slot(t *testing.T, day, start, end string) *TimeSlot {
	t.Helper()
	s, err := ParseTimeSlot(day, start, end)
	if err != nil {
		t.Fatalf("ParseTimeSlot(%q,%q,%q): %v", day, start, end, err)
	}
	return &s
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name   string
		s1, e1 int
		s2, e2 int
		want   bool
	}{
		{"disjoint before", 0, 10, 20, 30, false},
		{"disjoint after", 20, 30, 0, 10, false},
		{"touching end to start", 0, 10, 10, 20, false},
		{"touching start to end", 10, 20, 0, 10, false},
		{"partial overlap", 0, 15, 10, 20, true},
		{"contained", 0, 30, 10, 20, true},
		{"identical", 10, 20, 10, 20, true},
	}
	for _, tt := range tests {
		a := TimeSlot{Day: 1, Start: tt.s1, End: tt.e1}
		b := TimeSlot{Day: 1, Start: tt.s2, End: tt.e2}
		if got := Overlaps(a, b); got != tt.want {
			t.Errorf("%s: Overlaps = %v, want %v", tt.name, got, tt.want)
		}
		if got := Overlaps(b, a); got != tt.want {
			t.Errorf("%s (swapped): Overlaps = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// Exhaustive check of the interval rule over a small grid.
func TestOverlaps_MatchesIntervalRule(t *testing.T) {
	for s1 := 0; s1 < 6; s1++ {
		for e1 := s1 + 1; e1 <= 6; e1++ {
			for s2 := 0; s2 < 6; s2++ {
				for e2 := s2 + 1; e2 <= 6; e2++ {
					want := !(e1 <= s2 || e2 <= s1)
					got := Overlaps(TimeSlot{Start: s1, End: e1}, TimeSlot{Start: s2, End: e2})
					if got != want {
						t.Fatalf("[%d,%d) vs [%d,%d): got %v want %v", s1, e1, s2, e2, got, want)
					}
				}
			}
		}
	}
}

func TestOverlaps_DifferentDays(t *testing.T) {
	a := TimeSlot{Day: 1, Start: 600, End: 700}
	b := TimeSlot{Day: 2, Start: 600, End: 700}
	if Overlaps(a, b) {
		t.Error("slots on different days should not overlap")
	}
	b.Day = 0
	if !Overlaps(a, b) {
		t.Error("slot without a day should be compared against every day")
	}

	anyDay := TimeSlot{Start: 600, End: 700}
	for d := Weekday(1); d <= 7; d++ {
		fixed := TimeSlot{Day: d, Start: 650, End: 750}
		if !Overlaps(anyDay, fixed) || !Overlaps(fixed, anyDay) {
			t.Errorf("day-less slot should overlap %s", fixed)
		}
		later := TimeSlot{Day: d, Start: 700, End: 800}
		if Overlaps(anyDay, later) {
			t.Errorf("day-less slot should not overlap disjoint %s", later)
		}
	}
}

func TestCheck_DaylessSlotConflicts(t *testing.T) {
	rec := NewSelectionRecord(Entry{Code: "A", Section: "1", Slot: &TimeSlot{Start: 8 * 60, End: 9*60 + 40}})
	err := Check(Course{Code: "B", Section: "1", Slot: slot(t, "fri", "09:00", "10:00")}, rec)
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Kind != ConflictTimeSlot {
		t.Fatalf("err = %v, want time slot conflict", err)
	}
}

func TestCheck_DuplicateCode(t *testing.T) {
	rec := NewSelectionRecord(Entry{Code: "08305014", Section: "1005"})

	err := Check(Course{Code: "08305014", Section: "1006"}, rec)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if ce.Kind != ConflictDuplicate {
		t.Errorf("Kind = %q, want %q", ce.Kind, ConflictDuplicate)
	}
	if !errors.Is(err, internaltypes.ErrConflict) {
		t.Error("conflict should wrap ErrConflict")
	}

	if err := Check(Course{Code: "08305014", Section: "1005"}, rec); !errors.Is(err, ErrAlreadySecured) {
		t.Errorf("same section: got %v, want ErrAlreadySecured", err)
	}
}

func TestCheck_TimeSlot(t *testing.T) {
	rec := NewSelectionRecord(Entry{Code: "A", Section: "1", Slot: slot(t, "mon", "08:00", "09:40")})

	err := Check(Course{Code: "B", Section: "1", Slot: slot(t, "mon", "09:00", "10:00")}, rec)
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Kind != ConflictTimeSlot {
		t.Fatalf("expected time slot conflict, got %v", err)
	}

	if err := Check(Course{Code: "C", Section: "1", Slot: slot(t, "mon", "09:40", "11:00")}, rec); err != nil {
		t.Errorf("back-to-back slot should not conflict: %v", err)
	}
	if err := Check(Course{Code: "D", Section: "1", Slot: slot(t, "tue", "08:00", "09:40")}, rec); err != nil {
		t.Errorf("other day should not conflict: %v", err)
	}
	if err := Check(Course{Code: "E", Section: "1"}, rec); err != nil {
		t.Errorf("course without slot should not conflict by time: %v", err)
	}
}

func TestSecure_AppendOnly(t *testing.T) {
	rec := NewSelectionRecord()
	now := time.Now()

	if _, err := rec.Secure(Course{Code: "A", Section: "1"}, now); err != nil {
		t.Fatalf("Secure: %v", err)
	}
	if _, err := rec.Secure(Course{Code: "A", Section: "2"}, now); err == nil {
		t.Fatal("second section for the same course must be rejected")
	}
	e, ok := rec.Get("A")
	if !ok || e.Section != "1" {
		t.Fatalf("entry overwritten: %+v", e)
	}

	rec.Clear()
	if rec.Len() != 0 {
		t.Errorf("Len after Clear = %d", rec.Len())
	}
}

func TestSortByPriority(t *testing.T) {
	cs := []Course{
		{Code: "idx0", Priority: intp(3)},
		{Code: "idx1", Priority: intp(1)},
		{Code: "idx2", Priority: intp(1)},
		{Code: "idx3", Priority: intp(2)},
	}
	got := SortByPriority(cs)
	want := []string{"idx1", "idx2", "idx3", "idx0"}
	for i, c := range got {
		if c.Code != want[i] {
			t.Fatalf("order = %v, want %v", codes(got), want)
		}
	}
	if cs[0].Code != "idx0" {
		t.Error("SortByPriority must not reorder its input")
	}
}

func TestSortByPriority_MissingLast(t *testing.T) {
	cs := []Course{
		{Code: "none1"},
		{Code: "big", Priority: intp(5000)},
		{Code: "none2"},
		{Code: "small", Priority: intp(0)},
	}
	got := codes(SortByPriority(cs))
	want := []string{"small", "big", "none1", "none2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestParseTimeSlot(t *testing.T) {
	s, err := ParseTimeSlot("Wednesday", "13:00", "14:40")
	if err != nil {
		t.Fatalf("ParseTimeSlot: %v", err)
	}
	if s.Day != 3 || s.Start != 13*60 || s.End != 14*60+40 {
		t.Errorf("got %+v", s)
	}
	if s.String() != "wed 13:00-14:40" {
		t.Errorf("String() = %q", s.String())
	}

	bad := [][3]string{
		{"mon", "10:00", "09:00"},
		{"mon", "10:00", "10:00"},
		{"mon", "1000", "11:00"},
		{"funday", "10:00", "11:00"},
		{"mon", "25:00", "26:00"},
	}
	for _, b := range bad {
		if _, err := ParseTimeSlot(b[0], b[1], b[2]); err == nil {
			t.Errorf("ParseTimeSlot(%q) expected error", b)
		}
	}
}

func codes(cs []Course) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Code
	}
	return out
}

func TestRestore(t *testing.T) {
	rec := NewSelectionRecord(Entry{Code: "OLD", Section: "9"})
	rec.Restore([]Entry{
		{Code: "A", Section: "1"},
		{Code: "B", Section: "2"},
	})
	if _, ok := rec.Get("OLD"); ok {
		t.Error("Restore should replace existing entries")
	}
	got := rec.Entries()
	if len(got) != 2 || got[0].Code != "A" || got[1].Code != "B" {
		t.Errorf("Entries = %+v", got)
	}
	if err := Check(Course{Code: "A", Section: "3"}, rec); err == nil {
		t.Error("restored entry should still block another section")
	}
}
