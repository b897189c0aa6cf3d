package schedule

import (
	"fmt"
	"iter"
	"slices"
	"sort"

	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
)

type entry struct {
	Activity
	// seq is the submission order; it breaks release-time ties.
	seq uint64
}

func (e *entry) less(o *entry) bool {
	if c := e.ReleaseTime.Compare(o.ReleaseTime); c != 0 {
		return c < 0
	}
	return e.seq < o.seq
}

// MaxActivities bounds every store regardless of its configured capacity.
// Reports carry the entry count in 16 bits.
const MaxActivities = 0xFFFF

// Store holds scheduled activities ordered by release time, then by
// submission order. It has a single owner and is not safe for concurrent use.
type Store struct {
	entries  []*entry
	byID     map[ActivityID]*entry
	nextSeq  uint64
	enabled  bool
	capacity int
}

// NewStore returns an empty, disabled store. capacity <= 0 means the
// MaxActivities ceiling only.
func NewStore(capacity int) *Store {
	return &Store{
		byID:     make(map[ActivityID]*entry),
		capacity: capacity,
	}
}

func (s *Store) Len() int          { return len(s.entries) }
func (s *Store) Enabled() bool     { return s.enabled }
func (s *Store) Capacity() int     { return s.capacity }
func (s *Store) SetEnabled(b bool) { s.enabled = b }

// SetCapacity changes the maximum number of activities. Existing entries
// above a lowered limit are kept; only new inserts are refused.
func (s *Store) SetCapacity(n int) { s.capacity = n }

// Insert adds a to the schedule. notBefore is the earliest acceptable
// release time. The payload is copied.
func (s *Store) Insert(a Activity, notBefore obtime.Time) error {
	if _, ok := s.byID[a.ID]; ok {
		return fmt.Errorf("insert %s: %w", a.ID, ErrDuplicateID)
	}
	if a.ReleaseTime.Before(notBefore) {
		return fmt.Errorf("insert %s at %s (earliest %s): %w", a.ID, a.ReleaseTime, notBefore, ErrTimeInPast)
	}
	if limit := s.limit(); len(s.entries) >= limit {
		return fmt.Errorf("insert %s: %w (capacity %d)", a.ID, ErrScheduleFull, limit)
	}
	a.Payload = slices.Clone(a.Payload)
	s.add(a)
	return nil
}

func (s *Store) limit() int {
	if s.capacity <= 0 || s.capacity > MaxActivities {
		return MaxActivities
	}
	return s.capacity
}

func (s *Store) add(a Activity) {
	e := &entry{Activity: a, seq: s.nextSeq}
	s.nextSeq++
	s.byID[a.ID] = e
	s.place(e)
}

// place inserts e after every entry that does not sort after it.
func (s *Store) place(e *entry) {
	i := sort.Search(len(s.entries), func(i int) bool { return e.less(s.entries[i]) })
	s.entries = slices.Insert(s.entries, i, e)
}

func (s *Store) unplace(e *entry) {
	i := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].less(e) })
	if i < len(s.entries) && s.entries[i] == e {
		s.entries = slices.Delete(s.entries, i, i+1)
	}
}

// Delete removes the activity with the given id.
func (s *Store) Delete(id ActivityID) error {
	e, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	s.unplace(e)
	delete(s.byID, id)
	return nil
}

// DeleteAll empties the schedule. The enabled flag is untouched.
func (s *Store) DeleteAll() {
	clear(s.entries)
	s.entries = s.entries[:0]
	clear(s.byID)
}

// Shift moves one activity by delta seconds. The result must not be
// earlier than notBefore, otherwise the store is left unchanged.
func (s *Store) Shift(id ActivityID, delta int32, notBefore obtime.Time) error {
	e, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("shift %s: %w", id, ErrNotFound)
	}
	next, ok := e.ReleaseTime.Shift(delta)
	if !ok || next.Before(notBefore) {
		return fmt.Errorf("shift %s by %ds: %w", id, delta, ErrTimeInPast)
	}
	s.unplace(e)
	e.ReleaseTime = next
	s.place(e)
	return nil
}

// ShiftAll moves every activity by delta seconds, or none of them if any
// would land before notBefore.
func (s *Store) ShiftAll(delta int32, notBefore obtime.Time) error {
	shifted := make([]obtime.Time, len(s.entries))
	for i, e := range s.entries {
		next, ok := e.ReleaseTime.Shift(delta)
		if !ok || next.Before(notBefore) {
			return fmt.Errorf("shift all by %ds: %s: %w", delta, e.ID, ErrTimeInPast)
		}
		shifted[i] = next
	}
	// A uniform shift keeps the relative order.
	for i, e := range s.entries {
		e.ReleaseTime = shifted[i]
	}
	return nil
}

// Due yields, oldest first, every activity released at or before now.
// Each yielded activity has already been removed from the store.
func (s *Store) Due(now obtime.Time) iter.Seq[Activity] {
	return func(yield func(Activity) bool) {
		for len(s.entries) > 0 && !s.entries[0].ReleaseTime.After(now) {
			e := s.entries[0]
			s.entries = slices.Delete(s.entries, 0, 1)
			delete(s.byID, e.ID)
			if !yield(e.Activity) {
				return
			}
		}
	}
}

// NextRelease returns the earliest release time in the schedule.
func (s *Store) NextRelease() (obtime.Time, bool) {
	if len(s.entries) == 0 {
		return obtime.Time{}, false
	}
	return s.entries[0].ReleaseTime, true
}

// Contains reports whether id is scheduled.
func (s *Store) Contains(id ActivityID) bool {
	_, ok := s.byID[id]
	return ok
}

// Lookup returns the listed activities in release order. Unknown and
// repeated ids are skipped.
func (s *Store) Lookup(ids []ActivityID) []Activity {
	found := make([]*entry, 0, len(ids))
	seen := make(map[ActivityID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if e, ok := s.byID[id]; ok {
			found = append(found, e)
		}
	}
	slices.SortFunc(found, func(a, b *entry) int {
		if a.less(b) {
			return -1
		}
		if b.less(a) {
			return 1
		}
		return 0
	})
	out := make([]Activity, len(found))
	for i, e := range found {
		out[i] = e.Activity
	}
	return out
}

// All returns every activity in release order.
func (s *Store) All() []Activity {
	out := make([]Activity, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Activity
	}
	return out
}

// Snapshot copies the schedule state for journaling.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{Enabled: s.enabled, Activities: s.All()}
}

// Restore replaces the store contents with snap. Release times are not
// checked against the clock: overdue entries stay until released. A snapshot
// with repeated ids or too many entries leaves the store unchanged.
func (s *Store) Restore(snap Snapshot) error {
	if n := len(snap.Activities); n > MaxActivities {
		return fmt.Errorf("restore: %w (%d activities, limit %d)", ErrScheduleFull, n, MaxActivities)
	}
	seen := make(map[ActivityID]struct{}, len(snap.Activities))
	for _, a := range snap.Activities {
		if _, ok := seen[a.ID]; ok {
			return fmt.Errorf("restore %s: %w", a.ID, ErrDuplicateID)
		}
		seen[a.ID] = struct{}{}
	}

	s.DeleteAll()
	s.enabled = snap.Enabled
	for _, a := range snap.Activities {
		a.Payload = slices.Clone(a.Payload)
		s.add(a)
	}
	return nil
}
