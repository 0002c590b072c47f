package looper

// slotState distinguishes a slot that genuinely has nothing in it
// (free, reusable) from one that is merely out on loan to an
// in-flight callback (taken, NOT reusable). Conflating the two would
// let a nested Add/reserve call made from inside a callback steal the
// exact index of the object or handler currently being dispatched —
// exactly the self-referential pattern the echo-chain scenario in
// spec.md §8 exercises (a reaper callback spawning and registering a
// new child while its own object is still taken).
type slotState uint8

const (
	slotFree slotState = iota
	slotOccupied
	slotTaken
)

// stash is a dense slot table yielding stable small-integer indices,
// the Go analogue of the Rust stash crate used throughout the original
// Core. Removed slots are pushed onto a free list and reused on the
// next reservation, exactly like the teacher's fd-indexed maps in
// watcher.go reuse low integer keys — but only once a slot is truly
// free, never while it is merely taken for the duration of a callback.
type stash[T any] struct {
	slots []stashSlot[T]
	free  []uint32
	live  int // slots currently occupied or taken (not free)
}

type stashSlot[T any] struct {
	state slotState
	value T
}

func newStash[T any]() *stash[T] {
	return &stash[T]{}
}

// reserve claims a slot without storing a value in it yet, returning
// its index. The slot exists but reads as not-occupied until commit
// is called with the same index. This is what lets a caller learn an
// object's id before the object itself is constructed, the same
// trick Core::next_id() enables in the Rust original: register a
// reaper or reader bound to an id, then add() the object that owns
// that id.
func (s *stash[T]) reserve() uint32 {
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		return idx
	}
	idx := uint32(len(s.slots))
	s.slots = append(s.slots, stashSlot[T]{})
	return idx
}

// commit stores v at a previously reserved idx.
func (s *stash[T]) commit(idx uint32, v T) {
	if idx >= uint32(len(s.slots)) || s.slots[idx].state != slotFree {
		panic("looper: commit on unreserved or occupied slot")
	}
	s.slots[idx] = stashSlot[T]{state: slotOccupied, value: v}
	s.live++
}

// put reserves and commits in one step.
func (s *stash[T]) put(v T) uint32 {
	idx := s.reserve()
	s.commit(idx, v)
	return idx
}

func (s *stash[T]) get(idx uint32) (*T, bool) {
	if idx >= uint32(len(s.slots)) || s.slots[idx].state != slotOccupied {
		return nil, false
	}
	return &s.slots[idx].value, true
}

// take removes and returns the value at idx for the duration of an
// in-flight callback invocation. Unlike remove, it does NOT push idx
// onto the free list: the slot is "taken", not free, so nothing else
// can be assigned this index until restore (success) or remove
// (explicit deletion while taken) resolves it. Mirrors Stash::take in
// the Rust original, which the dispatch loop relies on to detach a
// handler/object from the table for the duration of a callback
// invocation.
func (s *stash[T]) take(idx uint32) (T, bool) {
	var zero T
	if idx >= uint32(len(s.slots)) || s.slots[idx].state != slotOccupied {
		return zero, false
	}
	v := s.slots[idx].value
	s.slots[idx] = stashSlot[T]{state: slotTaken}
	return v, true
}

// restore places v back at idx if the slot is still marked taken,
// i.e. nothing deleted it for good while it was on loan. Returns
// false if the slot was explicitly removed while taken, or is out of
// range — meaning the callback itself removed its own entry, e.g. a
// WebSocket connection closing itself.
func (s *stash[T]) restore(idx uint32, v T) bool {
	if idx >= uint32(len(s.slots)) || s.slots[idx].state != slotTaken {
		return false
	}
	s.slots[idx] = stashSlot[T]{state: slotOccupied, value: v}
	return true
}

// remove deletes the value at idx, whether it is currently occupied
// or out on loan (taken). In the occupied case it hands the real
// value back to the caller, matching the add/remove round-trip law in
// spec.md §8. In the taken case (a callback removing its own id, or
// another id currently mid-dispatch) there is no value to hand back —
// the live copy is still held by whoever called take — so it returns
// the zero value with ok=true to signal "this id existed and is now
// gone"; the in-flight restore call will observe the slot is no
// longer taken and drop what it's holding instead of reinserting it.
func (s *stash[T]) remove(idx uint32) (T, bool) {
	var zero T
	if idx >= uint32(len(s.slots)) {
		return zero, false
	}
	switch s.slots[idx].state {
	case slotOccupied:
		v := s.slots[idx].value
		s.slots[idx] = stashSlot[T]{}
		s.free = append(s.free, idx)
		s.live--
		return v, true
	case slotTaken:
		s.slots[idx] = stashSlot[T]{}
		s.free = append(s.free, idx)
		s.live--
		return zero, true
	default:
		return zero, false
	}
}

func (s *stash[T]) contains(idx uint32) bool {
	return idx < uint32(len(s.slots)) && s.slots[idx].state == slotOccupied
}

// len reports the number of slots currently occupied or taken (on
// loan to an in-flight callback) — i.e. live entries, regardless of
// how much backing capacity the slice has grown to.
func (s *stash[T]) len() int {
	return s.live
}
