// Package shredder implements the sequence shredder / input
// formatter: a ring buffer of atomically packed
// entries that resolves "spanning tuples" — maximal runs of buffers
// whose first and last buffer carry a tuple delimiter and whose
// intermediate buffers do not — guaranteeing each spanning tuple is
// claimed by exactly one worker (at-most-one, at-least-one).
package shredder

import (
	"fmt"
	"sync/atomic"
)

// Result is the outcome of feeding one buffer into the shredder.
type Result int

const (
	// NoSpanFound means the buffer was staged but no spanning tuple
	// was completed by this arrival.
	NoSpanFound Result = iota
	// Claimed means this call claimed exactly one spanning tuple.
	Claimed
	// NotInRange means the ring slot for this sequence number is not
	// yet free (the ring is saturated); the caller should retry after
	// progress elsewhere.
	NotInRange
)

// Span describes a claimed spanning tuple: the inclusive sequence
// number range [FirstSeq, LastSeq] and the staged payloads in order.
type Span[T any] struct {
	FirstSeq uint64
	LastSeq  uint64
	Buffers  []T
}

// entry packs {abaIt, hasDelimiter, usesRemaining, claimedBit} into a
// single atomic word:
//
//	bits [0]     claimed
//	bits [1,2]   usesRemaining (0..2)
//	bit  [3]     hasDelimiter
//	bits [4,35]  abaIterationNumber
type entry[T any] struct {
	state atomic.Uint64
	value atomic.Pointer[T]
}

func packState(abaIt uint32, hasDelimiter bool, usesRemaining uint8, claimed bool) uint64 {
	var w uint64
	w |= uint64(abaIt) << 4
	if hasDelimiter {
		w |= 1 << 3
	}
	w |= uint64(usesRemaining&0x3) << 1
	if claimed {
		w |= 1
	}
	return w
}

func unpackState(w uint64) (abaIt uint32, hasDelimiter bool, usesRemaining uint8, claimed bool) {
	abaIt = uint32(w >> 4)
	hasDelimiter = (w>>3)&1 == 1
	usesRemaining = uint8((w >> 1) & 0x3)
	claimed = w&1 == 1
	return
}

// Shredder is a ring buffer of bufferCapacity entries resolving
// spanning tuples over staged buffers of type T.
type Shredder[T any] struct {
	capacity uint64
	entries  []entry[T]
}

// New creates a Shredder with the given ring capacity. capacity must
// exceed the maximum in-flight out-of-order window for completeness.
func New[T any](capacity uint64) *Shredder[T] {
	if capacity == 0 {
		panic("shredder: capacity must be > 0")
	}
	return &Shredder[T]{
		capacity: capacity,
		entries:  make([]entry[T], capacity),
	}
}

func (s *Shredder[T]) idxAndIt(seq uint64) (uint64, uint32) {
	idx := (seq - 1) % s.capacity
	it := uint32((seq-1)/s.capacity) + 1
	return idx, it
}

// stage CASes the entry at (idx,it) from "prior-iteration-with-zero-
// uses" to "current-iteration-staged-with-d". Returns false (NOT_IN_
// RANGE) if the slot is not yet reclaimable.
func (s *Shredder[T]) stage(idx uint64, it uint32, hasDelimiter bool, value T) bool {
	e := &s.entries[idx]
	initialUses := uint8(1)
	if hasDelimiter {
		initialUses = 2
	}
	for {
		old := e.state.Load()
		oldIt, _, oldUses, _ := unpackState(old)
		if !(oldIt+1 == it && oldUses == 0) {
			return false
		}
		newWord := packState(it, hasDelimiter, initialUses, false)
		// Publish the payload before CAS so any thread observing the
		// new state afterward also observes the value (release order).
		e.value.Store(&value)
		if e.state.CompareAndSwap(old, newWord) {
			return true
		}
	}
}

// connectedIt returns the abaIt that a position reached by walking
// away from the origin iteration `originIt` in `dir` (+1 trailing,
// -1 leading) must carry to lie on a continuously-connected path: the
// same iteration, or exactly one lower when crossing the leading
// wraparound / one higher crossing the trailing wraparound.
func connectedIt(originIt uint32, crossedWrap bool, dir int) uint32 {
	if !crossedWrap {
		return originIt
	}
	if dir < 0 {
		return originIt - 1
	}
	return originIt + 1
}

// searchLeading walks decreasing sequence numbers from idx (exclusive)
// looking for the nearest entry with hasDelimiter=true reachable via a
// chain of connected ABA iterations. Returns the found index, its
// packed state, and ok.
func (s *Shredder[T]) searchLeading(idx uint64, it uint32) (uint64, uint64, bool) {
	expectedIt := it
	cur := idx
	for step := uint64(0); step < s.capacity; step++ {
		if cur == 0 {
			cur = s.capacity - 1
			expectedIt = connectedIt(expectedIt, true, -1)
		} else {
			cur--
		}
		word := s.entries[cur].state.Load()
		abaIt, hasDelimiter, _, _ := unpackState(word)
		if abaIt != expectedIt {
			return 0, 0, false
		}
		if hasDelimiter {
			return cur, word, true
		}
	}
	return 0, 0, false
}

// searchTrailing is the mirror of searchLeading, walking increasing
// sequence numbers.
func (s *Shredder[T]) searchTrailing(idx uint64, it uint32) (uint64, uint64, bool) {
	expectedIt := it
	cur := idx
	for step := uint64(0); step < s.capacity; step++ {
		if cur == s.capacity-1 {
			cur = 0
			expectedIt = connectedIt(expectedIt, true, 1)
		} else {
			cur++
		}
		word := s.entries[cur].state.Load()
		abaIt, hasDelimiter, _, _ := unpackState(word)
		if abaIt != expectedIt {
			return 0, 0, false
		}
		if hasDelimiter {
			return cur, word, true
		}
	}
	return 0, 0, false
}

// tryClaim attempts to flip the claimedSpanningTupleBit of the entry
// at idx from 0 to 1, requiring its abaIt/hasDelimiter to still match
// observed. Exactly one racing thread succeeds.
func (s *Shredder[T]) tryClaim(idx uint64, observed uint64) bool {
	e := &s.entries[idx]
	abaIt, hasDelimiter, uses, _ := unpackState(observed)
	expected := packState(abaIt, hasDelimiter, uses, false)
	newWord := packState(abaIt, hasDelimiter, uses, true)
	return e.state.CompareAndSwap(expected, newWord)
}

// releaseUse decrements usesRemaining on the entry at idx by one via
// a CAS loop; once it reaches zero the slot becomes reclaimable for
// the next ABA iteration.
func (s *Shredder[T]) releaseUse(idx uint64) {
	e := &s.entries[idx]
	for {
		old := e.state.Load()
		abaIt, hasDelimiter, uses, claimed := unpackState(old)
		if uses == 0 {
			return
		}
		newWord := packState(abaIt, hasDelimiter, uses-1, claimed)
		if e.state.CompareAndSwap(old, newWord) {
			return
		}
	}
}

// collectSpan gathers the staged payloads for the inclusive index
// range walking from fromIdx to toIdx in the given direction, and
// releases a use on every member.
func (s *Shredder[T]) collectSpan(fromIdx, toIdx uint64, forward bool) []T {
	var indices []uint64
	if forward {
		cur := fromIdx
		for {
			indices = append(indices, cur)
			if cur == toIdx {
				break
			}
			if cur == s.capacity-1 {
				cur = 0
			} else {
				cur++
			}
		}
	} else {
		cur := fromIdx
		for {
			indices = append(indices, cur)
			if cur == toIdx {
				break
			}
			if cur == 0 {
				cur = s.capacity - 1
			} else {
				cur--
			}
		}
		// reverse so the result is in ascending sequence order
		for i, j := 0, len(indices)-1; i < j; i, j = i+1, j-1 {
			indices[i], indices[j] = indices[j], indices[i]
		}
	}

	out := make([]T, 0, len(indices))
	for _, idx := range indices {
		v := s.entries[idx].value.Load()
		if v != nil {
			out = append(out, *v)
		}
		s.releaseUse(idx)
	}
	return out
}

// Offer feeds buffer sn (with delimiter flag hasDelimiter and payload
// value) into the shredder. It returns NotInRange if the ring slot is
// still occupied by a prior, unreclaimed iteration; otherwise it
// stages the buffer and attempts to resolve any spanning tuple it
// completes protocol.
func (s *Shredder[T]) Offer(sn uint64, hasDelimiter bool, value T) (Result, *Span[T]) {
	idx, it := s.idxAndIt(sn)
	if !s.stage(idx, it, hasDelimiter, value) {
		return NotInRange, nil
	}

	if hasDelimiter {
		// Step 2: leading search — this buffer may be the trailing end
		// of a span whose start is somewhere before it.
		if leadIdx, word, ok := s.searchLeading(idx, it); ok {
			if s.tryClaim(leadIdx, word) {
				firstSeq := s.seqOf(leadIdx, word)
				buffers := s.collectSpan(leadIdx, idx, true)
				return Claimed, &Span[T]{FirstSeq: firstSeq, LastSeq: sn, Buffers: buffers}
			}
		}
		// Step 3: trailing search — this buffer may be the start of a
		// span whose end arrived earlier and is already staged.
		if trailIdx, word, ok := s.searchTrailing(idx, it); ok {
			// Claim is attempted on the leader, which is this buffer.
			if _, _, claimedOk := s.claimSelf(idx); claimedOk {
				lastSeq := s.seqOf(trailIdx, word)
				buffers := s.collectSpan(idx, trailIdx, true)
				return Claimed, &Span[T]{FirstSeq: sn, LastSeq: lastSeq, Buffers: buffers}
			}
		}
		return NoSpanFound, nil
	}

	// Step 4: d = false — this buffer is a candidate interior member;
	// only claim if TD entries are reachable on BOTH sides.
	leadIdx, leadWord, leadOk := s.searchLeading(idx, it)
	trailIdx, _, trailOk := s.searchTrailing(idx, it)
	if leadOk && trailOk {
		if s.tryClaim(leadIdx, leadWord) {
			firstSeq := s.seqOf(leadIdx, leadWord)
			lastWord := s.entries[trailIdx].state.Load()
			lastSeq := s.seqOf(trailIdx, lastWord)
			buffers := s.collectSpan(leadIdx, trailIdx, true)
			return Claimed, &Span[T]{FirstSeq: firstSeq, LastSeq: lastSeq, Buffers: buffers}
		}
	}
	return NoSpanFound, nil
}

// claimSelf attempts to flip this entry's own claimed bit, used when
// the just-staged buffer is itself the leader of a trailing span.
func (s *Shredder[T]) claimSelf(idx uint64) (word uint64, hasDelimiter bool, ok bool) {
	e := &s.entries[idx]
	old := e.state.Load()
	abaIt, hasDelimiter, uses, claimed := unpackState(old)
	if claimed {
		return old, hasDelimiter, false
	}
	expected := packState(abaIt, hasDelimiter, uses, false)
	newWord := packState(abaIt, hasDelimiter, uses, true)
	ok = e.state.CompareAndSwap(expected, newWord)
	return newWord, hasDelimiter, ok
}

// seqOf reconstructs the sequence number that produced the observed
// packed word at ring index idx, given the ABA iteration it encodes.
func (s *Shredder[T]) seqOf(idx uint64, word uint64) uint64 {
	it, _, _, _ := unpackState(word)
	return uint64(it-1)*s.capacity + idx + 1
}

// Validate performs a best-effort internal consistency scan, useful
// in tests: it reports an error for any entry with usesRemaining > 2.
// The claimed bit and the iteration are not checked.
func (s *Shredder[T]) Validate() error {
	for i := range s.entries {
		_, _, uses, _ := unpackState(s.entries[i].state.Load())
		if uses > 2 {
			return fmt.Errorf("shredder: entry %d has invalid usesRemaining %d", i, uses)
		}
	}
	return nil
}
