package track

import (
	"time"

	"pipelined.dev/track/metric"
)

// slot holds one stage of the chain.
type slot struct {
	name  string
	stage Stage

	filter  Filter // set when opened
	opened  bool
	removed bool
	// noskip forces one process call even if the input is empty.
	noskip bool

	in, out []byte

	elapsed time.Duration
	measure metric.MeasureFunc
}

// chain is an ordered list of slots. Slots are never unlinked, removal
// only marks them, so indexes stay valid for the track lifetime.
type chain []*slot

// next returns index of the first active slot after i, or -1.
func (c chain) next(i int) int {
	for j := i + 1; j < len(c); j++ {
		if !c[j].removed {
			return j
		}
	}
	return -1
}

// prev returns index of the first active slot before i, or -1.
func (c chain) prev(i int) int {
	for j := i - 1; j >= 0; j-- {
		if !c[j].removed {
			return j
		}
	}
	return -1
}

// first returns index of the first active slot, or -1.
func (c chain) first() int {
	return c.next(-1)
}

// active returns number of slots that are not removed.
func (c chain) active() int {
	n := 0
	for _, s := range c {
		if !s.removed {
			n++
		}
	}
	return n
}

// shift is a cursor command built from the process result.
type shift uint8

const (
	shiftNext shift = 1 << iota
	shiftPrev
	// shiftSameIfBounce stays on the current slot instead of leaving
	// the chain.
	shiftSameIfBounce
	shiftRemove
	// shiftRemoveUpstream removes all slots before the current one.
	shiftRemoveUpstream
)

// move is the outcome of a cursor shift.
type move uint8

const (
	moveNext move = iota
	movePrev
	moveSame
	// moveNoNext means the cursor left the chain at its end.
	moveNoNext
	// moveNoPrev means the cursor left the chain at its start.
	moveNoPrev
)

// shift moves the cursor from position cur and applies removals.
func (c chain) shift(cur int, cmd shift) (int, move) {
	next, prev := c.next(cur), c.prev(cur)
	pos, m := cur, moveSame
	switch {
	case cmd&shiftNext != 0:
		if next >= 0 {
			pos, m = next, moveNext
		} else if cmd&(shiftSameIfBounce|shiftRemove) != shiftSameIfBounce {
			m = moveNoNext
		}
	case cmd&shiftPrev != 0:
		switch {
		case prev >= 0:
			pos, m = prev, movePrev
		case cmd&shiftRemove != 0 && next >= 0:
			// removed head stage doesn't ask for input
			pos, m = next, moveNext
		case cmd&shiftRemove != 0:
			m = moveNoNext
		case cmd&shiftSameIfBounce == 0:
			m = moveNoPrev
		}
	}
	if cmd&shiftRemoveUpstream != 0 {
		for i := prev; i >= 0; i = c.prev(i) {
			c[i].removed = true
		}
	}
	if cmd&shiftRemove != 0 {
		c[cur].removed = true
	}
	return pos, m
}
