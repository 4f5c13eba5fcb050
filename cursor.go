package track

import (
	"errors"
	"fmt"
	"os"
	"time"

	"pipelined.dev/track/metric"
)

// drive runs the chain until the track finishes, fails or is suspended.
// Must be called with t.mu held.
func (t *Track) drive() {
	t.status = Status{Phase: PhaseRunning}
	if t.cur < 0 {
		t.cur = t.chain.first()
		skipped, ok := t.enter(nil, t.cur)
		if !ok {
			return
		}
		if skipped && !t.advance(t.chain[t.cur], shiftNext|shiftRemove) {
			return
		}
	}

	for {
		if t.stopReq.Load() && t.state != StateError {
			t.markStopped()
		}
		if t.pauseReq.Swap(false) && t.state == StateActive {
			t.state = StatePaused
		}
		switch t.state {
		case StateError, StateStopped:
			t.teardown()
			return
		case StatePaused:
			t.status = Status{Phase: PhaseSuspended, Reason: "paused"}
			return
		}

		s := t.chain[t.cur]
		cmd, ok := t.invoke(s)
		if !ok {
			return
		}
		if len(s.in) != 0 {
			cmd |= shiftSameIfBounce
		}
		if !t.advance(s, cmd) {
			return
		}
	}
}

// invoke calls process on the slot and translates the result into a
// cursor command. It returns false when driving must stop.
func (t *Track) invoke(s *slot) (shift, bool) {
	p := &t.props
	if t.chain.prev(t.cur) < 0 {
		p.Flags |= FlagLast
	} else {
		p.Flags &^= FlagLast
	}
	p.Data, p.Out = s.in, s.out
	p.Log = t.log.WithField("stage", s.name)

	p.Log.Debugf(">> calling %s, input: %d", s.name, len(s.in))
	start := time.Now()
	r, err := s.filter.Process(p)
	elapsed := time.Since(start)
	inLen := len(s.in)
	s.in, s.out = p.Data, p.Out
	s.elapsed += elapsed
	s.measure(inLen-len(s.in), len(s.out), elapsed)
	p.Log.Debugf("<< %s returned: %v, output: %d", s.name, r, len(s.out))

	if t.state == StateError {
		// store collision reported during process
		t.teardown()
		return 0, false
	}
	if err != nil {
		t.fail(s.name, failure(r, err), err)
		return 0, false
	}

	switch r {
	case ResultSysError:
		t.fail(s.name, ErrSystemFailure, nil)
	case ResultError:
		t.fail(s.name, ErrStageFailure, nil)
	case ResultAsync:
		t.status = Status{Phase: PhaseSuspended, Reason: s.name}
	case ResultMore:
		return shiftPrev, true
	case ResultOK:
		return shiftNext, true
	case ResultData:
		s.noskip = true
		return shiftNext | shiftSameIfBounce, true
	case ResultDone:
		s.in = nil
		return shiftNext | shiftRemove, true
	case ResultDonePrev:
		s.in = nil
		return shiftPrev | shiftRemove, true
	case ResultLastOut:
		s.in = nil
		return shiftNext | shiftRemove | shiftRemoveUpstream, true
	case ResultFin:
		t.teardown()
	default:
		t.fail(s.name, ErrProtocolViolation, fmt.Errorf("unknown result: %v", r))
	}
	return 0, false
}

// advance moves the cursor away from slot f until it rests on a slot
// that has to be processed. It returns false when the track is done.
func (t *Track) advance(f *slot, cmd shift) bool {
	for {
		pos, m := t.chain.shift(t.cur, cmd)
		switch m {
		case moveNoNext:
			t.teardown()
			return false
		case moveNoPrev:
			t.fail(f.name, ErrStarvedPipeline, nil)
			return false
		case moveNext:
			t.cur = pos
			skipped, ok := t.enter(f, pos)
			if !ok {
				return false
			}
			if !skipped {
				return true
			}
			f, cmd = t.chain[pos], shiftNext|shiftRemove
		default:
			t.cur = pos
			nf := t.chain[pos]
			if nf.noskip {
				nf.noskip = false
				return true
			}
			if len(nf.in) != 0 || pos == t.chain.first() {
				return true
			}
			// nothing to process, keep going upstream
			f, cmd = nf, shiftPrev
		}
	}
}

// enter hands the output of f to the slot at pos and opens it if needed.
// It returns true if the stage skipped itself.
func (t *Track) enter(f *slot, pos int) (skipped, ok bool) {
	nf := t.chain[pos]
	var out []byte
	if f != nil {
		out = f.out
	}
	nf.in = out
	if nf.opened {
		return false, true
	}
	if t.stopReq.Load() || t.props.Flags&FlagStop != 0 {
		t.markStopped()
		t.teardown()
		return false, false
	}

	t.log.Debugf("creating context for %s...", nf.name)
	t.props.Data, t.props.Out = nf.in, nil
	t.props.Log = t.log.WithField("stage", nf.name)
	filter, err := nf.stage.Open(&t.props)
	switch {
	case errors.Is(err, ErrSkip):
		t.log.Debugf("%s is skipped", nf.name)
		nf.out = out
		return true, true
	case err != nil:
		t.fail(nf.name, failure(0, err), err)
		return false, false
	case filter == nil:
		t.fail(nf.name, ErrProtocolViolation, errors.New("open returned no filter"))
		return false, false
	}
	t.log.Debugf("context for %s created", nf.name)
	nf.filter = filter
	nf.opened = true
	nf.measure = metric.Meter(nf.name)
	if t.state == StateError {
		// store collision reported during open
		t.teardown()
		return false, false
	}
	return false, true
}

// failure returns the kind of failure for the result and error.
func failure(r Result, err error) error {
	if r == ResultSysError || errors.As(err, new(*os.PathError)) || errors.As(err, new(*os.SyscallError)) {
		return ErrSystemFailure
	}
	return ErrStageFailure
}
