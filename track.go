package track

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"pipelined.dev/track/store"
)

// State of the track.
type State int

// Track states.
const (
	StateStopped State = iota
	StateActive
	StatePaused
	StateError
)

var stateNames = [...]string{
	StateStopped: "stopped",
	StateActive:  "active",
	StatePaused:  "paused",
	StateError:   "error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Phase of the track execution.
type Phase int

const (
	// PhaseRunning means the chain is being driven or is ready to be.
	PhaseRunning Phase = iota
	// PhaseSuspended means the track waits for Resume or Unpause.
	PhaseSuspended
	// PhaseTerminal means the track is torn down.
	PhaseTerminal
)

// Status describes the track execution.
type Status struct {
	Phase Phase
	// Reason of suspension: name of the stage that returned ResultAsync
	// or "paused".
	Reason string
	// Err is the outcome of terminated track. It's nil when the track
	// finished or was stopped.
	Err error
}

// Track is a chain of stages with its properties and stores.
type Track struct {
	id     uint64
	engine *Engine
	log    *logrus.Entry

	// mu is held while the chain is driven.
	mu sync.Mutex
	// busy is set while stages are called.
	busy     atomic.Bool
	stopReq  atomic.Bool
	pauseReq atomic.Bool

	state  State
	status Status
	chain  chain
	cur    int
	props  Props
	values *store.Store
	tags   *store.Store

	started   bool
	destroyed bool
	startTime time.Time
	err       error
	done      chan struct{}
}

func newTrack(e *Engine, id uint64, kind Kind) *Track {
	t := &Track{
		id:     id,
		engine: e,
		log:    e.log.WithField("track", fmt.Sprintf("*%d", id)),
		cur:    -1,
		done:   make(chan struct{}),
	}
	t.values = store.New(
		store.WithHasher(e.hash),
		store.WithCollisionHandler(t.collision),
		store.WithReleaser(e.release),
	)
	t.tags = store.New(
		store.WithHasher(e.hash),
		store.WithCollisionHandler(t.collision),
		store.WithReleaser(e.release),
		store.WithFallback(t.queueMeta),
	)
	t.props = Props{
		Kind:   kind,
		Values: t.values,
		Tags:   t.tags,
		Log:    t.log,
		Wake:   t.Resume,
		track:  t,
	}
	t.props.CopySettings(&e.cfg.Defaults)
	return t
}

// ID returns the track sequence number.
func (t *Track) ID() uint64 {
	return t.id
}

// Kind returns the track kind.
func (t *Track) Kind() Kind {
	return t.props.Kind
}

// Props returns track properties. They can be changed until the track is
// started.
func (t *Track) Props() *Props {
	return &t.props
}

// Values returns the store of working values.
func (t *Track) Values() *store.Store {
	return t.values
}

// Tags returns the store of metadata.
func (t *Track) Tags() *store.Store {
	return t.tags
}

// State returns current state of the track.
func (t *Track) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Status returns current execution status of the track.
func (t *Track) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done returns a channel which is closed when the track is torn down.
func (t *Track) Done() <-chan struct{} {
	return t.done
}

// Err waits until the track is torn down and returns the error it failed
// with.
func (t *Track) Err() error {
	<-t.done
	return t.err
}

// LogInfo returns track id and the name of the current stage.
func (t *Track) LogInfo() (string, string) {
	id := fmt.Sprintf("*%d", t.id)
	if t.cur < 0 || t.cur >= len(t.chain) {
		return id, ""
	}
	return id, t.chain[t.cur].name
}

// Stages returns names of all stages of the chain, including removed.
func (t *Track) Stages() []string {
	names := make([]string, 0, len(t.chain))
	for _, s := range t.chain {
		names = append(names, s.name)
	}
	return names
}

// AddStage appends the registered stage to the chain. Stages can only be
// added before the track is started.
func (t *Track) AddStage(name string) error {
	if t.started {
		return ErrInvalidState
	}
	return t.addStage(name)
}

// addStage appends the registered stage. It's used by the chain policy,
// which completes the chain in Start.
func (t *Track) addStage(name string) error {
	s, err := t.engine.modules.Lookup(name)
	if err != nil {
		return err
	}
	t.add(name, s)
	return nil
}

func (t *Track) add(name string, s Stage) {
	t.chain = append(t.chain, &slot{name: name, stage: s})
}

// addOptional appends the stage if it's registered.
func (t *Track) addOptional(name string) {
	if s, err := t.engine.modules.Lookup(name); err == nil {
		t.add(name, s)
	}
}

// addByExt appends the stage resolved by extension.
func (t *Track) addByExt(m ExtMap, ext string) error {
	name, s, err := lookupByExt(t.engine.modules, m, ext)
	if err != nil {
		return err
	}
	t.add(name, s)
	return nil
}

// Start completes the chain with output stages, registers the track and
// drives it. Error is returned if the chain cannot be built, the track is
// torn down in this case. Errors that happen during processing are
// returned by Err.
func (t *Track) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.destroyed {
		return ErrInvalidState
	}
	t.started = true

	if t.state == StateError {
		return t.abort(t.err)
	}
	if t.props.Kind != KindNone {
		if err := t.engine.setOutput(t); err != nil {
			return t.abort(err)
		}
	}
	if len(t.chain) == 0 {
		return t.abort(ErrEmptyChain)
	}

	t.engine.register(t)
	t.state = StateActive
	t.startTime = time.Now()
	t.run(t.drive)
	return nil
}

// abort tears down the track that failed to start.
func (t *Track) abort(err error) error {
	t.state = StateError
	t.err = startError(t.id, err)
	t.log.Error(t.err)
	t.teardown()
	return t.err
}

func startError(id uint64, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	for _, kind := range []error{ErrEmptyChain, ErrMissingOutput, ErrUnsupportedFormat, ErrStageNotFound} {
		if err == kind {
			return &Error{Track: id, Kind: kind}
		}
		if errors.Is(err, kind) {
			return &Error{Track: id, Kind: kind, Cause: err}
		}
	}
	return &Error{Track: id, Kind: ErrStageFailure, Cause: err}
}

// Stop requests the track to stop. If the track is being driven, the
// request is handled by the drive loop. Otherwise the track is torn down
// immediately. Stop is a no-op for a destroyed track.
func (t *Track) Stop() {
	t.stopReq.Store(true)
	if t.busy.Load() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}
	t.run(func() {
		t.markStopped()
		t.teardown()
	})
}

// markStopped sets the stop flag and the stopped state.
func (t *Track) markStopped() {
	if t.props.Flags&FlagStop != 0 {
		return
	}
	t.props.Flags |= FlagStop
	t.values.SetInt("stopped", 1, 0)
	if t.state != StateError {
		t.state = StateStopped
	}
}

// Pause suspends an active track. If the track is being driven, it's
// suspended before the next stage call.
func (t *Track) Pause() error {
	if t.busy.Load() {
		t.pauseReq.Store(true)
		// the drive loop may have returned before the request was stored
		if t.busy.Load() {
			return nil
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauseReq.Store(false)
	if t.destroyed || !t.started {
		return ErrInvalidState
	}
	t.pause()
	return nil
}

func (t *Track) pause() {
	if t.state == StateActive {
		t.state = StatePaused
		t.status = Status{Phase: PhaseSuspended, Reason: "paused"}
	}
}

// Unpause continues a paused track.
func (t *Track) Unpause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauseReq.Store(false)
	if t.destroyed || t.state != StatePaused {
		return ErrInvalidState
	}
	t.state = StateActive
	t.run(t.drive)
	return nil
}

// Resume continues a track suspended by a stage. It's a no-op if the
// track is not suspended. It must not be called from Process.
func (t *Track) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed || t.state != StateActive || t.status.Phase != PhaseSuspended {
		return
	}
	t.run(t.drive)
}

// run calls fn with busy flag set. Stop and pause requests that the drive
// loop didn't observe are handled here.
func (t *Track) run(fn func()) {
	t.busy.Store(true)
	fn()
	t.busy.Store(false)
	if t.stopReq.Load() && !t.destroyed {
		t.busy.Store(true)
		t.markStopped()
		t.teardown()
		t.busy.Store(false)
		return
	}
	if t.pauseReq.Swap(false) && !t.destroyed {
		t.pause()
	}
}

// fail moves the track to error state and tears it down.
func (t *Track) fail(stage string, kind, cause error) {
	t.state = StateError
	t.err = &Error{Track: t.id, Stage: stage, Kind: kind, Cause: cause}
	t.log.WithField("stage", stage).Error(t.err)
	t.teardown()
}

// collision is called by the stores when two keys collide.
func (t *Track) collision(key, existing string) {
	if t.state == StateError {
		return
	}
	_, stage := t.LogInfo()
	t.state = StateError
	t.err = &Error{
		Track: t.id,
		Stage: stage,
		Kind:  ErrKeyCollision,
		Cause: fmt.Errorf("%q and %q", key, existing),
	}
	t.log.WithField("stage", stage).Error(t.err)
}

// queueMeta looks up the tag in the queue item of the track.
func (t *Track) queueMeta(key string) ([]byte, bool) {
	if t.engine.queue == nil {
		return nil, false
	}
	item, ok := t.values.GetString("queue_item")
	if !ok {
		return nil, false
	}
	return t.engine.queue.MetaFind(item, key)
}

// teardown closes opened stages, releases stores and unregisters the
// track. It's called once, subsequent calls are no-op.
func (t *Track) teardown() {
	if t.destroyed {
		return
	}
	t.destroyed = true
	if t.state == StateError {
		t.values.SetInt("error", 1, 0)
	}
	if t.engine.cfg.PrintTime && !t.startTime.IsZero() {
		t.log.Infof("track processing time: %v", time.Since(t.startTime))
	}

	t.log.Debug("media: closing...")
	for i, s := range t.chain {
		if s.filter != nil {
			t.cur = i
			s.filter.Close()
			s.filter = nil
		}
	}
	if t.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		t.printTime()
	}

	t.values.Release()
	t.tags.Release()
	t.engine.unregister(t)
	t.log.Debug("media: closed")
	t.status = Status{Phase: PhaseTerminal, Err: t.err}
	close(t.done)
}

// printTime logs time spent in every stage.
func (t *Track) printTime() {
	var all time.Duration
	for _, s := range t.chain {
		all += s.elapsed
	}
	if all == 0 {
		return
	}
	parts := make([]string, 0, len(t.chain))
	for _, s := range t.chain {
		parts = append(parts, fmt.Sprintf("%s: %v (%d%%)", s.name, s.elapsed, int64(s.elapsed*100/all)))
	}
	t.log.Debugf("time: %v.  %s", all, strings.Join(parts, ", "))
}

// outputPath returns path {dir}/{input name}.{ext}.
func outputPath(dir, input, ext string) string {
	name := filepath.Base(input)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(dir, name+"."+ext)
}
