package track

import (
	"errors"
	"fmt"
	"strings"

	"pipelined.dev/track/store"
)

var (
	// ErrUnsupportedFormat is returned when no stage resolves for the source.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrMissingOutput is returned when track start cannot determine a sink.
	ErrMissingOutput = errors.New("output is not defined")
	// ErrStageFailure is reported when a stage cannot continue.
	ErrStageFailure = errors.New("stage failure")
	// ErrSystemFailure is reported when a stage fails because of OS error.
	ErrSystemFailure = errors.New("system failure")
	// ErrProtocolViolation is reported when a stage returns unknown result.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrKeyCollision is reported when two keys of one track store collide.
	ErrKeyCollision = store.ErrKeyCollision
	// ErrStarvedPipeline is reported when the first stage needs more input.
	ErrStarvedPipeline = errors.New("requires more input data")
	// ErrEmptyChain is returned when track is started without stages.
	ErrEmptyChain = errors.New("empty chain")
	// ErrStageNotFound is returned when stage is not registered.
	ErrStageNotFound = errors.New("stage not found")
	// ErrInvalidState is returned if track method cannot be executed at this moment.
	ErrInvalidState = errors.New("invalid state")
	// ErrSkip is returned by Stage.Open to remove the stage from chain.
	ErrSkip = errors.New("skip stage")
)

// Error is a fatal track error. It carries the track id and the name of
// the stage that caused it.
type Error struct {
	Track uint64
	Stage string
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "track *%d", e.Track)
	if e.Stage != "" {
		fmt.Fprintf(&b, ": %s", e.Stage)
	}
	switch {
	case e.Cause == nil:
		fmt.Fprintf(&b, ": %v", e.Kind)
	case errors.Is(e.Cause, e.Kind):
		fmt.Fprintf(&b, ": %v", e.Cause)
	default:
		fmt.Fprintf(&b, ": %v: %v", e.Kind, e.Cause)
	}
	return b.String()
}

// Is checks if error kind or cause match provided sentinel error.
func (e *Error) Is(err error) bool {
	return e.Kind == err || (e.Cause != nil && errors.Is(e.Cause, err))
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// configErrors wraps errors that might occure when multiple stages
// fail to configure.
type configErrors []error

func (e configErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// ret returns untyped nil if error is list is empty.
func (e configErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
