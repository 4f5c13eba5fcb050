// Package mock provides mocks for track stages and allows to execute
// integration tests.
package mock

import (
	"fmt"
	"sync"

	"pipelined.dev/track"
)

// Log records stage events of all stages that share it.
type Log struct {
	mu     sync.Mutex
	events []string
}

func (l *Log) add(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

// Events returns recorded events.
func (l *Log) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// Hooks counts stage calls.
type Hooks struct {
	Opened    int
	Closed    int
	Processed int
}

// Call is an input received by the stage.
type Call struct {
	In   string
	Last bool
}

// Step is one scripted process call.
type Step struct {
	Out    string
	Result track.Result
	Err    error
	// Keep is the number of input bytes left unconsumed.
	Keep int
	// Do is called before the step result is returned.
	Do func(p *track.Props)
}

// Stage is a scripted stage. Every process call returns the next step of
// the script, the last step is repeated.
type Stage struct {
	Name        string
	Skip        bool
	ErrorOnOpen error
	Steps       []Step
	Log         *Log
	Calls       []Call
	Hooks
}

// Open implements track.Stage.
func (s *Stage) Open(p *track.Props) (track.Filter, error) {
	if s.ErrorOnOpen != nil {
		return nil, s.ErrorOnOpen
	}
	if s.Skip {
		s.Log.add("skip %s", s.Name)
		return nil, track.ErrSkip
	}
	s.Opened++
	s.Log.add("open %s", s.Name)
	return &scripted{Stage: s}, nil
}

type scripted struct {
	*Stage
	step int
}

func (f *scripted) Process(p *track.Props) (track.Result, error) {
	f.Processed++
	f.Calls = append(f.Calls, Call{In: string(p.Data), Last: p.Last()})
	f.Log.add("process %s", f.Name)
	if len(f.Steps) == 0 {
		return track.ResultDone, nil
	}
	step := f.Steps[len(f.Steps)-1]
	if f.step < len(f.Steps) {
		step = f.Steps[f.step]
		f.step++
	}
	if step.Keep < len(p.Data) {
		p.Data = p.Data[len(p.Data)-step.Keep:]
	}
	p.Out = []byte(step.Out)
	if step.Do != nil {
		step.Do(p)
	}
	return step.Result, step.Err
}

func (f *scripted) Close() {
	f.Closed++
	f.Log.add("close %s", f.Name)
}

// Source produces Limit chunks of Value. It returns ResultDone with the
// last chunk.
type Source struct {
	Name  string
	Limit int
	Value string
	Log   *Log
	Hooks
}

// Open implements track.Stage.
func (s *Source) Open(*track.Props) (track.Filter, error) {
	s.Opened++
	s.Log.add("open %s", s.Name)
	return &source{Source: s}, nil
}

type source struct {
	*Source
	sent int
}

func (f *source) Process(p *track.Props) (track.Result, error) {
	f.Processed++
	f.Log.add("process %s", f.Name)
	if f.sent >= f.Limit {
		p.Out = nil
		return track.ResultDone, nil
	}
	f.sent++
	p.Out = []byte(f.Value)
	if f.sent == f.Limit {
		return track.ResultDone, nil
	}
	return track.ResultOK, nil
}

func (f *source) Close() {
	f.Closed++
	f.Log.add("close %s", f.Name)
}

// Passthrough passes input downstream unchanged.
type Passthrough struct {
	Name string
	Log  *Log
	Hooks
}

// Open implements track.Stage.
func (s *Passthrough) Open(*track.Props) (track.Filter, error) {
	s.Opened++
	s.Log.add("open %s", s.Name)
	return &passthrough{Passthrough: s}, nil
}

type passthrough struct {
	*Passthrough
}

func (f *passthrough) Process(p *track.Props) (track.Result, error) {
	f.Processed++
	f.Log.add("process %s", f.Name)
	p.Out = p.Data
	p.Data = nil
	if p.Last() {
		return track.ResultDone, nil
	}
	return track.ResultOK, nil
}

func (f *passthrough) Close() {
	f.Closed++
	f.Log.add("close %s", f.Name)
}

// Sink collects all input. It's not thread-safe, so should not be checked
// while track is running.
type Sink struct {
	Name   string
	Log    *Log
	Buffer []byte
	Hooks
}

// Open implements track.Stage.
func (s *Sink) Open(*track.Props) (track.Filter, error) {
	s.Opened++
	s.Log.add("open %s", s.Name)
	return &sink{Sink: s}, nil
}

type sink struct {
	*Sink
}

func (f *sink) Process(p *track.Props) (track.Result, error) {
	f.Processed++
	f.Log.add("process %s", f.Name)
	f.Buffer = append(f.Buffer, p.Data...)
	p.Data = nil
	if p.Last() {
		return track.ResultDone, nil
	}
	return track.ResultMore, nil
}

func (f *sink) Close() {
	f.Closed++
	f.Log.add("close %s", f.Name)
}

// Registry returns registry with provided stages registered under their
// names.
func Registry(stages map[string]track.Stage) *track.Registry {
	r := track.NewRegistry()
	for name, s := range stages {
		r.Register(name, s)
	}
	return r
}
