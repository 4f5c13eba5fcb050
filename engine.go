package track

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"pipelined.dev/track/log"
	"pipelined.dev/track/store"
)

// Queue provides metadata of playback queue items.
type Queue interface {
	MetaFind(item, key string) ([]byte, bool)
}

// Config defines how the engine builds chains.
type Config struct {
	// InputMap maps input file extensions to decoder stages.
	InputMap ExtMap
	// OutputMap maps output file extensions to encoder stages.
	OutputMap ExtMap

	// Capture is the stage used by recording tracks.
	Capture       string
	CaptureFormat Format
	// CaptureChannels requests conversion of captured audio to this
	// number of channels.
	CaptureChannels int

	// Output is the default sink stage.
	Output string
	// Out is the output file. If it has only an extension, like ".wav",
	// the name is taken from the input and the file is placed to OutDir.
	Out        string
	OutDir     string
	DefaultExt string
	OutCopy    bool
	StreamCopy bool

	GUI       bool
	NoTUI     bool
	PCMPeaks  bool
	Meta      string
	PrintTime bool

	// Defaults are copied into props of every new track.
	Defaults Props
}

// Engine creates tracks and keeps the registry of running ones.
type Engine struct {
	cfg     Config
	modules Modules
	queue   Queue
	log     *logrus.Logger
	release store.Releaser
	hash    store.Hasher

	seq atomic.Uint64

	mu      sync.Mutex
	tracks  []*Track
	pending int
	exiting bool

	once sync.Once
	done chan struct{}
}

// Option provides a way to set parameters to engine.
type Option func(e *Engine) error

// WithConfig sets chain building configuration.
func WithConfig(c Config) Option {
	return func(e *Engine) error {
		e.cfg = c
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) error {
		e.log = l
		return nil
	}
}

// WithQueue sets the queue used as a fallback for track tags.
func WithQueue(q Queue) Option {
	return func(e *Engine) error {
		e.queue = q
		return nil
	}
}

// WithReleaser sets the function that receives owned buffers released by
// track stores.
func WithReleaser(r store.Releaser) Option {
	return func(e *Engine) error {
		e.release = r
		return nil
	}
}

// WithHasher replaces the key hasher of track stores.
func WithHasher(h store.Hasher) Option {
	return func(e *Engine) error {
		e.hash = h
		return nil
	}
}

// New creates a new engine and applies provided options.
func New(m Modules, options ...Option) (*Engine, error) {
	e := &Engine{
		modules: m,
		log:     log.GetLogger(),
		hash:    store.Hash,
		done:    make(chan struct{}),
	}
	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Config returns engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Modules returns the stage registry.
func (e *Engine) Modules() Modules {
	return e.modules
}

// Done returns a channel which is closed when the engine is done: all
// tracks are torn down and no new track is pending, a recording track is
// torn down, or Shutdown is called with no tracks running.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Tracks returns registered tracks.
func (e *Engine) Tracks() []*Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Track(nil), e.tracks...)
}

// StopAll stops all registered tracks. Recording tracks are skipped
// unless included.
func (e *Engine) StopAll(includeRecording bool) {
	e.mu.Lock()
	stopped := make([]*Track, 0, len(e.tracks))
	for _, t := range e.tracks {
		if t.props.Kind == KindRecord && !includeRecording {
			continue
		}
		t.stopReq.Store(true)
		stopped = append(stopped, t)
	}
	e.mu.Unlock()

	// teardown unregisters tracks, so it's done without the lock
	for _, t := range stopped {
		t.Stop()
	}
}

// Shutdown stops all tracks. Done is closed when the last one is torn
// down, or right away if there are no tracks or shutdown was already
// requested.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if len(e.tracks) == 0 || e.exiting {
		e.mu.Unlock()
		e.signal()
		return
	}
	e.exiting = true
	e.mu.Unlock()
	e.StopAll(true)
}

func (e *Engine) signal() {
	e.once.Do(func() {
		e.log.Debug("engine: stop signal")
		close(e.done)
	})
}

func (e *Engine) register(t *Track) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending--
	e.tracks = append(e.tracks, t)
}

func (e *Engine) unregister(t *Track) {
	e.mu.Lock()
	registered := false
	for i := range e.tracks {
		if e.tracks[i] == t {
			e.tracks = append(e.tracks[:i], e.tracks[i+1:]...)
			registered = true
			break
		}
	}
	if !registered {
		// created, but never started
		e.pending--
	}
	last := len(e.tracks) == 0 && (e.pending == 0 || e.exiting)
	e.mu.Unlock()

	if last || (t.props.Kind == KindRecord && !e.cfg.GUI) {
		e.signal()
	}
}
