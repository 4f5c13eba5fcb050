// Package mixer provides stages that mix outputs of several tracks into
// one. Mix input tracks end with "mixer.in" stage, the mix track starts
// with "mixer.out". Samples of all inputs are averaged.
package mixer

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-audio/audio"

	"pipelined.dev/track"
	"pipelined.dev/track/sound"
)

// Config of the mixer.
type Config struct {
	Channels   int           `yaml:"channels"`
	SampleRate int           `yaml:"rate"`
	Float      bool          `yaml:"float"`
	Chunk      time.Duration `yaml:"chunk"`
	// Buffer limits the amount of data buffered per input. Input track is
	// suspended when the limit is reached.
	Buffer time.Duration `yaml:"buffer"`
}

// Mixer sums up inputs of multiple tracks into a single output track.
// Inputs that feed a mixer after its output is closed are finished.
type Mixer struct {
	mu     sync.Mutex
	config Config
	format track.Format

	inputs  []*input
	started bool
	active  bool
	closed  bool
	// out resumes suspended output track.
	out func()
}

// input represents a mix input track.
type input struct {
	data []float64
	done bool
	// wake resumes the input track suspended because of full buffer.
	wake func()
}

// New returns mixer with 16-bit stereo 44.1kHz output.
func New() *Mixer {
	m := &Mixer{}
	m.setConfig(Config{
		Channels:   2,
		SampleRate: 44100,
		Chunk:      100 * time.Millisecond,
		Buffer:     time.Second,
	})
	return m
}

func (m *Mixer) setConfig(c Config) {
	m.config = c
	m.format = track.Format{
		Format: audio.Format{NumChannels: c.Channels, SampleRate: c.SampleRate},
		Sample: track.SampleS16LE,
	}
	if c.Float {
		m.format.Sample = track.SampleF32LE
	}
}

// Configure implements track.Configurer.
func (m *Mixer) Configure(opts track.Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.config
	if err := opts.Decode(&c); err != nil {
		return err
	}
	if c.Channels <= 0 || c.SampleRate <= 0 || c.Chunk <= 0 || c.Buffer < c.Chunk {
		return fmt.Errorf("mixer: invalid config %+v", c)
	}
	m.setConfig(c)
	return nil
}

// Format returns the format of mixed audio. Mix input tracks must be
// converted to its sample rate and number of channels.
func (m *Mixer) Format() track.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

// wakeAll resumes tracks in new goroutines, since the caller might be
// driving its own track.
func wakeAll(wakes ...func()) {
	for _, w := range wakes {
		if w != nil {
			go w()
		}
	}
}

// ready returns number of frames that can be mixed. Inputs that are not
// done limit the number. Finished is true when all inputs are done and
// drained.
func (m *Mixer) ready(chunk int) (frames int, finished bool) {
	ch := m.format.NumChannels
	live, min, max := false, -1, 0
	for _, in := range m.inputs {
		n := len(in.data) / ch
		if n > max {
			max = n
		}
		if !in.done {
			live = true
			if min < 0 || n < min {
				min = n
			}
		}
	}
	frames = max
	if live {
		frames = min
	}
	if frames > chunk {
		frames = chunk
	}
	return frames, m.started && !live && max == 0
}

// mix averages frames of all inputs and consumes them. Drained inputs
// that are done are removed. Wake functions of suspended inputs are
// returned.
func (m *Mixer) mix(frames int, dst []float64) ([]float64, []func()) {
	n := frames * m.format.NumChannels
	for i := 0; i < n; i++ {
		var (
			sum     float64
			signals float64
		)
		for _, in := range m.inputs {
			if i < len(in.data) {
				sum += in.data[i]
				signals++
			}
		}
		dst = append(dst, sum/signals)
	}

	var wakes []func()
	inputs := m.inputs[:0]
	for _, in := range m.inputs {
		if len(in.data) > n {
			in.data = in.data[:copy(in.data, in.data[n:])]
		} else {
			in.data = in.data[:0]
		}
		if in.wake != nil {
			wakes = append(wakes, in.wake)
			in.wake = nil
		}
		if in.done && len(in.data) == 0 {
			continue
		}
		inputs = append(inputs, in)
	}
	m.inputs = inputs
	return dst, wakes
}

// stage binds mixer configuration to its stages, so both "mixer.in" and
// "mixer.out" options configure the mixer.
type stage struct {
	track.StageFunc
	mixer *Mixer
}

func (s stage) Configure(opts track.Options) error {
	return s.mixer.Configure(opts)
}

// Input returns "mixer.in" stage.
func (m *Mixer) Input() track.Stage {
	return stage{mixer: m, StageFunc: func(p *track.Props) (track.Filter, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		f := p.Output()
		if !f.Valid() || f.NumChannels != m.format.NumChannels || f.SampleRate != m.format.SampleRate {
			return nil, fmt.Errorf("%w: mixer input %v, expected %v", sound.ErrFormat, f, m.format)
		}
		in := &input{}
		m.inputs = append(m.inputs, in)
		m.started = true
		p.Logger().Debugf("mixer: input added, %d inputs", len(m.inputs))
		return &inFilter{
			mixer:  m,
			input:  in,
			format: f,
			limit:  m.format.Bytes(m.format.SamplesIn(m.config.Buffer)) / m.format.Sample.Size(),
		}, nil
	}}
}

type inFilter struct {
	mixer  *Mixer
	input  *input
	format track.Format
	// limit is the number of buffered samples that suspends the track.
	limit int
}

func (f *inFilter) Process(p *track.Props) (track.Result, error) {
	samples := sound.Decode(f.format, p.Data).Data
	p.Data = nil

	m := f.mixer
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		p.Logger().Debug("mixer: output is closed")
		return track.ResultFin, nil
	}
	in := f.input
	in.data = append(in.data, samples...)
	r := track.ResultMore
	switch {
	case p.Last():
		in.done = true
		r = track.ResultDone
	case len(in.data) >= f.limit:
		in.wake = p.Wake
		r = track.ResultAsync
	}
	var out func()
	if len(samples) > 0 || in.done {
		out, m.out = m.out, nil
	}
	m.mu.Unlock()

	wakeAll(out)
	return r, nil
}

func (f *inFilter) Close() {
	m := f.mixer
	m.mu.Lock()
	f.input.done = true
	f.input.wake = nil
	out := m.out
	m.out = nil
	m.mu.Unlock()
	wakeAll(out)
}

// Output returns "mixer.out" stage. Only one output can be active.
func (m *Mixer) Output() track.Stage {
	return stage{mixer: m, StageFunc: func(p *track.Props) (track.Filter, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.active {
			return nil, fmt.Errorf("mixer: output is already active: %w", track.ErrInvalidState)
		}
		m.active = true
		m.closed = false
		p.Format = m.format
		p.Logger().Debugf("mixer: output %v", m.format)
		return &outFilter{
			mixer:  m,
			format: m.format,
			chunk:  int(m.format.SamplesIn(m.config.Chunk)),
		}, nil
	}}
}

type outFilter struct {
	mixer  *Mixer
	format track.Format
	chunk  int
	pos    int64
	mixed  []float64
	buf    []byte
}

func (f *outFilter) Process(p *track.Props) (track.Result, error) {
	m := f.mixer
	m.mu.Lock()
	frames, finished := m.ready(f.chunk)
	if frames == 0 {
		if finished {
			m.mu.Unlock()
			p.Out = nil
			return track.ResultDone, nil
		}
		m.out = p.Wake
		m.mu.Unlock()
		return track.ResultAsync, nil
	}
	var wakes []func()
	f.mixed, wakes = m.mix(frames, f.mixed[:0])
	m.mu.Unlock()
	wakeAll(wakes...)

	f.buf = sound.Encode(f.format, f.mixed, f.buf[:0])
	p.Out = f.buf
	p.Pos = f.pos
	f.pos += int64(frames)
	return track.ResultOK, nil
}

func (f *outFilter) Close() {
	m := f.mixer
	m.mu.Lock()
	m.active = false
	m.closed = true
	m.started = false
	m.out = nil
	var wakes []func()
	for _, in := range m.inputs {
		wakes = append(wakes, in.wake)
	}
	m.inputs = nil
	m.mu.Unlock()
	wakeAll(wakes...)
}
