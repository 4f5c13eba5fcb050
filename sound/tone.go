package sound

import (
	"math"
	"sync"
	"time"

	"github.com/go-audio/audio"

	"pipelined.dev/track"
)

// ToneConfig defines generated signal.
type ToneConfig struct {
	Frequency float64       `yaml:"frequency"`
	Amplitude float64       `yaml:"amplitude"`
	Chunk     time.Duration `yaml:"chunk"`
	// Realtime makes generator produce data with the rate of the signal.
	Realtime bool `yaml:"realtime"`
}

// Tone generates a sine wave. It's used as a capture source when no
// audio device is available.
type Tone struct {
	mu     sync.Mutex
	config ToneConfig
}

// DefaultFormat is used for generated signal if the track doesn't request
// another one.
var DefaultFormat = track.Format{
	Format: audio.Format{NumChannels: 2, SampleRate: 44100},
	Sample: track.SampleS16LE,
}

// NewTone returns tone generator with default settings: 440Hz, -6dB,
// 100ms chunks.
func NewTone() *Tone {
	return &Tone{
		config: ToneConfig{
			Frequency: 440,
			Amplitude: -6,
			Chunk:     100 * time.Millisecond,
		},
	}
}

// Configure implements track.Configurer.
func (t *Tone) Configure(opts track.Options) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.config
	if err := opts.Decode(&c); err != nil {
		return err
	}
	t.config = c
	return nil
}

// Open implements track.Stage.
func (t *Tone) Open(p *track.Props) (track.Filter, error) {
	t.mu.Lock()
	c := t.config
	t.mu.Unlock()
	if !p.Format.Valid() {
		p.Format = DefaultFormat
	}
	return &tone{
		config: c,
		format: p.Format,
		ratio:  DB(c.Amplitude),
		size:   p.Format.SamplesIn(c.Chunk),
	}, nil
}

type tone struct {
	config ToneConfig
	format track.Format
	ratio  float64
	size   int64
	pos    int64
	data   []float64
	buf    []byte
	next   time.Time
}

func (g *tone) Process(p *track.Props) (track.Result, error) {
	if p.Stopped() {
		p.Out = nil
		return track.ResultDone, nil
	}
	if g.config.Realtime {
		if g.next.IsZero() {
			g.next = time.Now()
		}
		time.Sleep(time.Until(g.next))
		g.next = g.next.Add(g.config.Chunk)
	}

	ch := g.format.NumChannels
	g.data = g.data[:0]
	step := 2 * math.Pi * g.config.Frequency / float64(g.format.SampleRate)
	for i := int64(0); i < g.size; i++ {
		v := g.ratio * math.Sin(step*float64(g.pos+i))
		for c := 0; c < ch; c++ {
			g.data = append(g.data, v)
		}
	}
	p.Pos = g.pos
	g.pos += g.size
	g.buf = Encode(g.format, g.data, g.buf[:0])
	p.Out = g.buf
	return track.ResultOK, nil
}

func (g *tone) Close() {}
