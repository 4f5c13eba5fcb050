// Package mp3 provides MPEG Layer 3 decoder stage.
package mp3

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/hajimehoshi/go-mp3"

	"pipelined.dev/track"
)

// ErrDecode is returned when the stream cannot be decoded.
var ErrDecode = errors.New("mp3: decode")

// decoder always provides 16-bit stereo.
const (
	numChannels = 2
	frameSize   = 4
)

// Config of the decoder.
type Config struct {
	// Chunk is the duration of decoded data passed downstream at once.
	Chunk time.Duration `yaml:"chunk"`
}

// Decoder reads the whole stream and decodes it. The decoded stream is
// seekable, Props.Seek is applied before the data is passed downstream.
type Decoder struct {
	mu     sync.Mutex
	config Config
}

// New returns decoder with default configuration.
func New() *Decoder {
	return &Decoder{
		config: Config{Chunk: 100 * time.Millisecond},
	}
}

// Configure implements track.Configurer.
func (d *Decoder) Configure(opts track.Options) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.config
	if err := opts.Decode(&c); err != nil {
		return err
	}
	d.config = c
	return nil
}

// Open implements track.Stage.
func (d *Decoder) Open(*track.Props) (track.Filter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &decoder{chunk: d.config.Chunk}, nil
}

type decoder struct {
	chunk time.Duration
	data  []byte
	dec   *mp3.Decoder
	buf   []byte
	pos   int64
}

func (d *decoder) Process(p *track.Props) (track.Result, error) {
	if d.dec == nil {
		d.data = append(d.data, p.Data...)
		p.Data = nil
		if !p.Last() {
			return track.ResultMore, nil
		}
		if err := d.init(p); err != nil {
			return track.ResultError, err
		}
		if d.dec == nil {
			// seek is beyond the end
			p.Out = nil
			return track.ResultDone, nil
		}
	}

	n, err := io.ReadFull(d.dec, d.buf)
	n -= n % frameSize
	p.Out = d.buf[:n]
	p.Pos = d.pos
	d.pos += int64(n / frameSize)
	switch err {
	case nil:
		return track.ResultOK, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return track.ResultDone, nil
	}
	return track.ResultError, fmt.Errorf("%w: %v", ErrDecode, err)
}

func (d *decoder) init(p *track.Props) error {
	dec, err := mp3.NewDecoder(bytes.NewReader(d.data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	p.Format = track.Format{
		Format: audio.Format{NumChannels: numChannels, SampleRate: dec.SampleRate()},
		Sample: track.SampleS16LE,
	}
	if l := dec.Length(); l > 0 {
		p.Total = l / frameSize
	}
	p.Logger().Debugf("mp3: %v, %d samples", p.Format, p.Total)
	d.buf = make([]byte, p.Format.Bytes(p.Format.SamplesIn(d.chunk)))

	if p.Seek > 0 {
		pos := p.Format.SamplesIn(p.Seek)
		if pos >= p.Total {
			return nil
		}
		if _, err := dec.Seek(pos*frameSize, io.SeekStart); err != nil {
			return fmt.Errorf("%w: seek: %v", ErrDecode, err)
		}
		d.pos = pos
	}
	d.dec = dec
	return nil
}

func (d *decoder) Close() {
	d.data = nil
}
