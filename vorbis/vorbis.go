// Package vorbis provides Ogg Vorbis decoder stage.
package vorbis

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/jfreymuth/oggvorbis"

	"pipelined.dev/track"
)

// ErrDecode is returned when the stream cannot be decoded.
var ErrDecode = errors.New("ogg: decode")

// Config of the decoder.
type Config struct {
	// Seekable allows to seek in the stream. Otherwise samples before
	// the seek position are decoded and dropped.
	Seekable bool `yaml:"seekable"`
	// Chunk is the duration of decoded data passed downstream at once.
	Chunk time.Duration `yaml:"chunk"`
}

// Decoder decodes Ogg Vorbis stream into 32-bit float samples.
type Decoder struct {
	mu     sync.Mutex
	config Config
}

// New returns decoder with default configuration.
func New() *Decoder {
	return &Decoder{
		config: Config{
			Seekable: true,
			Chunk:    100 * time.Millisecond,
		},
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
	return &decoder{config: d.config}, nil
}

type decoder struct {
	config Config
	data   []byte
	r      *oggvorbis.Reader
	skip   int64
	values []float32
	buf    []byte
}

func (d *decoder) Process(p *track.Props) (track.Result, error) {
	if d.r == nil {
		d.data = append(d.data, p.Data...)
		p.Data = nil
		if !p.Last() {
			return track.ResultMore, nil
		}
		if err := d.init(p); err != nil {
			return track.ResultError, err
		}
	}

	for {
		pos := d.r.Position()
		n, err := d.read()
		if n > 0 && d.skip > 0 {
			drop := int(d.skip) * d.r.Channels()
			if drop > n {
				drop = n
			}
			d.skip -= int64(drop / d.r.Channels())
			pos += int64(drop / d.r.Channels())
			copy(d.values, d.values[drop:n])
			n -= drop
		}
		d.encode(d.values[:n])
		p.Out = d.buf
		p.Pos = pos
		switch {
		case err == io.EOF:
			return track.ResultDone, nil
		case err != nil:
			return track.ResultError, fmt.Errorf("%w: %v", ErrDecode, err)
		case n > 0:
			return track.ResultOK, nil
		}
	}
}

// read fills the buffer of values until it's full or the stream is over.
func (d *decoder) read() (int, error) {
	total := 0
	for total < len(d.values) {
		n, err := d.r.Read(d.values[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (d *decoder) encode(values []float32) {
	d.buf = d.buf[:0]
	var b [4]byte
	for _, v := range values {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		d.buf = append(d.buf, b[:]...)
	}
}

func (d *decoder) init(p *track.Props) error {
	r, err := oggvorbis.NewReader(bytes.NewReader(d.data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	d.r = r
	p.Format = track.Format{
		Format: audio.Format{NumChannels: r.Channels(), SampleRate: r.SampleRate()},
		Sample: track.SampleF32LE,
	}
	p.Total = r.Length()

	comments := r.CommentHeader()
	if comments.Vendor != "" {
		p.Tags.SetString("vendor", comments.Vendor, 0)
	}
	for _, c := range comments.Comments {
		k, v, ok := strings.Cut(c, "=")
		if !ok || k == "" {
			continue
		}
		p.Tags.SetString(strings.ToLower(k), v, 0)
	}
	if br := r.Bitrate().Nominal; br > 0 {
		p.Values.SetInt("bitrate", int64(br), 0)
	}
	p.Logger().Debugf("ogg: %v, %d samples", p.Format, p.Total)

	if p.Seek > 0 {
		pos := p.Format.SamplesIn(p.Seek)
		if d.config.Seekable {
			if err := r.SetPosition(pos); err != nil {
				return fmt.Errorf("%w: seek: %v", ErrDecode, err)
			}
		} else {
			d.skip = pos
		}
	}
	n := p.Format.SamplesIn(d.config.Chunk)
	if n <= 0 {
		n = 1
	}
	d.values = make([]float32, int(n)*r.Channels())
	return nil
}

func (d *decoder) Close() {
	d.data = nil
}
