// Package wav provides stages that decode and encode WAVE streams.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pipelined.dev/track"
	"pipelined.dev/track/sound"
	"pipelined.dev/track/store"
)

const (
	formatPCM   = 1
	formatFloat = 3
	// maxHeader limits the size of data before the PCM chunk.
	maxHeader = 1 << 20
)

var (
	// ErrInvalidHeader is returned when the stream has no valid header.
	ErrInvalidHeader = errors.New("wav: invalid header")
	errSeek          = errors.New("wav: invalid seek")
)

// Decoder parses WAVE header and passes PCM data downstream.
type Decoder struct{}

// Open implements track.Stage.
func (Decoder) Open(*track.Props) (track.Filter, error) {
	return &decoder{remaining: -1}, nil
}

type decoder struct {
	head      []byte
	rest      []byte
	started   bool
	format    track.Format
	pos       int64
	remaining int64
}

func (d *decoder) Process(p *track.Props) (track.Result, error) {
	data := p.Data
	p.Data = nil
	if !d.started {
		d.head = append(d.head, data...)
		offset, err := d.readHeader(p)
		if err != nil {
			if p.Last() || len(d.head) > maxHeader {
				return track.ResultError, err
			}
			return track.ResultMore, nil
		}
		data = d.head[offset:]
		d.head = nil
		d.started = true
	}

	if len(d.rest) > 0 {
		data = append(d.rest, data...)
		d.rest = nil
	}
	if d.remaining >= 0 && int64(len(data)) >= d.remaining {
		// the rest of the stream is not audio
		return d.emit(p, data[:d.remaining], track.ResultLastOut), nil
	}

	whole := d.format.Bytes(d.format.Samples(len(data)))
	if !p.Last() && whole < len(data) {
		d.rest = append([]byte(nil), data[whole:]...)
	}
	data = data[:whole]
	if d.remaining > 0 {
		d.remaining -= int64(len(data))
	}
	switch {
	case p.Last():
		return d.emit(p, data, track.ResultDone), nil
	case len(data) == 0:
		return d.emit(p, data, track.ResultMore), nil
	}
	return d.emit(p, data, track.ResultOK), nil
}

func (d *decoder) emit(p *track.Props, data []byte, r track.Result) track.Result {
	p.Out = data
	p.Pos = d.pos
	d.pos += d.format.Samples(len(data))
	return r
}

// readHeader parses the header and returns the offset of PCM data.
func (d *decoder) readHeader(p *track.Props) (int, error) {
	r := bytes.NewReader(d.head)
	dec := wav.NewDecoder(r)
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if err := dec.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	offset := len(d.head) - r.Len()
	if dec.PCMChunk == nil || dec.NumChans == 0 || offset < 8 || string(d.head[offset-8:offset-4]) != "data" {
		// data chunk header is incomplete
		return 0, ErrInvalidHeader
	}

	f := track.Format{
		Format: audio.Format{
			NumChannels: int(dec.NumChans),
			SampleRate:  int(dec.SampleRate),
		},
	}
	switch {
	case dec.WavAudioFormat == formatFloat && dec.BitDepth == 32:
		f.Sample = track.SampleF32LE
	case dec.BitDepth == 16:
		f.Sample = track.SampleS16LE
	case dec.BitDepth == 24:
		f.Sample = track.SampleS24LE
	case dec.BitDepth == 32:
		f.Sample = track.SampleS32LE
	default:
		return 0, fmt.Errorf("%w: %d-bit format %d", track.ErrUnsupportedFormat, dec.BitDepth, dec.WavAudioFormat)
	}
	d.format = f
	p.Format = f
	if dec.PCMSize > 0 {
		d.remaining = int64(dec.PCMSize)
		p.Total = f.Samples(dec.PCMSize)
	}
	if m := dec.Metadata; m != nil {
		setTags(p, map[string]string{
			"artist":  m.Artist,
			"title":   m.Title,
			"album":   m.Product,
			"genre":   m.Genre,
			"comment": m.Comments,
			"date":    m.CreationDate,
		})
	}
	p.Logger().Debugf("wav: %v, %d samples", f, p.Total)
	return offset, nil
}

func setTags(p *track.Props, tags map[string]string) {
	for k, v := range tags {
		if v != "" {
			p.Tags.SetString(k, v, 0)
		}
	}
}

func (d *decoder) Close() {}

// Encoder writes PCM data into WAVE container. Float samples are
// converted to 16-bit integers. When the input is over, the header is
// rewritten with actual sizes: it's passed downstream with value
// "output_seek" set to 0.
type Encoder struct{}

// Open implements track.Stage.
func (Encoder) Open(p *track.Props) (track.Filter, error) {
	in := p.Output()
	if !in.Valid() {
		return nil, fmt.Errorf("%w: %v", sound.ErrFormat, in)
	}
	out := in
	if out.Sample == track.SampleF32LE {
		out.Sample = track.SampleS16LE
	}
	w := &stream{}
	e := wav.NewEncoder(w, out.SampleRate, out.Sample.BitDepth(), out.NumChannels, formatPCM)
	e.Metadata = metadata(p.Tags)
	return &encoder{
		in:      in,
		out:     out,
		stream:  w,
		encoder: e,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: out.NumChannels, SampleRate: out.SampleRate},
			SourceBitDepth: out.Sample.BitDepth(),
		},
	}, nil
}

func metadata(tags *store.Store) *wav.Metadata {
	if tags == nil {
		return nil
	}
	var m wav.Metadata
	found := false
	for key, dst := range map[string]*string{
		"artist":  &m.Artist,
		"title":   &m.Title,
		"album":   &m.Product,
		"genre":   &m.Genre,
		"comment": &m.Comments,
		"date":    &m.CreationDate,
	} {
		if v, ok := tags.GetString(key); ok && v != "" {
			*dst = v
			found = true
		}
	}
	if !found {
		return nil
	}
	return &m
}

type encoder struct {
	in, out track.Format
	stream  *stream
	encoder *wav.Encoder
	buf     *audio.IntBuffer
	closed  bool
}

func (e *encoder) Process(p *track.Props) (track.Result, error) {
	if e.closed {
		// data is written, now the header
		p.Out = e.stream.head
		if err := p.Values.SetInt("output_seek", 0, 0); err != nil {
			return track.ResultError, err
		}
		return track.ResultDone, nil
	}

	if len(p.Data) > 0 || e.stream.size == 0 {
		e.buf.Data = e.ints(p.Data, e.buf.Data[:0])
		p.Data = nil
		if err := e.encoder.Write(e.buf); err != nil {
			return track.ResultError, err
		}
	}
	if p.Last() {
		if err := e.encoder.Close(); err != nil {
			return track.ResultError, err
		}
		e.closed = true
		p.Out = e.stream.drain()
		p.Logger().Debugf("wav: %d bytes written", e.stream.size)
		return track.ResultData, nil
	}
	p.Out = e.stream.drain()
	if len(p.Out) == 0 {
		return track.ResultMore, nil
	}
	return track.ResultOK, nil
}

// ints converts PCM bytes into integer samples.
func (e *encoder) ints(b []byte, dst []int) []int {
	size := e.in.Sample.Size()
	n := len(b) / size
	for i := 0; i < n; i++ {
		s := b[i*size : i*size+size]
		switch e.in.Sample {
		case track.SampleS16LE:
			dst = append(dst, int(int16(binary.LittleEndian.Uint16(s))))
		case track.SampleS24LE:
			dst = append(dst, int(audio.Int24LETo32(s)))
		case track.SampleS32LE:
			dst = append(dst, int(int32(binary.LittleEndian.Uint32(s))))
		case track.SampleF32LE:
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(s)))
			v = math.Max(-1, math.Min(1, v))
			dst = append(dst, int(math.Round(v*math.MaxInt16)))
		}
	}
	return dst
}

func (e *encoder) Close() {}

// stream is a write seeker for the encoder. Appended data is drained
// downstream, the beginning of the stream is kept in memory so the header
// can be rewritten.
type stream struct {
	head    []byte
	pending []byte
	pos     int64
	size    int64
}

// headSize is enough for a canonical header of PCM stream.
const headSize = 128

func (s *stream) Write(b []byte) (int, error) {
	n := int64(len(b))
	if s.pos < s.size {
		if s.pos+n > int64(len(s.head)) {
			return 0, errSeek
		}
		copy(s.head[s.pos:], b)
		s.pos += n
		return len(b), nil
	}
	if keep := headSize - s.size; keep > 0 {
		if keep > n {
			keep = n
		}
		s.head = append(s.head, b[:keep]...)
	}
	s.pending = append(s.pending, b...)
	s.pos += n
	s.size += n
	return len(b), nil
}

func (s *stream) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = s.size + offset
	}
	if pos < 0 || pos > s.size {
		return s.pos, errSeek
	}
	s.pos = pos
	return pos, nil
}

// drain returns appended data. It's valid until the next write.
func (s *stream) drain() []byte {
	b := s.pending
	s.pending = s.pending[:0]
	return b
}
