// Package sound provides stages that process PCM audio: time window,
// gain, level meters, format conversion and generators.
package sound

import (
	"errors"
	"fmt"
	"math"

	"pipelined.dev/track"
)

// ErrFormat is returned when the stage receives data before the format
// of the stream is known.
var ErrFormat = errors.New("sound: format is not set")

func validate(f track.Format) error {
	if !f.Valid() {
		return fmt.Errorf("%w: %v", ErrFormat, f)
	}
	return nil
}

// result returns ResultDone for the last input. Otherwise output is
// passed downstream, or more input is requested if there is no output.
func result(p *track.Props) track.Result {
	switch {
	case p.Last():
		return track.ResultDone
	case len(p.Out) == 0:
		return track.ResultMore
	}
	return track.ResultOK
}

// Until cuts the stream at Props.Until and drops the data before
// Props.Seek if the decoder didn't seek. Position of the input is taken
// from Props.Pos.
type Until struct{}

// Open implements track.Stage.
func (Until) Open(p *track.Props) (track.Filter, error) {
	if p.Seek == 0 && p.Until == 0 {
		return nil, track.ErrSkip
	}
	return &until{}, nil
}

type until struct {
	// rest is the partial frame of the previous input.
	rest []byte
}

func (u *until) Process(p *track.Props) (track.Result, error) {
	f := p.Format
	if err := validate(f); err != nil {
		return track.ResultError, err
	}
	data := p.Data
	if len(u.rest) != 0 {
		data = append(u.rest, data...)
		u.rest = nil
	}
	whole := f.Bytes(f.Samples(len(data)))
	if whole < len(data) && !p.Last() {
		u.rest = append([]byte(nil), data[whole:]...)
	}
	data = data[:whole]
	p.Data = nil
	start := p.Pos
	n := f.Samples(len(data))

	if seek := f.SamplesIn(p.Seek); start < seek {
		skip := seek - start
		if skip > n {
			skip = n
		}
		data = data[f.Bytes(skip):]
		start += skip
		n -= skip
	}

	if p.Until > 0 {
		end := f.SamplesIn(p.Until)
		if start+n >= end {
			if end > start {
				p.Out = data[:f.Bytes(end-start)]
			} else {
				p.Out = nil
			}
			p.Logger().Debugf("reached sample %d, stop reading", end)
			return track.ResultLastOut, nil
		}
	}
	p.Out = data
	return result(p), nil
}

func (*until) Close() {}

// Gain changes the volume by Props.Gain decibels.
type Gain struct{}

// Open implements track.Stage.
func (Gain) Open(p *track.Props) (track.Filter, error) {
	if p.Gain == 0 {
		return nil, track.ErrSkip
	}
	return &gain{ratio: DB(p.Gain)}, nil
}

type gain struct {
	ratio float64
	buf   []byte
}

func (g *gain) Process(p *track.Props) (track.Result, error) {
	if err := validate(p.Format); err != nil {
		return track.ResultError, err
	}
	samples := Decode(p.Format, p.Data)
	for i := range samples.Data {
		samples.Data[i] *= g.ratio
	}
	g.buf = Encode(p.Format, samples.Data, g.buf[:0])
	p.Out = g.buf
	p.Data = nil
	return result(p), nil
}

func (g *gain) Close() {}

// Peak measures the level of the recorded signal and keeps the maximum
// in value "maxpeak", in hundredths of decibel.
type Peak struct{}

// Open implements track.Stage.
func (Peak) Open(*track.Props) (track.Filter, error) {
	return &peak{}, nil
}

type peak struct {
	max float64
}

func (m *peak) Process(p *track.Props) (track.Result, error) {
	if err := validate(p.Format); err != nil {
		return track.ResultError, err
	}
	var cur float64
	for _, v := range Decode(p.Format, p.Data).Data {
		cur = math.Max(cur, math.Abs(v))
	}
	if cur > m.max {
		m.max = cur
		if err := p.Values.SetInt("maxpeak", centiDB(cur), 0); err != nil {
			return track.ResultError, err
		}
	}
	p.Out = p.Data
	p.Data = nil
	return result(p), nil
}

func (m *peak) Close() {}

func centiDB(v float64) int64 {
	db := ToDB(v)
	if math.IsInf(db, -1) {
		return math.MinInt32
	}
	return int64(math.Round(db * 100))
}

// Null discards all input.
type Null struct{}

// Open implements track.Stage.
func (Null) Open(*track.Props) (track.Filter, error) {
	return null{}, nil
}

type null struct{}

func (null) Process(p *track.Props) (track.Result, error) {
	p.Data = nil
	if p.Last() {
		return track.ResultDone, nil
	}
	return track.ResultMore, nil
}

func (null) Close() {}
