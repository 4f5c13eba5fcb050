package sound

import (
	"pipelined.dev/track"
)

// Conv converts sample format and number of channels to the ones
// requested by Props.ConvFormat. Number of channels can also be
// requested with value "conv_channels". Sample rate is not changed, see
// Resample.
type Conv struct{}

// Open implements track.Stage.
func (Conv) Open(p *track.Props) (track.Filter, error) {
	if err := validate(p.Format); err != nil {
		return nil, err
	}
	if ch, ok := p.Values.GetInt("conv_channels"); ok && ch > 0 {
		p.ConvFormat.NumChannels = int(ch)
	}
	in := p.Format
	out := p.Output()
	out.SampleRate = in.SampleRate
	if in == out {
		return nil, track.ErrSkip
	}
	p.Logger().Debugf("convert: %v -> %v", in, out)
	return &conv{in: in, out: out}, nil
}

type conv struct {
	in, out track.Format
	mixed   []float64
	buf     []byte
}

func (c *conv) Process(p *track.Props) (track.Result, error) {
	samples := Decode(c.in, p.Data)
	data := samples.Data
	if c.in.NumChannels != c.out.NumChannels {
		c.mixed = remix(data, c.in.NumChannels, c.out.NumChannels, c.mixed[:0])
		data = c.mixed
	}
	c.buf = Encode(c.out, data, c.buf[:0])
	p.Out = c.buf
	p.Data = nil
	return result(p), nil
}

func (c *conv) Close() {}

// remix changes number of channels of interleaved samples. Down-mix to
// mono averages all channels, up-mix from mono copies the channel.
// Otherwise channels are matched by index and missing ones are silent.
func remix(data []float64, from, to int, dst []float64) []float64 {
	frames := len(data) / from
	for i := 0; i < frames; i++ {
		frame := data[i*from : i*from+from]
		switch {
		case to == 1:
			var sum float64
			for _, v := range frame {
				sum += v
			}
			dst = append(dst, sum/float64(from))
		case from == 1:
			for c := 0; c < to; c++ {
				dst = append(dst, frame[0])
			}
		default:
			for c := 0; c < to; c++ {
				if c < from {
					dst = append(dst, frame[c])
				} else {
					dst = append(dst, 0)
				}
			}
		}
	}
	return dst
}

// Resample changes sample rate to the one requested by Props.ConvFormat
// with linear interpolation.
type Resample struct{}

// Open implements track.Stage.
func (Resample) Open(p *track.Props) (track.Filter, error) {
	out := p.Output()
	in := out
	in.SampleRate = p.Format.SampleRate
	if in.SampleRate == out.SampleRate {
		return nil, track.ErrSkip
	}
	if err := validate(in); err != nil {
		return nil, err
	}
	p.Logger().Debugf("resample: %dHz -> %dHz", in.SampleRate, out.SampleRate)
	return &resampler{
		in:    in,
		out:   out,
		ratio: float64(in.SampleRate) / float64(out.SampleRate),
	}, nil
}

type resampler struct {
	in, out track.Format
	ratio   float64
	// pos is the position of the next output frame relative to the
	// last frame of the previous input.
	pos    float64
	frames []float64
	res    []float64
	buf    []byte
}

func (r *resampler) Process(p *track.Props) (track.Result, error) {
	ch := r.in.NumChannels
	r.frames = append(r.frames, Decode(r.in, p.Data).Data...)
	p.Data = nil
	n := len(r.frames) / ch

	r.res = r.res[:0]
	for {
		i := int(r.pos)
		if i+1 >= n {
			break
		}
		frac := r.pos - float64(i)
		for c := 0; c < ch; c++ {
			a, b := r.frames[i*ch+c], r.frames[(i+1)*ch+c]
			r.res = append(r.res, a+(b-a)*frac)
		}
		r.pos += r.ratio
	}
	if p.Last() {
		for i := int(r.pos); i < n; i = int(r.pos) {
			r.res = append(r.res, r.frames[i*ch:i*ch+ch]...)
			r.pos += r.ratio
		}
	}
	if n > 1 {
		// keep the last frame for interpolation with the next input
		r.frames = append(r.frames[:0], r.frames[(n-1)*ch:n*ch]...)
		r.pos -= float64(n - 1)
	}

	r.buf = Encode(r.out, r.res, r.buf[:0])
	p.Out = r.buf
	return result(p), nil
}

func (r *resampler) Close() {}
