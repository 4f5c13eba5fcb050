package sound

import (
	"fmt"
	"math"
	"strings"

	"pipelined.dev/track"
)

// Peaks analyzes the whole stream and logs per-channel maximum and RMS
// level when the input is over.
type Peaks struct{}

// Open implements track.Stage.
func (Peaks) Open(p *track.Props) (track.Filter, error) {
	f := p.Output()
	if err := validate(f); err != nil {
		return nil, err
	}
	return &peaks{
		format: f,
		max:    make([]float64, f.NumChannels),
		sum:    make([]float64, f.NumChannels),
	}, nil
}

type peaks struct {
	format track.Format
	max    []float64
	sum    []float64
	frames int64
}

func (a *peaks) Process(p *track.Props) (track.Result, error) {
	ch := a.format.NumChannels
	samples := Decode(a.format, p.Data).Data
	p.Data = nil
	for i, v := range samples {
		c := i % ch
		a.max[c] = math.Max(a.max[c], math.Abs(v))
		a.sum[c] += v * v
	}
	a.frames += int64(len(samples) / ch)

	if !p.Last() {
		return track.ResultMore, nil
	}
	p.Logger().Info(a.String())
	return track.ResultDone, nil
}

// String returns the report of analyzed levels.
func (a *peaks) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PCM peaks (%d samples):", a.frames)
	for c := range a.max {
		var rms float64
		if a.frames > 0 {
			rms = math.Sqrt(a.sum[c] / float64(a.frames))
		}
		fmt.Fprintf(&b, " ch%d max %.2fdB rms %.2fdB;", c+1, ToDB(a.max[c]), ToDB(rms))
	}
	return strings.TrimSuffix(b.String(), ";")
}

func (a *peaks) Close() {}
