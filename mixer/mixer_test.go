package mixer_test

import (
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/track"
	"pipelined.dev/track/mixer"
	"pipelined.dev/track/sound"
	"pipelined.dev/track/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var mono = track.Format{
	Format: audio.Format{NumChannels: 1, SampleRate: 1000},
	Sample: track.SampleF32LE,
}

func newMixer(t *testing.T, buffer string) *mixer.Mixer {
	t.Helper()
	m := mixer.New()
	require.NoError(t, m.Configure(track.Options{
		"channels": 1,
		"rate":     1000,
		"float":    true,
		"chunk":    "2ms",
		"buffer":   buffer,
	}))
	return m
}

// props returns props with a wake function that signals the channel.
func props(f track.Format) (*track.Props, chan struct{}) {
	woken := make(chan struct{}, 10)
	return &track.Props{
		Format: f,
		Values: store.New(),
		Tags:   store.New(),
		Wake:   func() { woken <- struct{}{} },
	}, woken
}

func values(n int, v float64) []byte {
	data := make([]float64, n)
	for i := range data {
		data[i] = v
	}
	return sound.Encode(mono, data, nil)
}

func waitWake(t *testing.T, woken chan struct{}) {
	t.Helper()
	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("track is not resumed")
	}
}

func TestMix(t *testing.T) {
	tests := []struct {
		description string
		chunks      []int
		value       []float64
		expected    []float64
	}{
		{
			description: "two inputs",
			chunks:      []int{4, 3},
			value:       []float64{0.7, 0.5},
			expected:    []float64{0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.7, 0.7},
		},
		{
			description: "single input",
			chunks:      []int{2},
			value:       []float64{0.25},
			expected:    []float64{0.25, 0.25, 0.25, 0.25},
		},
	}
	for _, c := range tests {
		t.Run(c.description, func(t *testing.T) {
			m := newMixer(t, "1s")
			op, _ := props(track.Format{})
			out, err := m.Output().Open(op)
			require.NoError(t, err)
			assert.Equal(t, mono, op.Format)

			for i := range c.chunks {
				ip, _ := props(mono)
				in, err := m.Input().Open(ip)
				require.NoError(t, err)
				for j := 0; j < c.chunks[i]; j++ {
					ip.Data = values(2, c.value[i])
					if j == c.chunks[i]-1 {
						ip.Flags = track.FlagLast
					}
					r, err := in.Process(ip)
					require.NoError(t, err)
					if ip.Last() {
						assert.Equal(t, track.ResultDone, r)
					} else {
						assert.Equal(t, track.ResultMore, r)
					}
				}
				in.Close()
			}

			var result []float64
			for {
				r, err := out.Process(op)
				require.NoError(t, err)
				if r == track.ResultDone {
					break
				}
				require.Equal(t, track.ResultOK, r)
				result = append(result, sound.Decode(mono, op.Out).Data...)
			}
			out.Close()
			assert.InDeltaSlice(t, c.expected, result, 0.0001)
		})
	}
}

func TestWakeOutput(t *testing.T) {
	m := newMixer(t, "1s")
	op, outWoken := props(track.Format{})
	out, err := m.Output().Open(op)
	require.NoError(t, err)

	r, err := out.Process(op)
	require.NoError(t, err)
	assert.Equal(t, track.ResultAsync, r)

	ip, _ := props(mono)
	in, err := m.Input().Open(ip)
	require.NoError(t, err)
	ip.Data = values(2, 0.5)
	_, err = in.Process(ip)
	require.NoError(t, err)
	waitWake(t, outWoken)

	r, err = out.Process(op)
	require.NoError(t, err)
	assert.Equal(t, track.ResultOK, r)
	in.Close()
	out.Close()
}

func TestInputBuffer(t *testing.T) {
	m := newMixer(t, "4ms")
	op, _ := props(track.Format{})
	out, err := m.Output().Open(op)
	require.NoError(t, err)

	ip, inWoken := props(mono)
	in, err := m.Input().Open(ip)
	require.NoError(t, err)
	ip.Data = values(4, 0.5)
	r, err := in.Process(ip)
	require.NoError(t, err)
	assert.Equal(t, track.ResultAsync, r)

	r, err = out.Process(op)
	require.NoError(t, err)
	assert.Equal(t, track.ResultOK, r)
	assert.Equal(t, mono.Bytes(2), len(op.Out))
	waitWake(t, inWoken)

	out.Close()
	ip.Data = values(2, 0.5)
	r, err = in.Process(ip)
	require.NoError(t, err)
	assert.Equal(t, track.ResultFin, r)
	in.Close()
}

func TestFormat(t *testing.T) {
	m := newMixer(t, "1s")
	stereo := mono
	stereo.NumChannels = 2
	p, _ := props(stereo)
	_, err := m.Input().Open(p)
	assert.ErrorIs(t, err, sound.ErrFormat)

	p, _ = props(stereo)
	p.ConvFormat.NumChannels = 1
	in, err := m.Input().Open(p)
	require.NoError(t, err)
	in.Close()
}

func TestSingleOutput(t *testing.T) {
	m := newMixer(t, "1s")
	p, _ := props(track.Format{})
	out, err := m.Output().Open(p)
	require.NoError(t, err)
	_, err = m.Output().Open(p)
	assert.ErrorIs(t, err, track.ErrInvalidState)
	out.Close()

	out, err = m.Output().Open(p)
	require.NoError(t, err)
	out.Close()
}

func TestConfigure(t *testing.T) {
	m := mixer.New()
	assert.Equal(t, 2, m.Format().NumChannels)
	assert.Error(t, m.Configure(track.Options{"channels": 0}))
	assert.Error(t, m.Configure(track.Options{"chunk": "1s", "buffer": "10ms"}))
}

func TestConfigureStage(t *testing.T) {
	m := mixer.New()
	r := track.NewRegistry()
	r.Register("mixer.out", m.Output())
	require.NoError(t, r.Configure(map[string]track.Options{
		"mixer.out": {"channels": 1, "rate": 48000},
	}))
	assert.Equal(t, 1, m.Format().NumChannels)
	assert.Equal(t, 48000, m.Format().SampleRate)
}
