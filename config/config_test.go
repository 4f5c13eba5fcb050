package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/track"
	"pipelined.dev/track/config"
)

func TestLoad(t *testing.T) {
	c, err := config.Load("testdata/medtrack.yaml")
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 1000, c.Modules["gen.tone"]["frequency"])

	base := track.Config{
		InputMap: track.ExtMap{"wav": "wav.decode"},
		Output:   "sink",
	}
	e, err := c.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, track.ExtMap{
		"wav":  "wav.decode",
		"flac": "flac.decode",
		"mp3":  "mp3.decode",
	}, e.InputMap)
	assert.Equal(t, "gen.tone", e.Capture)
	assert.Equal(t, "null.out", e.Output)
	assert.Equal(t, "/tmp/out", e.OutDir)
	assert.Equal(t, 1, e.CaptureFormat.NumChannels)
	assert.Equal(t, 48000, e.CaptureFormat.SampleRate)
	assert.Equal(t, track.SampleS24LE, e.CaptureFormat.Sample)

	d := e.Defaults
	assert.Equal(t, -3.0, d.Gain)
	assert.Equal(t, time.Second, d.Seek)
	assert.True(t, d.Overwrite)
	assert.Equal(t, track.SampleF32LE, d.ConvFormat.Sample)
	assert.Equal(t, 0, d.ConvFormat.SampleRate)
	assert.Equal(t, 5.0, d.Quality.Vorbis)

	// base is not modified
	assert.Len(t, base.InputMap, 1)
}

func TestModuleOptions(t *testing.T) {
	c, err := config.Load("testdata/medtrack.yaml")
	require.NoError(t, err)

	var opts struct {
		Chunk time.Duration `yaml:"chunk"`
	}
	require.NoError(t, c.Modules["mp3.decode"].Decode(&opts))
	assert.Equal(t, 50*time.Millisecond, opts.Chunk)
}

func TestEnv(t *testing.T) {
	t.Setenv("MEDTRACK_OUT_DIR", "/env/out")
	t.Setenv("MEDTRACK_CAPTURE_CHANNELS", "2")
	c, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/out", c.OutDir)
	assert.Equal(t, 2, c.CaptureChannels)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("unknown_key: 1\n"), 0o644))
	_, err = config.Load(path)
	assert.Error(t, err)

	c := &config.Config{CaptureFormat: config.Format{Sample: "int8"}}
	_, err = c.Apply(track.Config{})
	assert.ErrorIs(t, err, track.ErrUnsupportedFormat)
}

func TestParseSample(t *testing.T) {
	s, err := config.ParseSample("int16")
	require.NoError(t, err)
	assert.Equal(t, track.SampleS16LE, s)
	_, err = config.ParseSample("")
	assert.Error(t, err)
}
