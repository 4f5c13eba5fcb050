// Package config loads the configuration file of the engine. Values of
// the file can be overridden with environment variables, which are also
// read from .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"pipelined.dev/track"
	"pipelined.dev/track/log"
)

// Format is a PCM format in the configuration file.
type Format struct {
	Channels int    `yaml:"channels"`
	Rate     int    `yaml:"rate"`
	Sample   string `yaml:"sample"`
}

// Track holds default track settings.
type Track struct {
	Gain      float64       `yaml:"gain"`
	Seek      time.Duration `yaml:"seek"`
	Until     time.Duration `yaml:"until"`
	Overwrite bool          `yaml:"overwrite"`
	Format    Format        `yaml:"format"`
	Quality   track.Quality `yaml:"quality"`
}

// Config is the content of the configuration file.
type Config struct {
	Log             log.Config               `yaml:"log"`
	InputMap        map[string]string        `yaml:"input"`
	OutputMap       map[string]string        `yaml:"output"`
	Capture         string                   `yaml:"capture"`
	CaptureFormat   Format                   `yaml:"capture_format"`
	CaptureChannels int                      `yaml:"capture_channels"`
	DefaultOutput   string                   `yaml:"default_output"`
	OutDir          string                   `yaml:"out_dir"`
	DefaultExt      string                   `yaml:"default_ext"`
	Track           Track                    `yaml:"track"`
	Modules         map[string]track.Options `yaml:"modules"`
}

// Load reads the configuration file and applies environment overrides.
// Empty path means there is no file.
func Load(path string) (*Config, error) {
	// .env is optional, variables that are already set are kept
	_ = godotenv.Load()

	c := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.UnmarshalStrict(b, c); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	c.env()
	return c, nil
}

func (c *Config) env() {
	c.Log.Level = getEnv("MEDTRACK_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("MEDTRACK_LOG_FILE", c.Log.File)
	c.Capture = getEnv("MEDTRACK_CAPTURE", c.Capture)
	c.DefaultOutput = getEnv("MEDTRACK_OUTPUT", c.DefaultOutput)
	c.OutDir = getEnv("MEDTRACK_OUT_DIR", c.OutDir)
	c.CaptureChannels = getEnvInt("MEDTRACK_CAPTURE_CHANNELS", c.CaptureChannels)
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return fallback
}

// Apply sets configured values to the engine configuration. Extension
// maps are merged, other values replace the ones of base when set.
func (c *Config) Apply(base track.Config) (track.Config, error) {
	base.InputMap = merge(base.InputMap, c.InputMap)
	base.OutputMap = merge(base.OutputMap, c.OutputMap)
	set(&base.Capture, c.Capture)
	set(&base.Output, c.DefaultOutput)
	set(&base.OutDir, c.OutDir)
	set(&base.DefaultExt, c.DefaultExt)
	if c.CaptureChannels != 0 {
		base.CaptureChannels = c.CaptureChannels
	}

	var err error
	if base.CaptureFormat, err = c.CaptureFormat.parse(base.CaptureFormat); err != nil {
		return base, fmt.Errorf("capture format: %w", err)
	}
	d := &base.Defaults
	if d.ConvFormat, err = c.Track.Format.parse(d.ConvFormat); err != nil {
		return base, fmt.Errorf("track format: %w", err)
	}
	if c.Track.Gain != 0 {
		d.Gain = c.Track.Gain
	}
	if c.Track.Seek != 0 {
		d.Seek = c.Track.Seek
	}
	if c.Track.Until != 0 {
		d.Until = c.Track.Until
	}
	if c.Track.Overwrite {
		d.Overwrite = true
	}
	if c.Track.Quality != (track.Quality{}) {
		d.Quality = c.Track.Quality
	}
	return base, nil
}

func set(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func merge(base track.ExtMap, m map[string]string) track.ExtMap {
	res := make(track.ExtMap, len(base)+len(m))
	for k, v := range base {
		res[k] = v
	}
	for k, v := range m {
		res[strings.ToLower(strings.TrimPrefix(k, "."))] = v
	}
	return res
}

// parse returns the format with set fields replacing the ones of base.
func (f Format) parse(base track.Format) (track.Format, error) {
	if f.Channels < 0 || f.Rate < 0 {
		return base, fmt.Errorf("invalid format %+v", f)
	}
	res := track.Format{
		Format: audio.Format{NumChannels: base.NumChannels, SampleRate: base.SampleRate},
		Sample: base.Sample,
	}
	if f.Channels != 0 {
		res.NumChannels = f.Channels
	}
	if f.Rate != 0 {
		res.SampleRate = f.Rate
	}
	if f.Sample != "" {
		s, err := ParseSample(f.Sample)
		if err != nil {
			return base, err
		}
		res.Sample = s
	}
	return res, nil
}

// ParseSample returns sample format by its name, like "int16" or
// "float32".
func ParseSample(name string) (track.SampleFormat, error) {
	for s := track.SampleS16LE; s <= track.SampleF32LE; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return track.SampleUnknown, fmt.Errorf("%w: sample %q", track.ErrUnsupportedFormat, name)
}
