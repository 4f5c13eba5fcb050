package track

import (
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/sirupsen/logrus"

	"pipelined.dev/track/store"
)

// Kind determines how the chain of a track is built.
type Kind int

// Track kinds.
const (
	// KindNone track has an empty chain, stages are added with AddStage.
	KindNone Kind = iota
	// KindPlayback reads a file, a directory or a network stream.
	KindPlayback
	// KindRecord reads from the configured capture stage.
	KindRecord
	// KindMix creates a mixer output track.
	KindMix
	// KindNetworkInput reads a network stream.
	KindNetworkInput
	// KindMixInput is a track which output goes into mixer.
	KindMixInput
	// KindMixOutput is a track that reads from mixer.
	KindMixOutput
)

var kindNames = [...]string{
	KindNone:         "none",
	KindPlayback:     "playback",
	KindRecord:       "record",
	KindMix:          "mix",
	KindNetworkInput: "netin",
	KindMixInput:     "mixin",
	KindMixOutput:    "mixout",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Flags are passed to stages with every process call.
type Flags uint32

const (
	// FlagStop is set when the track is requested to stop.
	FlagStop Flags = 1 << iota
	// FlagLast is set when the stage has no upstream stages left, so its
	// input is final.
	FlagLast
)

// SampleFormat defines how samples are encoded in PCM data.
type SampleFormat uint8

// Supported sample formats.
const (
	SampleUnknown SampleFormat = iota
	SampleS16LE
	SampleS24LE
	SampleS32LE
	SampleF32LE
)

var sampleNames = [...]string{
	SampleUnknown: "unknown",
	SampleS16LE:   "int16",
	SampleS24LE:   "int24",
	SampleS32LE:   "int32",
	SampleF32LE:   "float32",
}

func (f SampleFormat) String() string {
	if int(f) < len(sampleNames) {
		return sampleNames[f]
	}
	return fmt.Sprintf("sample(%d)", int(f))
}

// Size returns number of bytes per sample.
func (f SampleFormat) Size() int {
	switch f {
	case SampleS16LE:
		return 2
	case SampleS24LE:
		return 3
	case SampleS32LE, SampleF32LE:
		return 4
	}
	return 0
}

// BitDepth returns number of bits per sample.
func (f SampleFormat) BitDepth() int {
	return f.Size() * 8
}

// Format is a PCM format: channels, sample rate and sample encoding.
type Format struct {
	audio.Format
	Sample SampleFormat
}

// FrameSize returns number of bytes per sample of all channels.
func (f Format) FrameSize() int {
	return f.Sample.Size() * f.NumChannels
}

// Valid returns true if all format fields are set.
func (f Format) Valid() bool {
	return f.NumChannels > 0 && f.SampleRate > 0 && f.Sample != SampleUnknown
}

// Samples returns number of samples per channel in n bytes.
func (f Format) Samples(n int) int64 {
	if fs := f.FrameSize(); fs > 0 {
		return int64(n / fs)
	}
	return 0
}

// Bytes returns size of n samples per channel.
func (f Format) Bytes(n int64) int {
	return int(n) * f.FrameSize()
}

// Duration returns duration of n samples per channel.
func (f Format) Duration(n int64) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// SamplesIn returns number of samples per channel in d.
func (f Format) SamplesIn(d time.Duration) int64 {
	return int64(d) * int64(f.SampleRate) / int64(time.Second)
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dHz %dch", f.Sample, f.SampleRate, f.NumChannels)
}

// Quality holds per-codec encoding settings.
type Quality struct {
	Vorbis float64 `yaml:"vorbis"`
	MPEG   int     `yaml:"mpeg"`
	AAC    int     `yaml:"aac"`
	Opus   int     `yaml:"opus"`
	FLAC   int     `yaml:"flac"`
}

// Props are the track properties shared by all stages of the track.
type Props struct {
	Kind  Kind
	Flags Flags

	// Format of the stream. Decoders set it in Open or in the first
	// Process call, before they pass any data downstream.
	Format Format
	// ConvFormat is the requested output format. Zero fields keep the
	// values of Format.
	ConvFormat Format
	Seek       time.Duration
	Until      time.Duration
	// Gain in dB.
	Gain float64
	// Total number of samples per channel, 0 if unknown.
	Total int64
	// Pos is the position of the stream in samples per channel.
	Pos int64

	Quality   Quality
	Overwrite bool

	// Data is the input of the stage, Out is its output.
	Data []byte
	Out  []byte

	Values *store.Store
	Tags   *store.Store
	Log    logrus.FieldLogger
	// Wake resumes the track after the stage returned ResultAsync. It
	// must not be called from Process.
	Wake func()

	track *Track
}

// Track returns the track these props belong to. It's nil for props
// that were created outside of a track.
func (p *Props) Track() *Track {
	return p.track
}

// Logger returns stage logger.
func (p *Props) Logger() logrus.FieldLogger {
	if p.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		p.Log = l
	}
	return p.Log
}

// Last returns true if the stage input is final.
func (p *Props) Last() bool {
	return p.Flags&FlagLast != 0
}

// Stopped returns true if the track is requested to stop.
func (p *Props) Stopped() bool {
	return p.Flags&FlagStop != 0
}

// Output returns the format of converted audio: ConvFormat with unset
// fields taken from Format.
func (p *Props) Output() Format {
	f := p.ConvFormat
	if f.Sample == SampleUnknown {
		f.Sample = p.Format.Sample
	}
	if f.NumChannels == 0 {
		f.NumChannels = p.Format.NumChannels
	}
	if f.SampleRate == 0 {
		f.SampleRate = p.Format.SampleRate
	}
	return f
}

// CopySettings copies format, position, gain and encoding settings from
// src.
func (p *Props) CopySettings(src *Props) {
	p.Format = src.Format
	p.ConvFormat = src.ConvFormat
	p.Seek = src.Seek
	p.Until = src.Until
	p.Gain = src.Gain
	p.Total = src.Total
	p.Quality = src.Quality
	p.Overwrite = src.Overwrite
}
