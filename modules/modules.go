// Package modules registers builtin stages.
package modules

import (
	"pipelined.dev/track"
	"pipelined.dev/track/dir"
	"pipelined.dev/track/file"
	"pipelined.dev/track/mixer"
	"pipelined.dev/track/mp3"
	"pipelined.dev/track/netin"
	"pipelined.dev/track/queue"
	"pipelined.dev/track/sound"
	"pipelined.dev/track/ui"
	"pipelined.dev/track/vorbis"
	"pipelined.dev/track/wav"
)

// Default extension maps of builtin decoders and encoders.
var (
	InputMap = track.ExtMap{
		"wav": "wav.decode",
		"mp3": "mp3.decode",
		"ogg": "ogg.decode",
	}
	OutputMap = track.ExtMap{
		"wav": "wav.encode",
	}
)

// Defaults returns engine configuration for builtin stages.
func Defaults() track.Config {
	return track.Config{
		InputMap:   copyMap(InputMap),
		OutputMap:  copyMap(OutputMap),
		Capture:    "gen.tone",
		Output:     "null.out",
		DefaultExt: "wav",
	}
}

func copyMap(m track.ExtMap) track.ExtMap {
	c := make(track.ExtMap, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Builtin returns registry with all builtin stages. Queue and mixer are
// shared by the tracks of the engine.
func Builtin(q *queue.Queue, m *mixer.Mixer) *track.Registry {
	r := track.NewRegistry()
	for name, s := range map[string]track.Stage{
		"queue.track": q.Stage(),
		"dir.list":    dir.List{Queue: q, Ext: InputMap},
		"file.in":     file.NewInput(),
		"file.out":    file.Output{},
		"net.in":      netin.New(false),
		"net.icy":     netin.New(true),

		"wav.decode": wav.Decoder{},
		"wav.encode": wav.Encoder{},
		"mp3.decode": mp3.New(),
		"ogg.decode": vorbis.New(),

		"sound.until":    sound.Until{},
		"sound.gain":     sound.Gain{},
		"sound.conv":     sound.Conv{},
		"sound.resample": sound.Resample{},
		"sound.rtpeak":   sound.Peak{},
		"sound.peaks":    sound.Peaks{},
		"gen.tone":       sound.NewTone(),
		"null.out":       sound.Null{},

		"mixer.in":  m.Input(),
		"mixer.out": m.Output(),
		"ui.tui":    ui.NewTUI(),
	} {
		r.Register(name, s)
	}
	return r
}
