package track

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noop = StageFunc(func(*Props) (Filter, error) { return nil, ErrSkip })

func testEngine(t *testing.T, c Config, names ...string) *Engine {
	t.Helper()
	r := NewRegistry()
	for _, name := range names {
		r.Register(name, noop)
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	e, err := New(r, WithConfig(c), WithLogger(l))
	require.NoError(t, err)
	return e
}

var builtin = []string{
	"queue.track", "file.in", "net.icy", "net.in", "dir.list",
	"sound.until", "sound.rtpeak", "sound.gain", "sound.conv", "sound.peaks",
	"ui.tui", "mixer.in", "mixer.out", "file.out",
	"mp3.decode", "wav.decode", "wav.encode", "ogg.decode",
	"gen.tone", "null.out",
}

var maps = Config{
	InputMap:  ExtMap{"mp3": "mp3.decode", "wav": "wav.decode", "ogg": "ogg.decode"},
	OutputMap: ExtMap{"wav": "wav.encode"},
}

func TestInputChain(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		kind     Kind
		source   string
		config   Config
		expected []string
		kindAs   Kind
		err      error
	}{
		{
			name:     "file",
			kind:     KindPlayback,
			source:   "/music/a.MP3",
			config:   maps,
			expected: []string{"queue.track", "file.in", "mp3.decode", "sound.until"},
			kindAs:   KindPlayback,
		},
		{
			name:     "directory",
			kind:     KindPlayback,
			source:   dir,
			config:   maps,
			expected: []string{"queue.track", "dir.list"},
			kindAs:   KindPlayback,
		},
		{
			name:     "http",
			kind:     KindPlayback,
			source:   "http://radio/stream",
			config:   maps,
			expected: []string{"queue.track", "net.icy", "mp3.decode", "sound.until"},
			kindAs:   KindPlayback,
		},
		{
			name:   "unsupported",
			kind:   KindPlayback,
			source: "/music/a.xyz",
			config: maps,
			err:    ErrUnsupportedFormat,
		},
		{
			name:     "record",
			kind:     KindRecord,
			config:   Config{Capture: "gen.tone"},
			expected: []string{"gen.tone", "sound.until", "sound.rtpeak"},
			kindAs:   KindRecord,
		},
		{
			name: "record without capture",
			kind: KindRecord,
			err:  ErrStageNotFound,
		},
		{
			name:     "mix",
			kind:     KindMix,
			expected: []string{"queue.track", "mixer.out"},
			kindAs:   KindMixOutput,
		},
		{
			name:     "network",
			kind:     KindNetworkInput,
			source:   "http://radio/stream.ogg",
			expected: []string{"net.in"},
			kindAs:   KindNetworkInput,
		},
	}
	for _, c := range tests {
		t.Run(c.name, func(t *testing.T) {
			e := testEngine(t, c.config, builtin...)
			tr, err := e.Create(c.kind, c.source)
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)
				assert.Nil(t, tr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expected, tr.Stages())
			assert.Equal(t, c.kindAs, tr.Kind())
			tr.Stop()
		})
	}
}

func TestOutputChain(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		source   string
		config   func(c *Config)
		options  []CreateOption
		expected []string
		output   string
		values   []string
		err      error
	}{
		{
			name:   "out with name",
			kind:   KindPlayback,
			source: "/music/a.mp3",
			config: func(c *Config) {
				c.Out = "/tmp/b.wav"
			},
			expected: []string{"ui.tui", "sound.gain", "sound.conv", "wav.encode", "file.out"},
			output:   "/tmp/b.wav",
		},
		{
			name:   "out dir and ext",
			kind:   KindPlayback,
			source: "/music/a.mp3",
			config: func(c *Config) {
				c.Out = ".wav"
				c.OutDir = "/out"
				c.NoTUI = true
			},
			expected: []string{"sound.gain", "sound.conv", "wav.encode", "file.out"},
			output:   filepath.Join("/out", "a.wav"),
		},
		{
			name:   "default ext",
			kind:   KindPlayback,
			source: "/music/a.ogg",
			config: func(c *Config) {
				c.OutDir = "/out"
				c.DefaultExt = "wav"
				c.StreamCopy = true
			},
			expected: []string{"ui.tui", "sound.gain", "sound.conv", "wav.encode", "file.out"},
			output:   filepath.Join("/out", "a.wav"),
			values:   []string{"stream_copy"},
		},
		{
			name:   "out copy",
			kind:   KindPlayback,
			source: "/music/a.mp3",
			config: func(c *Config) {
				c.Out = "/tmp/b.wav"
				c.OutCopy = true
				c.Output = "null.out"
			},
			expected: []string{"ui.tui", "sound.gain", "sound.conv", "null.out"},
			output:   "/tmp/b.wav",
			values:   []string{"out-copy"},
		},
		{
			name:     "explicit output",
			kind:     KindRecord,
			options:  []CreateOption{WithOutput("/rec/r.wav")},
			config:   func(c *Config) { c.Capture = "gen.tone"; c.Out = "/ignored.wav" },
			expected: []string{"ui.tui", "sound.gain", "sound.conv", "wav.encode", "file.out"},
			output:   "/rec/r.wav",
		},
		{
			name:   "unsupported output",
			kind:   KindPlayback,
			source: "/music/a.mp3",
			config: func(c *Config) {
				c.Out = "/tmp/b.xyz"
			},
			err: ErrUnsupportedFormat,
		},
		{
			name:   "pcm peaks",
			kind:   KindPlayback,
			source: "/music/a.mp3",
			config: func(c *Config) {
				c.PCMPeaks = true
				c.Out = "/tmp/b.wav"
			},
			expected: []string{"ui.tui", "sound.gain", "sound.conv", "sound.peaks"},
		},
		{
			name:   "default sink",
			kind:   KindPlayback,
			source: "/music/a.mp3",
			config: func(c *Config) {
				c.GUI = true
				c.Output = "null.out"
			},
			expected: []string{"sound.gain", "sound.conv", "null.out"},
		},
		{
			name:   "missing output",
			kind:   KindPlayback,
			source: "/music/a.mp3",
			err:    ErrMissingOutput,
		},
		{
			name:     "mix input",
			kind:     KindMixInput,
			source:   "/music/a.wav",
			expected: []string{"sound.gain", "sound.conv", "mixer.in"},
		},
		{
			name:     "mix output",
			kind:     KindMix,
			config:   func(c *Config) { c.Output = "null.out" },
			expected: []string{"ui.tui", "sound.conv", "null.out"},
		},
		{
			name:     "network input",
			kind:     KindNetworkInput,
			source:   "http://radio/stream.ogg",
			config:   func(c *Config) { c.Output = "null.out" },
			expected: []string{"ogg.decode", "sound.gain", "sound.conv", "null.out"},
		},
	}
	for _, c := range tests {
		t.Run(c.name, func(t *testing.T) {
			config := maps
			if c.config != nil {
				c.config(&config)
			}
			e := testEngine(t, config, builtin...)
			tr, err := e.Create(c.kind, c.source, c.options...)
			require.NoError(t, err)
			inputLen := len(tr.chain)

			err = e.setOutput(tr)
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)
				tr.Stop()
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expected, tr.Stages()[inputLen:])
			if c.output != "" {
				output, _ := tr.values.GetString("output")
				assert.Equal(t, c.output, output)
			}
			for _, key := range c.values {
				v, ok := tr.values.GetInt(key)
				assert.True(t, ok, key)
				assert.Equal(t, int64(1), v)
			}
			tr.Stop()
		})
	}
}

func TestMetaValue(t *testing.T) {
	e := testEngine(t, Config{Meta: "artist=A;title=T"}, builtin...)
	tr, err := e.Create(KindNone, "in")
	require.NoError(t, err)
	meta, ok := tr.values.GetString("meta")
	assert.True(t, ok)
	assert.Equal(t, "artist=A;title=T", meta)
	input, _ := tr.values.GetString("input")
	assert.Equal(t, "in", input)
	tr.Stop()
}

type queueMeta map[string]map[string]string

func (q queueMeta) MetaFind(item, key string) ([]byte, bool) {
	v, ok := q[item][key]
	return []byte(v), ok
}

func TestTagsFallback(t *testing.T) {
	e := testEngine(t, Config{}, builtin...)
	e.queue = queueMeta{"item1": {"artist": "queue artist"}}

	tr, err := e.Create(KindNone, "", WithQueueItem("item1"))
	require.NoError(t, err)
	require.NoError(t, tr.tags.SetString("title", "local", 0))

	v, ok := tr.tags.GetString("artist")
	assert.True(t, ok)
	assert.Equal(t, "queue artist", v)
	v, _ = tr.tags.GetString("title")
	assert.Equal(t, "local", v)
	_, ok = tr.tags.GetString("album")
	assert.False(t, ok)
	tr.Stop()
}

func TestChainShift(t *testing.T) {
	c := chain{{name: "a"}, {name: "b"}, {name: "c"}, {name: "d"}}

	pos, m := c.shift(1, shiftNext)
	assert.Equal(t, 2, pos)
	assert.Equal(t, moveNext, m)

	pos, m = c.shift(3, shiftNext|shiftSameIfBounce)
	assert.Equal(t, 3, pos)
	assert.Equal(t, moveSame, m)

	_, m = c.shift(3, shiftNext)
	assert.Equal(t, moveNoNext, m)

	_, m = c.shift(0, shiftPrev)
	assert.Equal(t, moveNoPrev, m)

	pos, m = c.shift(0, shiftPrev|shiftSameIfBounce)
	assert.Equal(t, 0, pos)
	assert.Equal(t, moveSame, m)

	pos, m = c.shift(2, shiftNext|shiftRemove|shiftRemoveUpstream)
	assert.Equal(t, 3, pos)
	assert.Equal(t, moveNext, m)
	assert.Equal(t, 3, c.first())
	assert.Equal(t, 1, c.active())

	_, m = c.shift(3, shiftNext|shiftSameIfBounce|shiftRemove)
	assert.Equal(t, moveNoNext, m)
	assert.Equal(t, -1, c.first())
}
