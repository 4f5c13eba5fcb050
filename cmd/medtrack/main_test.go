package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	cmd := newRootCommand()
	assert.Equal(t, 1, len(cmd.Commands()))
	for _, name := range []string{"out", "outdir", "gain", "seek", "until", "rec", "mix", "jobs", "notui"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestModules(t *testing.T) {
	out, err := execute("modules")
	require.NoError(t, err)
	assert.Contains(t, out, "\twav.decode\n")
	assert.Contains(t, out, "\t.mp3\tmp3.decode\n")
}

func TestNoInput(t *testing.T) {
	_, err := execute()
	assert.ErrorIs(t, err, errNoInput)

	_, err = execute("--jobs", "0", "in.wav")
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	f, err := os.Create(in)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           make([]int, 800),
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	_, err = execute("--notui", "--outdir", dir, "--out", ".wav", "--until", "50ms", filepath.Join(dir, "missing.wav"), in)
	assert.Error(t, err)

	out := filepath.Join(dir, "out.wav")
	_, err = execute("--notui", "--out", out, "--gain", "0", in)
	require.NoError(t, err)
	f, err = os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	require.NoError(t, err)
	assert.Len(t, buf.Data, 800)
}
