package file_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/track"
	"pipelined.dev/track/file"
	"pipelined.dev/track/store"
)

func props() *track.Props {
	return &track.Props{Values: store.New(), Tags: store.New()}
}

func TestInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.raw")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	in := file.NewInput()
	require.NoError(t, in.Configure(track.Options{"buffer_size": 4}))
	p := props()
	require.NoError(t, p.Values.SetString("input", path, 0))
	filter, err := in.Open(p)
	require.NoError(t, err)
	defer filter.Close()

	size, ok := p.Values.GetInt("total_size")
	assert.True(t, ok)
	assert.Equal(t, int64(10), size)

	var (
		results []track.Result
		data    []byte
	)
	for {
		r, err := filter.Process(p)
		require.NoError(t, err)
		results = append(results, r)
		data = append(data, p.Out...)
		if r != track.ResultOK {
			break
		}
	}
	assert.Equal(t, []track.Result{track.ResultOK, track.ResultOK, track.ResultDone}, results)
	assert.Equal(t, "0123456789", string(data))
}

func TestInputErrors(t *testing.T) {
	_, err := file.NewInput().Open(props())
	assert.ErrorIs(t, err, file.ErrNoPath)

	p := props()
	require.NoError(t, p.Values.SetString("input", filepath.Join(t.TempDir(), "missing"), 0))
	_, err = file.NewInput().Open(p)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Error(t, file.NewInput().Configure(track.Options{"buffer_size": 0}))
}

func TestOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "out.raw")
	p := props()
	require.NoError(t, p.Values.SetString("output", path, 0))
	filter, err := file.Output{}.Open(p)
	require.NoError(t, err)

	p.Data = []byte("....data")
	r, err := filter.Process(p)
	require.NoError(t, err)
	assert.Equal(t, track.ResultMore, r)

	p.Data = []byte("head")
	require.NoError(t, p.Values.SetInt("output_seek", 0, 0))
	r, err = filter.Process(p)
	require.NoError(t, err)
	assert.Equal(t, track.ResultMore, r)
	_, ok := p.Values.GetInt("output_seek")
	assert.False(t, ok)

	p.Data = []byte("tail")
	p.Flags = track.FlagLast
	r, err = filter.Process(p)
	require.NoError(t, err)
	assert.Equal(t, track.ResultDone, r)
	filter.Close()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "headdatatail", string(b))
}

func TestOutputOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	p := props()
	require.NoError(t, p.Values.SetString("output", path, 0))
	_, err := file.Output{}.Open(p)
	assert.ErrorIs(t, err, os.ErrExist)

	p.Overwrite = true
	filter, err := file.Output{}.Open(p)
	require.NoError(t, err)
	p.Data = []byte("new")
	p.Flags = track.FlagLast
	_, err = filter.Process(p)
	require.NoError(t, err)
	filter.Close()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
}

func TestOutputRemovedOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	p := props()
	require.NoError(t, p.Values.SetString("output", path, 0))
	filter, err := file.Output{}.Open(p)
	require.NoError(t, err)

	p.Data = []byte("partial")
	_, err = filter.Process(p)
	require.NoError(t, err)
	require.NoError(t, p.Values.SetInt("error", 1, 0))
	filter.Close()

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
