package mock_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/track"
	"pipelined.dev/track/mock"
)

func TestSource(t *testing.T) {
	tests := []struct {
		limit   int
		results []track.Result
	}{
		{
			limit:   1,
			results: []track.Result{track.ResultDone},
		},
		{
			limit:   3,
			results: []track.Result{track.ResultOK, track.ResultOK, track.ResultDone},
		},
	}
	for _, test := range tests {
		log := &mock.Log{}
		s := &mock.Source{Name: "src", Limit: test.limit, Value: "ab", Log: log}
		f, err := s.Open(&track.Props{})
		require.NoError(t, err)

		p := &track.Props{}
		var out []byte
		for _, expected := range test.results {
			res, err := f.Process(p)
			require.NoError(t, err)
			assert.Equal(t, expected, res)
			out = append(out, p.Out...)
		}
		f.Close()
		assert.Len(t, out, 2*test.limit)
		assert.Equal(t, mock.Hooks{Opened: 1, Closed: 1, Processed: test.limit}, s.Hooks)
		assert.Len(t, log.Events(), test.limit+2)
	}
}

func TestStage(t *testing.T) {
	errStep := errors.New("step")
	s := &mock.Stage{
		Name: "stage",
		Steps: []mock.Step{
			{Out: "a", Result: track.ResultOK, Keep: 1},
			{Result: track.ResultError, Err: errStep},
		},
	}
	f, err := s.Open(&track.Props{})
	require.NoError(t, err)

	p := &track.Props{Data: []byte("xyz")}
	res, err := f.Process(p)
	require.NoError(t, err)
	assert.Equal(t, track.ResultOK, res)
	assert.Equal(t, "a", string(p.Out))
	assert.Equal(t, "z", string(p.Data))

	// last step is repeated
	for i := 0; i < 2; i++ {
		p.Flags = track.FlagLast
		res, err = f.Process(p)
		assert.Equal(t, track.ResultError, res)
		assert.ErrorIs(t, err, errStep)
	}
	f.Close()
	assert.Equal(t, []mock.Call{{In: "xyz"}, {In: "z", Last: true}, {In: "", Last: true}}, s.Calls)

	s = &mock.Stage{Name: "skip", Skip: true}
	_, err = s.Open(&track.Props{})
	assert.ErrorIs(t, err, track.ErrSkip)
}

func TestSink(t *testing.T) {
	s := &mock.Sink{Name: "sink"}
	f, err := s.Open(&track.Props{})
	require.NoError(t, err)

	p := &track.Props{Data: []byte("ab")}
	res, err := f.Process(p)
	require.NoError(t, err)
	assert.Equal(t, track.ResultMore, res)
	assert.Empty(t, p.Data)

	p.Data = []byte("c")
	p.Flags = track.FlagLast
	res, err = f.Process(p)
	require.NoError(t, err)
	assert.Equal(t, track.ResultDone, res)
	assert.Equal(t, "abc", string(s.Buffer))

	r := mock.Registry(map[string]track.Stage{"sink": s})
	assert.Equal(t, []string{"sink"}, r.Names())
}
