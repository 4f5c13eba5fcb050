package netin_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/track"
	"pipelined.dev/track/netin"
	"pipelined.dev/track/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func props(url string) (*track.Props, chan struct{}) {
	woken := make(chan struct{}, 100)
	p := &track.Props{
		Values: store.New(),
		Tags:   store.New(),
		Wake:   func() { woken <- struct{}{} },
	}
	p.Values.SetString("input", url, 0)
	return p, woken
}

// read drives the filter until it's done, failed or the time is out.
func read(t *testing.T, f track.Filter, p *track.Props, woken chan struct{}) ([]byte, track.Result, error) {
	t.Helper()
	var data []byte
	for {
		r, err := f.Process(p)
		data = append(data, p.Out...)
		switch r {
		case track.ResultOK:
		case track.ResultAsync:
			select {
			case <-woken:
			case <-time.After(5 * time.Second):
				t.Fatal("track is not resumed")
			}
		default:
			return data, r, err
		}
	}
}

func TestInput(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	in := netin.New(false)
	in.Client = srv.Client()
	require.NoError(t, in.Configure(track.Options{"buffer_size": 64}))
	p, woken := props(srv.URL)
	f, err := in.Open(p)
	require.NoError(t, err)
	defer f.Close()

	data, r, err := read(t, f, p, woken)
	require.NoError(t, err)
	assert.Equal(t, track.ResultDone, r)
	assert.Equal(t, payload, data)
	size, ok := p.Values.GetInt("total_size")
	assert.True(t, ok)
	assert.Equal(t, int64(len(payload)), size)
}

func TestICY(t *testing.T) {
	const metaint = 16
	audio := bytes.Repeat([]byte("a"), 2*metaint)
	meta := "StreamTitle='Artist - Song';"
	block := make([]byte, 32)
	copy(block, meta)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("Icy-MetaData"))
		w.Header().Set("icy-name", "Radio")
		w.Header().Set("icy-br", "128")
		w.Header().Set("icy-metaint", "16")
		w.Write(audio[:metaint])
		w.Write([]byte{2})
		w.Write(block)
		w.Write(audio[metaint:])
		w.Write([]byte{0})
	}))
	defer srv.Close()

	in := netin.New(true)
	in.Client = srv.Client()
	p, woken := props(srv.URL)
	f, err := in.Open(p)
	require.NoError(t, err)
	defer f.Close()

	data, r, err := read(t, f, p, woken)
	require.NoError(t, err)
	assert.Equal(t, track.ResultDone, r)
	assert.Equal(t, audio, data)

	for tag, expected := range map[string]string{
		"station": "Radio",
		"artist":  "Artist",
		"title":   "Song",
	} {
		v, ok := p.Tags.GetString(tag)
		assert.True(t, ok, tag)
		assert.Equal(t, expected, v, tag)
	}
	br, _ := p.Values.GetInt("bitrate")
	assert.Equal(t, int64(128000), br)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	in := netin.New(false)
	in.Client = srv.Client()
	p, woken := props(srv.URL)
	f, err := in.Open(p)
	require.NoError(t, err)
	defer f.Close()

	_, r, err := read(t, f, p, woken)
	assert.Equal(t, track.ResultError, r)
	assert.ErrorIs(t, err, netin.ErrStatus)
}

func TestCloseWhileStreaming(t *testing.T) {
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 128)))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	defer srv.Close()
	defer close(stop)

	in := netin.New(false)
	in.Client = srv.Client()
	require.NoError(t, in.Configure(track.Options{"buffer_size": 128}))
	p, woken := props(srv.URL)
	f, err := in.Open(p)
	require.NoError(t, err)

	for r := track.ResultAsync; r == track.ResultAsync; {
		r, err = f.Process(p)
		require.NoError(t, err)
		if r == track.ResultAsync {
			<-woken
			continue
		}
		assert.Equal(t, track.ResultOK, r)
		assert.Len(t, p.Out, 128)
	}
	f.Close()
}

func TestNoURL(t *testing.T) {
	_, err := netin.New(false).Open(&track.Props{Values: store.New()})
	assert.Error(t, err)
}
