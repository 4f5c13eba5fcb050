// Package netin provides stages that read HTTP streams. The stream is
// read by a separate goroutine, the track is suspended while there is no
// data and resumed when it arrives.
package netin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"pipelined.dev/track"
)

// ErrStatus is returned when server responds with unexpected status.
var ErrStatus = errors.New("net: unexpected status")

// Config of the network input.
type Config struct {
	BufferSize int `yaml:"buffer_size"`
	// Chunks is the number of read chunks waiting for the track.
	Chunks         int           `yaml:"chunks"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

// Input reads the stream from URL set by the "input" value. With ICY
// enabled, SHOUTcast metadata is requested: station headers and stream
// titles are stored as tags.
type Input struct {
	ICY    bool
	Client *http.Client

	mu     sync.Mutex
	config Config
}

// New returns input with default configuration.
func New(icy bool) *Input {
	return &Input{
		ICY:    icy,
		Client: http.DefaultClient,
		config: Config{
			BufferSize:     16 * 1024,
			Chunks:         8,
			ConnectTimeout: 10 * time.Second,
			UserAgent:      "medtrack",
		},
	}
}

// Configure implements track.Configurer.
func (in *Input) Configure(opts track.Options) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	c := in.config
	if err := opts.Decode(&c); err != nil {
		return err
	}
	if c.BufferSize <= 0 || c.Chunks <= 0 {
		return fmt.Errorf("net: invalid config %+v", c)
	}
	in.config = c
	return nil
}

// Open implements track.Stage.
func (in *Input) Open(p *track.Props) (track.Filter, error) {
	in.mu.Lock()
	c := in.config
	in.mu.Unlock()

	url, ok := p.Values.GetString("input")
	if !ok || url == "" {
		return nil, errors.New("net: url is not set")
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	if in.ICY {
		req.Header.Set("Icy-MetaData", "1")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &reader{
		config: c,
		client: in.Client,
		icy:    in.ICY,
		cancel: cancel,
		wake:   p.Wake,
		chunks: make(chan chunk, c.Chunks),
		done:   make(chan struct{}),
	}
	p.Logger().Debugf("net: connecting to %s", url)
	go r.run(ctx, req.WithContext(ctx))
	return r, nil
}

// chunk is the unit passed from the reading goroutine to the track.
type chunk struct {
	data []byte
	// response is set for the first chunk.
	response *http.Response
	// meta is ICY metadata that precedes the data.
	meta string
	err  error
}

type reader struct {
	config Config
	client *http.Client
	icy    bool
	cancel context.CancelFunc
	wake   func()
	chunks chan chunk
	done   chan struct{}

	mu      sync.Mutex
	waiting bool
}

func (r *reader) run(ctx context.Context, req *http.Request) {
	defer close(r.done)
	var connecting *time.Timer
	if r.config.ConnectTimeout > 0 {
		connecting = time.AfterFunc(r.config.ConnectTimeout, r.cancel)
	}
	resp, err := r.client.Do(req)
	if connecting != nil {
		connecting.Stop()
	}
	if err != nil {
		r.send(ctx, chunk{err: err})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.send(ctx, chunk{err: fmt.Errorf("%w: %s", ErrStatus, resp.Status)})
		return
	}
	if !r.send(ctx, chunk{response: resp}) {
		return
	}

	body := io.Reader(resp.Body)
	var icy *icyReader
	if metaint, err := strconv.Atoi(resp.Header.Get("icy-metaint")); err == nil && r.icy && metaint > 0 {
		icy = &icyReader{r: bufio.NewReader(resp.Body), metaint: metaint, left: metaint}
		body = icy
	}
	for {
		buf := make([]byte, r.config.BufferSize)
		n, err := io.ReadFull(body, buf)
		c := chunk{data: buf[:n]}
		if icy != nil {
			c.meta, icy.meta = icy.meta, ""
		}
		switch err {
		case io.ErrUnexpectedEOF:
			err = io.EOF
		case nil:
		default:
			if ctx.Err() != nil {
				return
			}
		}
		if n > 0 || c.meta != "" {
			if !r.send(ctx, c) {
				return
			}
		}
		if err != nil {
			r.send(ctx, chunk{err: err})
			return
		}
	}
}

// send passes the chunk to the track and resumes it if it waits.
func (r *reader) send(ctx context.Context, c chunk) bool {
	select {
	case r.chunks <- c:
	case <-ctx.Done():
		return false
	}
	r.mu.Lock()
	waiting := r.waiting
	r.waiting = false
	r.mu.Unlock()
	if waiting && r.wake != nil {
		// the track might be closing this reader
		go r.wake()
	}
	return true
}

func (r *reader) Process(p *track.Props) (track.Result, error) {
	p.Out = nil
	for {
		r.mu.Lock()
		r.waiting = true
		r.mu.Unlock()

		var c chunk
		select {
		case c = <-r.chunks:
		default:
			return track.ResultAsync, nil
		}
		r.mu.Lock()
		r.waiting = false
		r.mu.Unlock()

		switch {
		case c.err == io.EOF:
			p.Logger().Debug("net: end of stream")
			return track.ResultDone, nil
		case c.err != nil:
			return track.ResultError, fmt.Errorf("net: %w", c.err)
		case c.response != nil:
			r.connected(p, c.response)
			continue
		}
		if c.meta != "" {
			p.Logger().Debugf("net: icy metadata %q", c.meta)
			setTitle(p, c.meta)
		}
		if len(c.data) > 0 {
			p.Out = c.data
			return track.ResultOK, nil
		}
	}
}

// connected stores response properties.
func (r *reader) connected(p *track.Props, resp *http.Response) {
	p.Logger().Debugf("net: connected, %s %s", resp.Status, resp.Header.Get("Content-Type"))
	if resp.ContentLength > 0 {
		p.Values.SetInt("total_size", resp.ContentLength, 0)
	}
	if !r.icy {
		return
	}
	for header, tag := range map[string]string{
		"icy-name":  "station",
		"icy-genre": "genre",
		"icy-url":   "url",
	} {
		if v := resp.Header.Get(header); v != "" {
			p.Tags.SetString(tag, v, 0)
		}
	}
	if br, err := strconv.Atoi(resp.Header.Get("icy-br")); err == nil {
		p.Values.SetInt("bitrate", int64(br)*1000, 0)
	}
}

func (r *reader) Close() {
	r.cancel()
	<-r.done
}

// setTitle parses StreamTitle='Artist - Title'; metadata into tags.
func setTitle(p *track.Props, meta string) {
	const key = "StreamTitle='"
	i := strings.Index(meta, key)
	if i < 0 {
		return
	}
	title := meta[i+len(key):]
	if end := strings.Index(title, "';"); end >= 0 {
		title = title[:end]
	} else {
		title = strings.TrimSuffix(title, "'")
	}
	if artist, name, ok := strings.Cut(title, " - "); ok {
		p.Tags.SetString("artist", artist, 0)
		title = name
	}
	p.Tags.SetString("title", title, 0)
}

// icyReader removes metadata blocks from the stream. The block follows
// every metaint bytes of audio, its first byte is the length of the
// block in 16-byte units.
type icyReader struct {
	r       *bufio.Reader
	metaint int
	left    int
	meta    string
}

func (ir *icyReader) Read(b []byte) (int, error) {
	if ir.left == 0 {
		size, err := ir.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if size > 0 {
			block := make([]byte, int(size)*16)
			if _, err := io.ReadFull(ir.r, block); err != nil {
				return 0, err
			}
			ir.meta = strings.TrimRight(string(block), "\x00")
		}
		ir.left = ir.metaint
	}
	if len(b) > ir.left {
		b = b[:ir.left]
	}
	n, err := ir.r.Read(b)
	ir.left -= n
	return n, err
}
