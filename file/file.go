// Package file provides stages that read the input file and write the
// output file of a track.
package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"pipelined.dev/track"
)

// ErrNoPath is returned when the track has no path for the stage.
var ErrNoPath = errors.New("file: path is not set")

const defaultBufferSize = 64 * 1024

// Config of the input stage.
type Config struct {
	BufferSize int `yaml:"buffer_size"`
}

// Input reads the file set by the "input" value. Size of the file is
// stored as "total_size" value.
type Input struct {
	mu     sync.Mutex
	config Config
}

// NewInput returns input stage with default buffer size.
func NewInput() *Input {
	return &Input{config: Config{BufferSize: defaultBufferSize}}
}

// Configure implements track.Configurer.
func (in *Input) Configure(opts track.Options) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	c := in.config
	if err := opts.Decode(&c); err != nil {
		return err
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("file: invalid buffer size %d", c.BufferSize)
	}
	in.config = c
	return nil
}

// Open implements track.Stage.
func (in *Input) Open(p *track.Props) (track.Filter, error) {
	in.mu.Lock()
	size := in.config.BufferSize
	in.mu.Unlock()

	path, ok := p.Values.GetString("input")
	if !ok || path == "" {
		return nil, ErrNoPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := p.Values.SetInt("total_size", fi.Size(), 0); err != nil {
		f.Close()
		return nil, err
	}
	p.Logger().Debugf("file: %s opened (%d bytes)", path, fi.Size())
	return &reader{file: f, buf: make([]byte, size)}, nil
}

type reader struct {
	file *os.File
	buf  []byte
}

func (r *reader) Process(p *track.Props) (track.Result, error) {
	n, err := io.ReadFull(r.file, r.buf)
	p.Out = r.buf[:n]
	switch err {
	case nil:
		return track.ResultOK, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return track.ResultDone, nil
	}
	return track.ResultSysError, err
}

func (r *reader) Close() {
	r.file.Close()
}

// Output writes input data to the file set by the "output" value. Data
// with "output_seek" value is written at that offset. The file is removed
// if the track fails.
type Output struct{}

// Open implements track.Stage.
func (Output) Open(p *track.Props) (track.Filter, error) {
	path, ok := p.Values.GetString("output")
	if !ok || path == "" {
		return nil, ErrNoPath
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !p.Overwrite {
		flags |= os.O_EXCL
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	return &writer{file: f, path: path, props: p}, nil
}

type writer struct {
	file  *os.File
	path  string
	props *track.Props
	size  int64
}

func (w *writer) Process(p *track.Props) (track.Result, error) {
	if err := w.write(p); err != nil {
		return track.ResultSysError, err
	}
	p.Data = nil
	if p.Last() {
		return track.ResultDone, nil
	}
	return track.ResultMore, nil
}

func (w *writer) write(p *track.Props) error {
	seek, ok := p.Values.PopInt("output_seek")
	if !ok {
		n, err := w.file.Write(p.Data)
		w.size += int64(n)
		return err
	}
	if _, err := w.file.Seek(seek, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Write(p.Data)
	if end := seek + int64(n); end > w.size {
		w.size = end
	}
	if err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}

func (w *writer) Close() {
	l := w.props.Logger()
	if err := w.file.Close(); err != nil {
		l.Errorf("file: close %s: %v", w.path, err)
	}
	if _, failed := w.props.Values.GetInt("error"); failed {
		if err := os.Remove(w.path); err != nil {
			l.Errorf("file: remove %s: %v", w.path, err)
			return
		}
		l.Debugf("file: removed %s", w.path)
		return
	}
	l.Infof("saved file %s, %d bytes", w.path, w.size)
}
