// Package ui provides the terminal stage that shows track info and
// playback progress.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"pipelined.dev/track"
)

// Config of the terminal UI.
type Config struct {
	// Interval between progress updates.
	Interval time.Duration `yaml:"interval"`
	Width    int           `yaml:"width"`
}

// TUI passes data through and prints the progress to the writer.
type TUI struct {
	Writer io.Writer

	mu     sync.Mutex
	config Config
}

// NewTUI returns terminal UI that writes to stderr.
func NewTUI() *TUI {
	return &TUI{
		Writer: os.Stderr,
		config: Config{Interval: time.Second, Width: 20},
	}
}

// Configure implements track.Configurer.
func (u *TUI) Configure(opts track.Options) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	c := u.config
	if err := opts.Decode(&c); err != nil {
		return err
	}
	u.config = c
	return nil
}

// Open implements track.Stage.
func (u *TUI) Open(*track.Props) (track.Filter, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return &tui{w: u.Writer, config: u.config, pos: -1}, nil
}

type tui struct {
	w      io.Writer
	config Config
	pos    int64
	shown  int64
	line   bool
}

func (u *tui) Process(p *track.Props) (track.Result, error) {
	f := p.Format
	if u.pos < 0 {
		u.pos = p.Pos
		u.shown = -1
		u.header(p)
	}
	u.pos += f.Samples(len(p.Data))
	if step := f.SamplesIn(u.config.Interval); u.shown < 0 || step <= 0 || u.pos-u.shown >= step || p.Last() {
		u.progress(p)
		u.shown = u.pos
	}

	p.Out = p.Data
	p.Data = nil
	switch {
	case p.Last():
		return track.ResultDone, nil
	case len(p.Out) == 0:
		return track.ResultMore, nil
	}
	return track.ResultOK, nil
}

func (u *tui) header(p *track.Props) {
	var b strings.Builder
	if input, _ := p.Values.GetString("input"); input != "" {
		b.WriteString(input)
	}
	artist, _ := p.Tags.GetString("artist")
	title, _ := p.Tags.GetString("title")
	if artist != "" || title != "" {
		fmt.Fprintf(&b, " %q", strings.Trim(artist+" - "+title, " -"))
	}
	fmt.Fprintf(&b, " %v", p.Format)
	if p.Total > 0 {
		fmt.Fprintf(&b, " %s", clock(p.Format.Duration(p.Total)))
	}
	fmt.Fprintln(u.w, strings.TrimSpace(b.String()))
}

func (u *tui) progress(p *track.Props) {
	pos := p.Format.Duration(u.pos)
	if p.Total <= 0 {
		fmt.Fprintf(u.w, "\r%s", clock(pos))
	} else {
		done := int(u.pos * int64(u.config.Width) / p.Total)
		if done > u.config.Width {
			done = u.config.Width
		}
		fmt.Fprintf(u.w, "\r[%s%s] %s / %s",
			strings.Repeat("=", done),
			strings.Repeat(".", u.config.Width-done),
			clock(pos),
			clock(p.Format.Duration(p.Total)),
		)
	}
	u.line = true
}

func (u *tui) Close() {
	if u.line {
		fmt.Fprintln(u.w)
	}
}

// clock formats duration as m:ss.
func clock(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
