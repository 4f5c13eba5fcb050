package track

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CreateOption configures a new track before its chain is built.
type CreateOption func(t *Track) error

// WithSettings overrides default track settings.
func WithSettings(p *Props) CreateOption {
	return func(t *Track) error {
		t.props.CopySettings(p)
		return nil
	}
}

// WithQueueItem attaches the track to the playback queue item.
func WithQueueItem(id string) CreateOption {
	return func(t *Track) error {
		return t.values.SetString("queue_item", id, 0)
	}
}

// WithOutput sets the output file of the track.
func WithOutput(path string) CreateOption {
	return func(t *Track) error {
		return t.values.SetString("output", path, 0)
	}
}

// Create allocates a new track and builds the input side of its chain.
// The track has to be started, or stopped if it's not needed.
func (e *Engine) Create(kind Kind, source string, options ...CreateOption) (*Track, error) {
	t := newTrack(e, e.seq.Add(1), kind)
	if err := e.build(t, kind, source, options); err != nil {
		err = startError(t.id, err)
		t.log.Error(err)
		t.values.Release()
		t.tags.Release()
		return nil, err
	}

	e.mu.Lock()
	e.pending++
	e.mu.Unlock()
	t.log.Debugf("created %v track: %s", t.props.Kind, strings.Join(t.Stages(), " -> "))
	return t, nil
}

// build applies create options and the input side of the chain policy.
func (e *Engine) build(t *Track, kind Kind, source string, options []CreateOption) error {
	for _, option := range options {
		if err := option(t); err != nil {
			return err
		}
	}

	var err error
	switch kind {
	case KindPlayback, KindMixInput:
		err = e.openInput(t, source)
	case KindRecord:
		err = e.openCapture(t)
	case KindMix:
		t.addOptional("queue.track")
		err = t.addStage("mixer.out")
		t.props.Kind = KindMixOutput
	case KindNetworkInput:
		err = t.values.SetString("input", source, 0)
		if err == nil {
			err = t.addStage("net.in")
		}
	case KindNone:
		if source != "" {
			err = t.values.SetString("input", source, 0)
		}
	default:
		err = fmt.Errorf("%w: %v", ErrUnsupportedFormat, kind)
	}
	if err != nil {
		return err
	}
	if e.cfg.Meta != "" {
		return t.values.SetString("meta", e.cfg.Meta, 0)
	}
	return nil
}

// openInput builds the chain that reads a file, a directory or a network
// stream.
func (e *Engine) openInput(t *Track, source string) error {
	if err := t.values.SetString("input", source, 0); err != nil {
		return err
	}
	t.addOptional("queue.track")

	if fi, err := os.Stat(source); err == nil && fi.IsDir() {
		return t.addStage("dir.list")
	}

	if strings.HasPrefix(source, "http") {
		if err := t.addStage("net.icy"); err != nil {
			return err
		}
		if err := t.addByExt(e.cfg.InputMap, "mp3"); err != nil {
			return err
		}
	} else {
		if err := t.addStage("file.in"); err != nil {
			return err
		}
		if err := t.addByExt(e.cfg.InputMap, filepath.Ext(source)); err != nil {
			return err
		}
	}
	return t.addStage("sound.until")
}

// openCapture builds the chain that records from the capture stage.
func (e *Engine) openCapture(t *Track) error {
	t.props.Kind = KindRecord
	if e.cfg.CaptureFormat.Valid() {
		t.props.Format = e.cfg.CaptureFormat
	}
	if e.cfg.CaptureChannels != 0 {
		if err := t.values.SetInt("conv_channels", int64(e.cfg.CaptureChannels), 0); err != nil {
			return err
		}
	}
	if e.cfg.Capture == "" {
		return fmt.Errorf("%w: capture is not configured", ErrStageNotFound)
	}
	for _, name := range []string{e.cfg.Capture, "sound.until", "sound.rtpeak"} {
		if err := t.addStage(name); err != nil {
			return err
		}
	}
	return nil
}

// setOutput builds the output side of the chain.
func (e *Engine) setOutput(t *Track) error {
	c := &e.cfg
	kind := t.props.Kind

	if kind == KindNetworkInput {
		input, _ := t.values.GetString("input")
		if err := t.addByExt(c.InputMap, filepath.Ext(input)); err != nil {
			return err
		}
	} else if kind != KindMixInput {
		switch {
		case c.GUI:
			t.addOptional("ui.gui")
		case !c.NoTUI:
			t.addOptional("ui.tui")
		}
	}

	if kind != KindMixOutput {
		if err := t.addStage("sound.gain"); err != nil {
			return err
		}
	}
	if err := t.addStage("sound.conv"); err != nil {
		return err
	}
	t.addOptional("sound.resample")

	switch {
	case kind == KindMixInput:
		return t.addStage("mixer.in")
	case c.PCMPeaks:
		return t.addStage("sound.peaks")
	}

	if output, ok := t.values.GetString("output"); ok {
		if err := t.addByExt(c.OutputMap, filepath.Ext(output)); err != nil {
			return err
		}
		return t.addStage("file.out")
	}

	out := c.Out
	if out == "" && c.OutDir != "" && c.DefaultExt != "" {
		out = "." + c.DefaultExt
	}
	if out != "" && kind != KindRecord {
		ext := filepath.Ext(out)
		name := strings.TrimSuffix(filepath.Base(out), ext)
		ext = strings.TrimPrefix(ext, ".")

		output := out
		if name == "" {
			input, ok := t.values.GetString("input")
			if !ok {
				return fmt.Errorf("%w: --out must be set", ErrMissingOutput)
			}
			output = outputPath(c.OutDir, input, ext)
		}
		if err := t.values.SetString("output", output, 0); err != nil {
			return err
		}

		if c.OutCopy {
			t.values.SetInt("out-copy", 1, 0)
			if c.Output != "" {
				return t.addStage(c.Output)
			}
			return nil
		}
		if c.StreamCopy {
			t.values.SetInt("stream_copy", 1, 0)
		}
		if err := t.addByExt(c.OutputMap, ext); err != nil {
			return err
		}
		return t.addStage("file.out")
	}

	if c.Output != "" {
		return t.addStage(c.Output)
	}
	return ErrMissingOutput
}
