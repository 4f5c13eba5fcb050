package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pipelined.dev/track"
	"pipelined.dev/track/config"
	"pipelined.dev/track/log"
	"pipelined.dev/track/mixer"
	"pipelined.dev/track/modules"
	"pipelined.dev/track/queue"
)

var errNoInput = errors.New("no inputs provided")

// options are the flags of root command.
type options struct {
	config    string
	out       string
	outDir    string
	gain      float64
	seek      time.Duration
	until     time.Duration
	rec       bool
	mix       bool
	meta      string
	printTime bool
	noTUI     bool
	overwrite bool
	pcmPeaks  bool
	jobs      int
	logFile   string
	debug     bool
}

func (o *options) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.config, "config", "c", "", "configuration file")
	f.StringVarP(&o.out, "out", "o", "", "output file, or just an extension like .wav to use input names")
	f.StringVar(&o.outDir, "outdir", "", "directory for output files")
	f.Float64Var(&o.gain, "gain", 0, "gain in dB")
	f.DurationVar(&o.seek, "seek", 0, "start position")
	f.DurationVar(&o.until, "until", 0, "stop position")
	f.BoolVar(&o.rec, "rec", false, "record from the capture stage")
	f.BoolVar(&o.mix, "mix", false, "mix all inputs into one output")
	f.StringVar(&o.meta, "meta", "", "print meta data of the tracks in this format, like 'json'")
	f.BoolVar(&o.printTime, "print-time", false, "print processing time of every track")
	f.BoolVar(&o.noTUI, "notui", false, "don't show the progress")
	f.BoolVar(&o.overwrite, "overwrite", false, "overwrite existing output files")
	f.BoolVar(&o.pcmPeaks, "pcm-peaks", false, "print PCM peaks instead of writing output")
	f.IntVarP(&o.jobs, "jobs", "j", 1, "number of inputs processed concurrently")
	f.StringVar(&o.logFile, "log-file", "", "write log to this file too")
	f.BoolVar(&o.debug, "debug", false, "enable debug logging")
}

// apply sets flag values to engine configuration.
func (o *options) apply(c *track.Config, flags interface{ Changed(string) bool }) {
	if o.out != "" {
		c.Out = o.out
	}
	if o.outDir != "" {
		c.OutDir = o.outDir
	}
	c.Meta = o.meta
	c.PrintTime = o.printTime
	c.NoTUI = c.NoTUI || o.noTUI
	c.PCMPeaks = o.pcmPeaks
	d := &c.Defaults
	if flags.Changed("gain") {
		d.Gain = o.gain
	}
	if flags.Changed("seek") {
		d.Seek = o.seek
	}
	if flags.Changed("until") {
		d.Until = o.until
	}
	d.Overwrite = d.Overwrite || o.overwrite
}

func (o *options) run(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !o.rec {
		return errNoInput
	}
	if o.jobs < 1 {
		return fmt.Errorf("invalid number of jobs: %d", o.jobs)
	}

	cfg, err := config.Load(o.config)
	if err != nil {
		return err
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}
	if o.logFile != "" {
		cfg.Log.File = o.logFile
	}
	l, err := log.New(cfg.Log)
	if err != nil {
		return err
	}

	q := queue.New(l)
	m := mixer.New()
	r := modules.Builtin(q, m)
	if err := r.Configure(cfg.Modules); err != nil {
		return err
	}
	ec, err := cfg.Apply(modules.Defaults())
	if err != nil {
		return err
	}
	o.apply(&ec, cmd.Flags())

	e, err := track.New(r,
		track.WithConfig(ec),
		track.WithLogger(l),
		track.WithQueue(q),
	)
	if err != nil {
		return err
	}
	q.Attach(e)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
			l.Info("interrupted, stopping all tracks")
			cancel()
			e.Shutdown()
		case <-ctx.Done():
		}
	}()

	switch {
	case o.rec:
		err = o.record(e)
	case o.mix:
		err = o.mixInputs(e, m, args)
	default:
		err = o.playback(ctx, e, l, args)
	}
	if err != nil {
		return err
	}
	// tracks started by the queue may still be running
	<-e.Done()
	return nil
}

func (o *options) record(e *track.Engine) error {
	var opts []track.CreateOption
	if o.out != "" {
		opts = append(opts, track.WithOutput(o.out))
	}
	t, err := e.Create(track.KindRecord, "", opts...)
	if err != nil {
		return err
	}
	if err := t.Start(); err != nil {
		return err
	}
	return t.Err()
}

// playback creates tracks for all inputs first, so the engine doesn't
// signal done before the last of them is started.
func (o *options) playback(ctx context.Context, e *track.Engine, l logrus.FieldLogger, inputs []string) error {
	var (
		tracks []*track.Track
		errs   []error
	)
	for _, in := range inputs {
		t, err := e.Create(track.KindPlayback, in)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", in, err))
			continue
		}
		tracks = append(tracks, t)
	}

	g := errgroup.Group{}
	g.SetLimit(o.jobs)
	for _, t := range tracks {
		t := t
		g.Go(func() error {
			if ctx.Err() != nil {
				t.Stop()
				return nil
			}
			if err := t.Start(); err != nil {
				return err
			}
			return t.Err()
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	for _, err := range errs {
		l.Error(err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d inputs failed", len(errs), len(inputs))
	}
	return nil
}

// mixInputs plays all inputs into the mixer and writes the mixed stream
// to the output.
func (o *options) mixInputs(e *track.Engine, m *mixer.Mixer, inputs []string) error {
	var opts []track.CreateOption
	if o.out != "" {
		opts = append(opts, track.WithOutput(o.out))
	}
	out, err := e.Create(track.KindMix, "", opts...)
	if err != nil {
		return err
	}

	settings := e.Config().Defaults
	settings.ConvFormat = m.Format()
	tracks := []*track.Track{out}
	for _, in := range inputs {
		t, err := e.Create(track.KindMixInput, in, track.WithSettings(&settings))
		if err != nil {
			for _, t := range tracks {
				t.Stop()
			}
			return fmt.Errorf("%s: %w", in, err)
		}
		tracks = append(tracks, t)
	}

	g := errgroup.Group{}
	for _, t := range tracks {
		t := t
		g.Go(func() error {
			if err := t.Start(); err != nil {
				return err
			}
			return t.Err()
		})
	}
	return g.Wait()
}

func sortedKeys(m track.ExtMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
