// Package metric publishes per-stage counters through expvar.
package metric

import (
	"expvar"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const stagesLabel = "track.stages"

const (
	// CallCounter measures number of process calls.
	CallCounter = "Calls"
	// InputCounter measures number of bytes handed to the stage.
	InputCounter = "Input"
	// OutputCounter measures number of bytes produced by the stage.
	OutputCounter = "Output"
	// ElapsedCounter measures time spent in process calls.
	ElapsedCounter = "Elapsed"
	// InstanceCounter counts number of opened stage instances.
	InstanceCounter = "Instances"
)

var (
	stages = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		CallCounter,
		InputCounter,
		OutputCounter,
		ElapsedCounter,
		InstanceCounter,
	}
)

// Get metrics values for provided stage name.
func Get(stage string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(stage, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// GetAll returns counters for all measured stages.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	for _, stage := range Stages() {
		m[stage] = Get(stage)
	}
	return m
}

// Stages returns sorted names of measured stages.
func Stages() []string {
	stages.Lock()
	defer stages.Unlock()
	names := make([]string, 0, len(stages.m))
	for name := range stages.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MeasureFunc captures metrics of a single process call.
type MeasureFunc func(in, out int, elapsed time.Duration)

// Meter registers a new stage instance and returns closure to capture
// its counters.
func Meter(stage string) MeasureFunc {
	metric := stages.get(stage)
	metric.instances.Add(1)
	return func(in, out int, elapsed time.Duration) {
		metric.calls.Add(1)
		metric.input.Add(int64(in))
		metric.output.Add(int64(out))
		metric.elapsed.add(elapsed)
	}
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(stage string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[stage]; ok {
		return metric
	}
	metric := newMetric(stage)
	m.m[stage] = metric
	return metric
}

type metric struct {
	instances *expvar.Int
	calls     *expvar.Int
	input     *expvar.Int
	output    *expvar.Int
	elapsed   *duration
}

func newMetric(stage string) metric {
	m := metric{
		instances: expvar.NewInt(key(stage, InstanceCounter)),
		calls:     expvar.NewInt(key(stage, CallCounter)),
		input:     expvar.NewInt(key(stage, InputCounter)),
		output:    expvar.NewInt(key(stage, OutputCounter)),
		elapsed:   &duration{},
	}
	expvar.Publish(key(stage, ElapsedCounter), m.elapsed)
	return m
}

func key(stage, counter string) string {
	return fmt.Sprintf("%s.%s.%s", stagesLabel, stage, counter)
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%q", time.Duration(atomic.LoadInt64(&v.d)).String())
}

func (v *duration) add(delta time.Duration) {
	atomic.AddInt64(&v.d, int64(delta))
}
