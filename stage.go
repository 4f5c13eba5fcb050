package track

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// Result is returned by Filter.Process and defines where the cursor
// moves next.
type Result int

// Results of the process call. Zero value is not a valid result.
const (
	// ResultError means stage cannot continue.
	ResultError Result = iota + 1
	// ResultSysError means stage cannot continue because of OS error.
	ResultSysError
	// ResultAsync suspends the track until it's resumed.
	ResultAsync
	// ResultMore requests more input from upstream.
	ResultMore
	// ResultOK passes the output downstream.
	ResultOK
	// ResultData passes the output downstream, even if it's empty, and
	// makes sure the stage is called again.
	ResultData
	// ResultDone removes the stage and passes the output downstream.
	ResultDone
	// ResultDonePrev removes the stage and returns to upstream.
	ResultDonePrev
	// ResultLastOut removes the stage together with all upstream stages
	// and passes the output downstream.
	ResultLastOut
	// ResultFin finishes the track.
	ResultFin
)

var resultNames = [...]string{
	ResultError:    "error",
	ResultSysError: "syserror",
	ResultAsync:    "async",
	ResultMore:     "more",
	ResultOK:       "ok",
	ResultData:     "data",
	ResultDone:     "done",
	ResultDonePrev: "done-prev",
	ResultLastOut:  "last-out",
	ResultFin:      "fin",
}

func (r Result) String() string {
	if r > 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("result(%d)", int(r))
}

type (
	// Stage is a pluggable processing unit. Open is called when data
	// reaches the stage for the first time. It returns ErrSkip if the
	// stage is not needed for this track.
	Stage interface {
		Open(p *Props) (Filter, error)
	}

	// Filter is an opened stage instance. Process consumes p.Data and
	// produces p.Out. Close is called exactly once during track teardown.
	Filter interface {
		Process(p *Props) (Result, error)
		Close()
	}

	// Configurer is implemented by stages that accept settings.
	Configurer interface {
		Configure(opts Options) error
	}
)

// StageFunc allows to use a function as a Stage.
type StageFunc func(p *Props) (Filter, error)

// Open calls the function.
func (fn StageFunc) Open(p *Props) (Filter, error) {
	return fn(p)
}

// Options are stage settings, usually read from a configuration file.
type Options map[string]interface{}

// Decode fills the structure with options. Structure fields are matched
// by their yaml tags.
func (o Options) Decode(v interface{}) error {
	b, err := yaml.Marshal(map[string]interface{}(o))
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(b, v)
}
