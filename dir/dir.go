// Package dir provides the stage that plays all files of a directory.
package dir

import (
	"os"
	"path/filepath"
	"strings"

	"pipelined.dev/track"
	"pipelined.dev/track/queue"
)

// List adds files of the directory set by the "input" value to the queue
// and starts playback of the first one. Files with extensions missing in
// Ext are ignored, all files are added if Ext is empty.
type List struct {
	Queue *queue.Queue
	Ext   track.ExtMap
}

// Open implements track.Stage.
func (l List) Open(p *track.Props) (track.Filter, error) {
	return &lister{List: l}, nil
}

type lister struct {
	List
}

func (l *lister) Process(p *track.Props) (track.Result, error) {
	path, _ := p.Values.GetString("input")
	entries, err := os.ReadDir(path)
	if err != nil {
		return track.ResultSysError, err
	}

	var first string
	for _, entry := range entries {
		if entry.IsDir() || !l.supported(entry.Name()) {
			continue
		}
		id := l.Queue.Add(filepath.Join(path, entry.Name()), nil)
		if first == "" {
			first = id
		}
	}
	if first == "" {
		p.Logger().Warnf("dir: no files in %s", path)
		return track.ResultFin, nil
	}
	if _, err := l.Queue.Play(first, track.WithSettings(queue.Settings(p))); err != nil {
		return track.ResultError, err
	}
	return track.ResultFin, nil
}

func (l *lister) supported(name string) bool {
	if len(l.Ext) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	_, ok := l.Ext[ext]
	return ok
}

func (l *lister) Close() {}
