// Package queue implements the playback queue. Items are played one by
// one: when the track of an item is over, the track of the next item is
// started. The queue also provides item metadata as the fallback for
// track tags.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"pipelined.dev/track"
)

// ErrNotFound is returned when the item is not in the queue.
var ErrNotFound = errors.New("queue: item not found")

// ErrDetached is returned when the queue has no engine to play items.
var ErrDetached = errors.New("queue: engine is not attached")

// Item is an entry of the queue.
type Item struct {
	ID   string
	Path string
	Meta map[string]string
}

// Queue is an ordered list of items. It's safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	items   []*Item
	engine  *track.Engine
	options []track.CreateOption
	log     logrus.FieldLogger
}

// New returns an empty queue.
func New(l logrus.FieldLogger) *Queue {
	return &Queue{log: l}
}

// Attach sets the engine that creates tracks for items. Provided options
// are applied to every created track.
func (q *Queue) Attach(e *track.Engine, options ...track.CreateOption) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.engine = e
	q.options = options
}

// Add appends an item and returns its id.
func (q *Queue) Add(path string, meta map[string]string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := &Item{
		ID:   xid.New().String(),
		Path: path,
		Meta: meta,
	}
	q.items = append(q.items, item)
	return item.ID
}

// Items returns copies of all items in order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		items = append(items, *item)
	}
	return items
}

// Find returns the item by id.
func (q *Queue) Find(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.index(id); i >= 0 {
		return *q.items[i], true
	}
	return Item{}, false
}

func (q *Queue) index(id string) int {
	for i, item := range q.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// MetaFind returns the metadata value of the item.
func (q *Queue) MetaFind(id, key string) ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return nil, false
	}
	v, ok := q.items[i].Meta[key]
	if !ok {
		return nil, false
	}
	return []byte(v), true
}

// next returns id of the item that follows the provided one.
func (q *Queue) next(id string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 || i+1 >= len(q.items) {
		return "", false
	}
	return q.items[i+1].ID, true
}

// Play creates the playback track for the item and starts it in a new
// goroutine.
func (q *Queue) Play(id string, options ...track.CreateOption) (*track.Track, error) {
	q.mu.Lock()
	e := q.engine
	options = append(append([]track.CreateOption(nil), q.options...), options...)
	var path string
	if i := q.index(id); i >= 0 {
		path = q.items[i].Path
	}
	q.mu.Unlock()

	if e == nil {
		return nil, ErrDetached
	}
	if path == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	options = append(options, track.WithQueueItem(id))
	t, err := e.Create(track.KindPlayback, path, options...)
	if err != nil {
		return nil, err
	}
	go func() {
		// the error is logged by the track
		_ = t.Start()
	}()
	return t, nil
}

// Stage returns the stage that binds the track to its queue item. It's
// skipped for tracks created without an item.
func (q *Queue) Stage() track.Stage {
	return track.StageFunc(func(p *track.Props) (track.Filter, error) {
		id, ok := p.Values.GetString("queue_item")
		if !ok {
			return nil, track.ErrSkip
		}
		return &itemFilter{queue: q, id: id, props: p}, nil
	})
}

type itemFilter struct {
	queue *Queue
	id    string
	props *track.Props
}

func (f *itemFilter) Process(p *track.Props) (track.Result, error) {
	p.Out = p.Data
	p.Data = nil
	return track.ResultDone, nil
}

// Close starts the next item, unless the track failed or was stopped.
func (f *itemFilter) Close() {
	p := f.props
	if _, failed := p.Values.GetInt("error"); failed {
		return
	}
	if _, stopped := p.Values.GetInt("stopped"); stopped {
		return
	}
	next, ok := f.queue.next(f.id)
	if !ok {
		return
	}
	if _, err := f.queue.Play(next, track.WithSettings(Settings(p))); err != nil {
		f.queue.log.Errorf("queue: play %s: %v", next, err)
	}
}

// Settings returns the settings of p that are passed to the track of
// the next item. Stream properties are left for the new decoder.
func Settings(p *track.Props) *track.Props {
	var s track.Props
	s.CopySettings(p)
	s.Format = track.Format{}
	s.Total = 0
	return &s
}
