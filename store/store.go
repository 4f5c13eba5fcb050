// Package store implements the associative key/value table that stages of
// one track use to pass typed values and tags to each other.
//
// Entries are indexed by a 32-bit hash of the key. Two distinct keys that
// fold to the same hash are never stored side by side: the second one is
// rejected with ErrKeyCollision and reported to the collision handler, which
// lets the owning track fail instead of silently overwriting the first key.
package store

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ErrKeyCollision is returned when two distinct keys share a hash.
var ErrKeyCollision = errors.New("key collision")

// Flag modifies the behaviour of set operations.
type Flag uint8

const (
	// NoOverwrite keeps the existing value if the key is already present.
	NoOverwrite Flag = 1 << iota
	// Acquire transfers ownership of the passed buffer to the store.
	Acquire
)

type (
	// Value is one of Int, Owned or Borrowed.
	Value interface {
		value()
	}

	// Int is an integer value.
	Int int64

	// Owned is a buffer owned by the store. It's released exactly once:
	// when overwritten, when the store is released, or never if it was
	// popped, since pop hands the ownership to the caller.
	Owned []byte

	// Borrowed is a buffer that belongs to somebody else. The store only
	// references it.
	Borrowed []byte
)

func (Int) value()      {}
func (Owned) value()    {}
func (Borrowed) value() {}

// Bytes returns the buffer of bytes values and nil otherwise.
func Bytes(v Value) []byte {
	switch b := v.(type) {
	case Owned:
		return b
	case Borrowed:
		return b
	}
	return nil
}

// isBytes reports whether v is a bytes value. Empty buffers are values
// too.
func isBytes(v Value) bool {
	switch v.(type) {
	case Owned, Borrowed:
		return true
	}
	return false
}

type (
	// Hasher maps a key to its 32-bit index.
	Hasher func(key string) uint32

	// Releaser is called once for every owned buffer the store gives up.
	Releaser func([]byte)

	// CollisionFunc is notified when key collides with an existing key.
	CollisionFunc func(key, existing string)

	// FallbackFunc is asked for keys that are not present in the store.
	FallbackFunc func(key string) ([]byte, bool)
)

// Hash folds the 64-bit xxhash of the key into 32 bits.
func Hash(key string) uint32 {
	h := xxhash.Sum64String(key)
	return uint32(h) ^ uint32(h>>32)
}

// Entry is a key with its value.
type Entry struct {
	Key   string
	Value Value
}

// Store is a hash-indexed table of values. It's not safe for concurrent
// use, a track only touches it from the goroutine that drives it.
type Store struct {
	hash        Hasher
	release     Releaser
	onCollision CollisionFunc
	fallback    FallbackFunc

	entries map[uint32]*Entry
	order   []uint32
}

// Option configures a Store.
type Option func(*Store)

// WithHasher replaces the default xxhash-based hasher.
func WithHasher(h Hasher) Option {
	return func(s *Store) {
		s.hash = h
	}
}

// WithReleaser sets the function that receives released owned buffers.
func WithReleaser(r Releaser) Option {
	return func(s *Store) {
		s.release = r
	}
}

// WithCollisionHandler sets the function notified about key collisions.
func WithCollisionHandler(fn CollisionFunc) Option {
	return func(s *Store) {
		s.onCollision = fn
	}
}

// WithFallback sets the lookup used for bytes values missing in the store.
func WithFallback(fn FallbackFunc) Option {
	return func(s *Store) {
		s.fallback = fn
	}
}

// New creates an empty store.
func New(options ...Option) *Store {
	s := &Store{
		hash:    Hash,
		entries: make(map[uint32]*Entry),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// lookup returns the entry for the key. Collision is reported when the
// slot is taken by another key.
func (s *Store) lookup(key string) (uint32, *Entry, error) {
	h := s.hash(key)
	e, ok := s.entries[h]
	if !ok {
		return h, nil, nil
	}
	if e.Key != key {
		if s.onCollision != nil {
			s.onCollision(key, e.Key)
		}
		return h, nil, fmt.Errorf("%w: %q and %q", ErrKeyCollision, key, e.Key)
	}
	return h, e, nil
}

// Set stores the value. With NoOverwrite an existing value is kept and
// returned. Otherwise the new value is returned and the previous owned
// buffer, if any, is released.
func (s *Store) Set(key string, v Value, flags Flag) (Value, error) {
	h, e, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		s.entries[h] = &Entry{Key: key, Value: v}
		s.order = append(s.order, h)
		return v, nil
	}
	if flags&NoOverwrite != 0 {
		return e.Value, nil
	}
	s.free(e.Value)
	e.Value = v
	return v, nil
}

// SetInt stores an integer value.
func (s *Store) SetInt(key string, v int64, flags Flag) error {
	_, err := s.Set(key, Int(v), flags)
	return err
}

// SetBytes stores a buffer. With Acquire the store takes ownership of it.
func (s *Store) SetBytes(key string, b []byte, flags Flag) error {
	var v Value = Borrowed(b)
	if flags&Acquire != 0 {
		v = Owned(b)
	}
	_, err := s.Set(key, v, flags)
	return err
}

// SetString stores a string value.
func (s *Store) SetString(key, v string, flags Flag) error {
	_, err := s.Set(key, Borrowed(v), flags&^Acquire)
	return err
}

// Get returns the value for the key.
func (s *Store) Get(key string) (Value, bool) {
	_, e, err := s.lookup(key)
	if err != nil || e == nil {
		return nil, false
	}
	return e.Value, true
}

// GetInt returns an integer value.
func (s *Store) GetInt(key string) (int64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	i, ok := v.(Int)
	return int64(i), ok
}

// GetBytes returns a bytes value. Missing keys are looked up through the
// fallback if one is set.
func (s *Store) GetBytes(key string) ([]byte, bool) {
	if v, ok := s.Get(key); ok {
		return Bytes(v), isBytes(v)
	}
	if s.fallback != nil {
		return s.fallback(key)
	}
	return nil, false
}

// GetString returns a bytes value as a string.
func (s *Store) GetString(key string) (string, bool) {
	b, ok := s.GetBytes(key)
	return string(b), ok
}

// PopInt returns the integer value and removes it.
func (s *Store) PopInt(key string) (int64, bool) {
	i, ok := s.GetInt(key)
	if ok {
		s.remove(key)
	}
	return i, ok
}

// PopBytes returns the bytes value and removes it. Owned values are not
// released, the caller becomes their owner.
func (s *Store) PopBytes(key string) (Value, bool) {
	v, ok := s.Get(key)
	if !ok || !isBytes(v) {
		return nil, false
	}
	s.remove(key)
	return v, true
}

func (s *Store) remove(key string) {
	h := s.hash(key)
	delete(s.entries, h)
	for i := range s.order {
		if s.order[i] == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Entries returns all entries in insertion order.
func (s *Store) Entries() []Entry {
	entries := make([]Entry, 0, len(s.order))
	for _, h := range s.order {
		entries = append(entries, *s.entries[h])
	}
	return entries
}

// Len returns number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Release removes all entries and releases owned buffers.
func (s *Store) Release() {
	for _, h := range s.order {
		s.free(s.entries[h].Value)
	}
	s.entries = make(map[uint32]*Entry)
	s.order = nil
}

func (s *Store) free(v Value) {
	if b, ok := v.(Owned); ok && s.release != nil {
		s.release(b)
	}
}
