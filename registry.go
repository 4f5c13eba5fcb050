package track

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Modules resolves stages by name or by file extension.
type Modules interface {
	Lookup(name string) (Stage, error)
}

// Registry is a Modules implementation with registered stages.
type Registry struct {
	mu     sync.Mutex
	stages map[string]Stage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[string]Stage),
	}
}

// Register adds the stage under the name. Existing stage with the same
// name is replaced.
func (r *Registry) Register(name string, s Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[name] = s
}

// Lookup returns the stage registered under the name.
func (r *Registry) Lookup(name string) (Stage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStageNotFound, name)
	}
	return s, nil
}

// Names returns sorted names of registered stages.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configure passes options to stages that implement Configurer. Options
// for stages without Configurer are ignored.
func (r *Registry) Configure(options map[string]Options) error {
	var errs configErrors
	for name, opts := range options {
		s, err := r.Lookup(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		c, ok := s.(Configurer)
		if !ok {
			continue
		}
		if err := c.Configure(opts); err != nil {
			errs = append(errs, fmt.Errorf("configure %s: %w", name, err))
		}
	}
	return errs.ret()
}

// ExtMap maps file extensions to stage names.
type ExtMap map[string]string

// lookupByExt resolves the stage for the extension. Extension is matched
// case-insensitively, with or without leading dot.
func lookupByExt(m Modules, extMap ExtMap, ext string) (string, Stage, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	name, ok := extMap[ext]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	s, err := m.Lookup(name)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %q: %v", ErrUnsupportedFormat, ext, err)
	}
	return name, s, nil
}
