package resource

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
)

// Names the admin queue pair is registered under. They are the only
// objects that survive a partial disable.
const (
	AdminSQName = "ASQ"
	AdminCQName = "ACQ"
)

// Registry is a name-keyed table of objects that live for a test group.
// Objects implementing io.Closer are closed when they leave the table.
type Registry struct {
	objs map[string]any
	log  *logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Default()
	}
	return &Registry{
		objs: make(map[string]any),
		log:  log,
	}
}

// AllocateNamed constructs an object with ctor and registers it under name.
// A colliding name fails before ctor runs, so the existing entry is never
// replaced and nothing is left half-built.
func AllocateNamed[T any](r *Registry, name string, ctor func() (T, error)) (T, error) {
	var zero T

	if name == "" {
		return zero, errs.New("ALLOCATE_NAMED", errs.ErrCodeConfiguration, "object name is empty")
	}
	if _, ok := r.objs[name]; ok {
		return zero, errs.Newf("ALLOCATE_NAMED", errs.ErrCodeExists, "object %q already registered", name)
	}

	obj, err := ctor()
	if err != nil {
		return zero, errs.Wrap("ALLOCATE_NAMED", fmt.Errorf("constructing %q: %w", name, err))
	}

	r.objs[name] = obj
	r.log.Debug("object registered", "name", name, "type", fmt.Sprintf("%T", obj))
	return obj, nil
}

// Register inserts an already constructed object under name
func Register[T any](r *Registry, name string, obj T) error {
	_, err := AllocateNamed(r, name, func() (T, error) { return obj, nil })
	return err
}

// GetNamed looks up name and asserts its type
func GetNamed[T any](r *Registry, name string) (T, error) {
	var zero T

	obj, ok := r.objs[name]
	if !ok {
		return zero, errs.Newf("GET_NAMED", errs.ErrCodeNotFound, "object %q not registered", name)
	}
	t, ok := obj.(T)
	if !ok {
		return zero, errs.Newf("GET_NAMED", errs.ErrCodeConfiguration,
			"object %q is %T, not %T", name, obj, zero)
	}
	return t, nil
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.objs[name]
	return ok
}

// Len returns the number of registered objects
func (r *Registry) Len() int {
	return len(r.objs)
}

// Names returns every registered name in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.objs))
	for name := range r.objs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FreeNamed removes and closes one object
func (r *Registry) FreeNamed(name string) error {
	obj, ok := r.objs[name]
	if !ok {
		return errs.Newf("FREE_NAMED", errs.ErrCodeNotFound, "object %q not registered", name)
	}
	delete(r.objs, name)
	return closeObject(name, obj)
}

// FreeAll removes and closes every object, returning how many were freed
func (r *Registry) FreeAll() (int, error) {
	return r.FreeAllExcept()
}

// FreeAllExcept removes and closes every object whose name is not in keep
func (r *Registry) FreeAllExcept(keep ...string) (int, error) {
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}

	var failures []error
	freed := 0
	for _, name := range r.Names() {
		if kept[name] {
			continue
		}
		obj := r.objs[name]
		delete(r.objs, name)
		freed++
		if err := closeObject(name, obj); err != nil {
			failures = append(failures, err)
		}
	}
	return freed, errors.Join(failures...)
}

func closeObject(name string, obj any) error {
	c, ok := obj.(io.Closer)
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil {
		return errs.Wrap("FREE_NAMED", fmt.Errorf("closing %q: %w", name, err))
	}
	return nil
}
