package resource

import (
	"errors"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/interfaces"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
	"github.com/ehrlich-b/go-tnvme/internal/metrics"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// Lifecycle ties the registry and the metadata pool to controller state.
// A full disable or subsystem reset frees everything; a partial disable
// keeps only the admin queue pair. Metadata buffers never survive any
// disable.
type Lifecycle struct {
	Pool     *BufferPool
	Registry *Registry

	log     *logging.Logger
	metrics *metrics.Metrics
}

var _ interfaces.StateObserver = (*Lifecycle)(nil)

// NewLifecycle builds a pool and a registry over drv
func NewLifecycle(drv interfaces.Driver, log *logging.Logger, m *metrics.Metrics) *Lifecycle {
	if log == nil {
		log = logging.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Lifecycle{
		Pool:     NewBufferPool(drv, log, m),
		Registry: NewRegistry(log),
		log:      log,
		metrics:  m,
	}
}

// OnStateChange frees resources the new controller state invalidated.
// Callers that can surface failures use Release instead.
func (l *Lifecycle) OnStateChange(state uint32) {
	if err := l.Release(state); err != nil {
		l.log.Error("releasing resources", "state", state, "error", err)
	}
}

// Release frees what state invalidates and reports every failure. Freeing
// continues past errors, so the registry and pool are always emptied.
func (l *Lifecycle) Release(state uint32) error {
	var (
		freed int
		err   error
	)

	switch state {
	case uapi.ST_DISABLE_COMPLETELY, uapi.ST_NVM_SUBSYSTEM_RESET:
		freed, err = l.Registry.FreeAll()
	case uapi.ST_DISABLE:
		freed, err = l.Registry.FreeAllExcept(AdminSQName, AdminCQName)
		if l.Registry.Len() > 0 {
			l.log.Warn("objects survive partial disable", "names", l.Registry.Names())
		}
	default:
		return nil
	}
	l.metrics.RecordObjectsFreed(freed)

	if err != nil {
		err = errs.Wrap("FREE_OBJECTS", err)
	}
	if perr := l.Pool.FreeAll(); perr != nil {
		err = errors.Join(err, errs.Wrap("FREE_METADATA", perr))
	}
	l.log.Info("resources released", "state", state, "objects", freed)
	return err
}

// Close drains everything, as on a full disable
func (l *Lifecycle) Close() error {
	_, err := l.Registry.FreeAll()
	if perr := l.Pool.FreeAll(); err == nil {
		err = perr
	}
	return err
}
