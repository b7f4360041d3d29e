// Package session holds the explicit per-device context every harness
// component is built from: the driver, the logger and metrics, the
// resource lifecycle, and the controller state with its observers.
package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/go-tnvme/internal/constants"
	"github.com/ehrlich-b/go-tnvme/internal/ctrl"
	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/interfaces"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
	"github.com/ehrlich-b/go-tnvme/internal/metrics"
	"github.com/ehrlich-b/go-tnvme/internal/queue"
	"github.com/ehrlich-b/go-tnvme/internal/resource"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// State is the controller state as last set through the session
type State int

const (
	// StateUnknown is the state of a freshly opened device. Nothing can be
	// assumed about it until the tester disables it.
	StateUnknown State = iota
	StateEnabled
	StateDisabled
	StateDisabledCompletely
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateDisabledCompletely:
		return "disabled-completely"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a session. Zero values select defaults.
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics

	// ReapTimeout bounds completion waits issued on behalf of the session
	ReapTimeout time.Duration

	// PollInterval is applied to completion queues the session creates
	PollInterval time.Duration

	// MetaBufferSize, when set, sizes the metadata pool every time the
	// controller is enabled. Every disable drains the pool and forgets it.
	MetaBufferSize uint32
}

// Session is one open device. It is not safe for concurrent use; the
// harness runs a single tester per device.
type Session struct {
	id        string
	drv       interfaces.Driver
	log       *logging.Logger
	metrics   *metrics.Metrics
	lifecycle *resource.Lifecycle

	state     State
	observers []interfaces.StateObserver

	reapTimeout  time.Duration
	pollInterval time.Duration
	metaSize     uint32

	mqes uint32 // cached CAP.MQES+1, 0 until read
}

var _ queue.Device = (*Session)(nil)

// New builds a session over an already open driver
func New(drv interfaces.Driver, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	reap := opts.ReapTimeout
	if reap <= 0 {
		reap = constants.DefaultReapTimeout
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = constants.DefaultPollInterval
	}

	id := uuid.NewString()
	log = log.WithSession(id)
	return &Session{
		id:           id,
		drv:          drv,
		log:          log,
		metrics:      m,
		lifecycle:    resource.NewLifecycle(drv, log, m),
		reapTimeout:  reap,
		pollInterval: poll,
		metaSize:     opts.MetaBufferSize,
	}
}

// Open opens the test driver node at path and builds a session over it
func Open(path string, opts Options) (*Session, error) {
	drv, err := ctrl.Open(path)
	if err != nil {
		return nil, err
	}
	s := New(drv, opts)
	s.log.Info("device opened", "path", path)
	return s, nil
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) Driver() interfaces.Driver    { return s.drv }
func (s *Session) Logger() *logging.Logger      { return s.log }
func (s *Session) Metrics() *metrics.Metrics    { return s.metrics }
func (s *Session) Pool() *resource.BufferPool   { return s.lifecycle.Pool }
func (s *Session) Registry() *resource.Registry { return s.lifecycle.Registry }
func (s *Session) ReapTimeout() time.Duration   { return s.reapTimeout }
func (s *Session) PollInterval() time.Duration  { return s.pollInterval }

// State returns the controller state last set through this session
func (s *Session) State() State {
	return s.state
}

// FullyDisabled reports whether admin queues may be created
func (s *Session) FullyDisabled() bool {
	return s.state == StateDisabledCompletely
}

// Subscribe adds obs to the observers notified after every state change.
// Observers run in subscription order, after the resource lifecycle.
func (s *Session) Subscribe(obs interfaces.StateObserver) {
	s.observers = append(s.observers, obs)
}

// SetState issues the state ioctl and then notifies the lifecycle and
// every observer. A failed ioctl leaves the recorded state alone.
func (s *Session) SetState(st State) error {
	const op = "DEVICE_STATE"

	var raw uint32
	switch st {
	case StateEnabled:
		raw = uapi.ST_ENABLE
	case StateDisabled:
		raw = uapi.ST_DISABLE
	case StateDisabledCompletely:
		raw = uapi.ST_DISABLE_COMPLETELY
	default:
		return errs.Newf(op, errs.ErrCodeConfiguration, "cannot set controller state %s", st)
	}

	if err := s.drv.SetState(raw); err != nil {
		s.log.WithError(err).Error("state change failed", "from", s.state.String(), "to", st.String())
		return errs.Wrap(op, err)
	}
	err := s.notify(st, raw)

	if st == StateEnabled && s.metaSize > 0 {
		err = errors.Join(err, s.lifecycle.Pool.SetAllocationSize(s.metaSize))
	}
	return err
}

// SubsystemReset resets the NVM subsystem, which frees everything a full
// disable would
func (s *Session) SubsystemReset() error {
	if err := s.drv.SetState(uapi.ST_NVM_SUBSYSTEM_RESET); err != nil {
		return errs.Wrap("DEVICE_STATE", err)
	}
	return s.notify(StateDisabledCompletely, uapi.ST_NVM_SUBSYSTEM_RESET)
}

// notify records st, releases what it invalidated and runs the observers.
// The state change stands even when releasing fails.
func (s *Session) notify(st State, raw uint32) error {
	prev := s.state
	s.state = st
	s.metrics.RecordStateChange()
	s.log.Info("controller state changed", "from", prev.String(), "to", st.String())

	err := s.lifecycle.Release(raw)
	if err != nil {
		s.log.WithError(err).Error("releasing resources failed", "to", st.String())
	}
	for _, obs := range s.observers {
		obs.OnStateChange(raw)
	}
	return err
}

func (s *Session) Enable() error            { return s.SetState(StateEnabled) }
func (s *Session) Disable() error           { return s.SetState(StateDisabled) }
func (s *Session) DisableCompletely() error { return s.SetState(StateDisabledCompletely) }

// DeviceMetrics returns the driver's device-wide view, including the
// active interrupt scheme
func (s *Session) DeviceMetrics() (uapi.NvmeDeviceMetrics, error) {
	dm, err := s.drv.DeviceMetrics()
	if err != nil {
		return dm, errs.Wrap("GET_DEVICE_METRICS", err)
	}
	return dm, nil
}

// Close frees every session object and closes the driver
func (s *Session) Close() error {
	err := s.lifecycle.Close()
	if cerr := s.drv.Close(); cerr != nil && err == nil {
		err = errs.Wrap("CLOSE", cerr)
	}
	s.log.Info("session closed")
	return err
}

// readQuad reads a 64-bit register
func (s *Session) readQuad(space, offset uint32) (uint64, error) {
	var b [8]byte
	if err := s.drv.ReadGeneric(space, offset, b[:], uapi.QUAD_LEN); err != nil {
		return 0, errs.Wrap("READ_GENERIC", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
