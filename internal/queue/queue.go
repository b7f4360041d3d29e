// Package queue implements NVMe submission and completion rings over
// driver-owned (contiguous) or caller-owned (discontiguous) memory.
package queue

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/interfaces"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
	"github.com/ehrlich-b/go-tnvme/internal/mem"
	"github.com/ehrlich-b/go-tnvme/internal/metrics"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// Device is the part of an open session a queue needs
type Device interface {
	Driver() interfaces.Driver
	Logger() *logging.Logger
	Metrics() *metrics.Metrics

	// FullyDisabled reports whether the controller was last put in the
	// completely disabled state, the only state admin queues may be
	// created in
	FullyDisabled() bool

	// MaxQueueEntries returns CAP.MQES+1
	MaxQueueEntries() (uint32, error)
}

// State of a queue's memory
type State int

const (
	StateUninitialized State = iota
	StateContigReady
	StateDiscontigReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateContigReady:
		return "contiguous"
	case StateDiscontigReady:
		return "discontiguous"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Queue holds what SQs and CQs share: identity, geometry and ring memory
type Queue struct {
	dev       Device
	drv       interfaces.Driver
	log       *logging.Logger
	metrics   *metrics.Metrics
	entrySize int
	region    uint32 // uapi.MMR_SQ or MMR_CQ

	qid     uint16
	entries uint32
	state   State
	ring    []byte
	memory  *mem.Region // caller memory, discontiguous only
}

func newQueue(dev Device, entrySize int, region uint32) Queue {
	return Queue{
		dev:       dev,
		drv:       dev.Driver(),
		log:       dev.Logger(),
		metrics:   dev.Metrics(),
		entrySize: entrySize,
		region:    region,
	}
}

func (q *Queue) QID() uint16         { return q.qid }
func (q *Queue) NumEntries() uint32  { return q.entries }
func (q *Queue) EntrySize() int      { return q.entrySize }
func (q *Queue) State() State        { return q.state }
func (q *Queue) IsAdmin() bool       { return q.qid == 0 }
func (q *Queue) IsContig() bool      { return q.state == StateContigReady }
func (q *Queue) Memory() *mem.Region { return q.memory }

func (q *Queue) kind() string {
	if q.region == uapi.MMR_SQ {
		return "SQ"
	}
	return "CQ"
}

// checkGeometry rejects what must never reach the driver and warns about
// what hardware is expected to reject
func (q *Queue) checkGeometry(op string, qid uint16, entries uint32) error {
	if q.state != StateUninitialized {
		return errs.NewQueueError(op, qid, errs.ErrCodeInvalidState,
			fmt.Sprintf("%s already initialized (%s)", q.kind(), q.state))
	}
	if entries < uapi.MinQueueEntries {
		return errs.NewQueueError(op, qid, errs.ErrCodeCapacity,
			fmt.Sprintf("%d entries is below the minimum of %d", entries, uapi.MinQueueEntries))
	}

	limit, err := q.dev.MaxQueueEntries()
	if err != nil {
		return errs.Wrap(op, err).WithQueue(qid)
	}
	if entries > limit {
		// Over-limit requests are part of the test surface; hardware gets
		// to reject them
		q.log.WithQueue(qid).Warn("queue depth exceeds CAP.MQES", "kind", q.kind(), "entries", entries, "max", limit)
	}
	return nil
}

// initContig sets up driver-allocated ring memory and maps it read-only
func (q *Queue) initContig(op string, qid uint16, entries uint32, prepare func() error) error {
	if err := q.checkGeometry(op, qid, entries); err != nil {
		return err
	}

	if qid == 0 {
		if !q.dev.FullyDisabled() {
			return errs.NewQueueError(op, qid, errs.ErrCodeInvalidState,
				"admin queues may only be created while the controller is completely disabled")
		}
		qtype := uint32(uapi.ADMIN_SQ)
		if q.region == uapi.MMR_CQ {
			qtype = uapi.ADMIN_CQ
		}
		if err := q.drv.CreateAdminQueue(qtype, entries); err != nil {
			return errs.Wrap(op, err).WithQueue(qid)
		}
	} else if err := prepare(); err != nil {
		return errs.Wrap(op, err).WithQueue(qid)
	}

	size := int(entries) * q.entrySize
	off := uapi.MmapOffset(q.region, uint32(qid), mem.PageSize)
	ring, err := q.drv.Mmap(off, size, unix.PROT_READ)
	if err != nil {
		return errs.Wrap(op, err).WithQueue(qid)
	}

	q.qid = qid
	q.entries = entries
	q.ring = ring
	q.state = StateContigReady
	q.log.WithQueue(qid).Debug("queue ready", "kind", q.kind(), "entries", entries, "contig", true)
	return nil
}

// initDiscontig hands caller memory to the driver. Ownership of region
// stays with the caller.
func (q *Queue) initDiscontig(op string, qid uint16, entries uint32, region *mem.Region, prepare func() error) error {
	if qid == 0 {
		return errs.NewQueueError(op, qid, errs.ErrCodeConfiguration,
			"admin queues cannot use caller-owned memory")
	}
	if err := q.checkGeometry(op, qid, entries); err != nil {
		return err
	}
	need := int(entries) * q.entrySize
	if region == nil || region.Size() < need {
		have := 0
		if region != nil {
			have = region.Size()
		}
		return errs.NewQueueError(op, qid, errs.ErrCodeConfiguration,
			fmt.Sprintf("queue memory holds %d bytes, need %d", have, need))
	}
	if region.Addr()%uintptr(mem.PageSize) != 0 {
		return errs.NewQueueError(op, qid, errs.ErrCodeConfiguration,
			fmt.Sprintf("queue memory at 0x%x is not page aligned", region.Addr()))
	}

	if err := prepare(); err != nil {
		return errs.Wrap(op, err).WithQueue(qid)
	}

	q.qid = qid
	q.entries = entries
	q.memory = region
	q.ring = region.Bytes()[:need]
	q.state = StateDiscontigReady
	q.log.WithQueue(qid).Debug("queue ready", "kind", q.kind(), "entries", entries, "contig", false)
	return nil
}

func (q *Queue) ready(op string) error {
	if q.state != StateContigReady && q.state != StateDiscontigReady {
		return errs.NewQueueError(op, q.qid, errs.ErrCodeInvalidState,
			fmt.Sprintf("%s is %s", q.kind(), q.state))
	}
	return nil
}

// entry returns a copy of ring entry index
func (q *Queue) entry(op string, index uint32) ([]byte, error) {
	if err := q.ready(op); err != nil {
		return nil, err
	}
	if index >= q.entries {
		return nil, errs.NewQueueError(op, q.qid, errs.ErrCodeBounds,
			fmt.Sprintf("index %d outside ring of %d entries", index, q.entries))
	}
	mfence()
	off := int(index) * q.entrySize
	out := make([]byte, q.entrySize)
	copy(out, q.ring[off:off+q.entrySize])
	return out, nil
}

// logEntry writes ring entry index to the log one DWORD per line
func (q *Queue) logEntry(op string, index uint32) error {
	e, err := q.entry(op, index)
	if err != nil {
		return err
	}
	log := q.log.WithQueue(q.qid)
	log.Info("ring entry", "kind", q.kind(), "index", index)
	for dw := 0; dw < len(e)/uapi.DwordSize; dw++ {
		log.Info(q.kind(), "dw", dw, "value", fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(e[dw*uapi.DwordSize:])))
	}
	return nil
}

// Close releases driver-allocated ring memory. Caller-owned memory is left
// alone.
func (q *Queue) Close() error {
	var err error
	if q.state == StateContigReady && q.ring != nil {
		if uerr := q.drv.Munmap(q.ring); uerr != nil {
			err = errs.Wrap("MUNMAP", uerr).WithQueue(q.qid)
		}
	}
	q.ring = nil
	q.memory = nil
	q.state = StateClosed
	return err
}

// queueMetrics fetches and decodes the driver's GET_Q_METRICS record
func (q *Queue) queueMetrics(qtype uint32, rec any) error {
	const op = "GET_Q_METRICS"

	if err := q.ready(op); err != nil {
		return err
	}
	buf := make([]byte, binary.Size(rec))
	if err := q.drv.QueueMetrics(q.qid, qtype, buf); err != nil {
		return errs.Wrap(op, err).WithQueue(q.qid)
	}
	if _, err := binary.Decode(buf, binary.LittleEndian, rec); err != nil {
		return errs.Wrap(op, err).WithQueue(q.qid)
	}
	return nil
}
