// Package resource manages objects whose lifetime is bounded by the
// controller state: the metadata buffer pool and the named object registry.
package resource

import (
	"errors"
	"os"

	"github.com/google/btree"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/interfaces"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
	"github.com/ehrlich-b/go-tnvme/internal/metrics"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// MetaBuf is one driver-backed metadata buffer, mapped read-write
type MetaBuf struct {
	id  uint32
	buf []byte
}

// ID returns the unique id the driver knows this buffer by
func (m *MetaBuf) ID() uint32 {
	return m.id
}

func (m *MetaBuf) Bytes() []byte {
	return m.buf
}

func (m *MetaBuf) Size() int {
	return len(m.buf)
}

func lessByID(a, b *MetaBuf) bool {
	return a.id < b.id
}

// BufferPool hands out fixed-size metadata buffers. Released buffers are
// kept mapped and handed out again before any new driver allocation.
type BufferPool struct {
	drv      interfaces.Driver
	log      *logging.Logger
	metrics  *metrics.Metrics
	pageSize int

	size     uint32
	nextID   uint32
	reserved *btree.BTreeG[*MetaBuf]
	released *btree.BTreeG[*MetaBuf]
}

// NewBufferPool creates an empty pool with no allocation size
func NewBufferPool(drv interfaces.Driver, log *logging.Logger, m *metrics.Metrics) *BufferPool {
	if log == nil {
		log = logging.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &BufferPool{
		drv:      drv,
		log:      log,
		metrics:  m,
		pageSize: os.Getpagesize(),
		reserved: btree.NewG[*MetaBuf](2, lessByID),
		released: btree.NewG[*MetaBuf](2, lessByID),
	}
}

// AllocationSize returns the current buffer size, 0 when unset
func (p *BufferPool) AllocationSize() uint32 {
	return p.size
}

// Outstanding returns how many buffers the pool holds in either set
func (p *BufferPool) Outstanding() int {
	return p.reserved.Len() + p.released.Len()
}

// Reserved returns how many buffers are currently handed out
func (p *BufferPool) Reserved() int {
	return p.reserved.Len()
}

// Released returns how many buffers wait for reuse
func (p *BufferPool) Released() int {
	return p.released.Len()
}

// SetAllocationSize fixes the size of every buffer. The size cannot change
// while any buffer is outstanding, since the driver requires all metadata
// buffers to be homogeneous.
func (p *BufferPool) SetAllocationSize(size uint32) error {
	const op = "META_SET_SIZE"

	if size == 0 {
		return errs.New(op, errs.ErrCodeConfiguration, "metadata buffer size must be non-zero")
	}
	if size == p.size {
		return nil
	}
	if p.Outstanding() > 0 {
		return errs.Newf(op, errs.ErrCodeInvalidState,
			"cannot change size %d -> %d with %d buffers outstanding", p.size, size, p.Outstanding())
	}

	if err := p.drv.MetaCreate(size); err != nil {
		return errs.Wrap(op, err)
	}
	p.size = size
	p.log.Debug("metadata pool sized", "size", size)
	return nil
}

// ReserveBuffer hands out a buffer, reusing a released one when possible
func (p *BufferPool) ReserveBuffer() (*MetaBuf, error) {
	const op = "META_RESERVE"

	if p.size == 0 {
		return nil, errs.New(op, errs.ErrCodeInvalidState, "metadata allocation size not set")
	}

	if mb, ok := p.released.DeleteMin(); ok {
		p.reserved.ReplaceOrInsert(mb)
		p.metrics.RecordMetaReserve(true)
		return mb, nil
	}

	id, ok := p.mintID()
	if !ok {
		return nil, errs.Newf(op, errs.ErrCodeCapacity, "all %d metadata ids in use", uapi.MaxMetaUniqueID+1)
	}

	if err := p.drv.MetaAlloc(id); err != nil {
		e := errs.Wrap(op, err)
		e.Code = errs.ErrCodeCapacity
		return nil, e
	}

	off := uapi.MmapOffset(uapi.MMR_META, id, p.pageSize)
	b, err := p.drv.Mmap(off, int(p.size), unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		if derr := p.drv.MetaDelete(id); derr != nil {
			p.log.Error("failed to free metadata buffer after mmap failure", "id", id, "error", derr)
		}
		return nil, errs.Wrap(op, err)
	}

	mb := &MetaBuf{id: id, buf: b}
	p.reserved.ReplaceOrInsert(mb)
	p.metrics.RecordMetaReserve(false)
	p.log.Debug("metadata buffer allocated", "id", id, "size", p.size)
	return mb, nil
}

// mintID returns the next id not held by any reserved buffer. Called only
// when the released set is empty.
func (p *BufferPool) mintID() (uint32, bool) {
	for i := 0; i <= uapi.MaxMetaUniqueID; i++ {
		id := p.nextID
		p.nextID = (p.nextID + 1) & uapi.MaxMetaUniqueID
		if !p.reserved.Has(&MetaBuf{id: id}) {
			return id, true
		}
	}
	return 0, false
}

// ReleaseBuffer returns a buffer for reuse without contacting the driver
func (p *BufferPool) ReleaseBuffer(mb *MetaBuf) error {
	if mb == nil {
		return nil
	}
	held, ok := p.reserved.Delete(mb)
	if !ok || held != mb {
		if ok {
			p.reserved.ReplaceOrInsert(held)
		}
		return errs.Newf("META_RELEASE", errs.ErrCodeNotFound, "metadata buffer %d is not reserved", mb.id)
	}
	p.released.ReplaceOrInsert(mb)
	p.metrics.RecordMetaRelease()
	return nil
}

// FreeAll unmaps and deletes every buffer and clears the allocation size.
// It keeps going past individual failures and reports them together.
func (p *BufferPool) FreeAll() error {
	var failures []error
	reserved := p.reserved.Len()
	freed := 0

	free := func(mb *MetaBuf) bool {
		if err := p.drv.Munmap(mb.buf); err != nil {
			failures = append(failures, errs.Wrap("META_MUNMAP", err))
		}
		// A disable already released the driver side of every buffer
		if err := p.drv.MetaDelete(mb.id); err != nil && !errors.Is(err, unix.ENOENT) {
			failures = append(failures, errs.Wrap("META_DELETE", err))
		}
		mb.buf = nil
		freed++
		return true
	}
	p.reserved.Ascend(free)
	p.released.Ascend(free)

	p.reserved.Clear(false)
	p.released.Clear(false)
	p.size = 0
	p.nextID = 0
	p.metrics.RecordMetaFree(freed, reserved)

	if freed > 0 {
		p.log.Debug("metadata pool drained", "buffers", freed, "failures", len(failures))
	}
	return errors.Join(failures...)
}
