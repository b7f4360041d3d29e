package nvmecmd

import (
	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/resource"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// MetaSource supplies fixed-size metadata buffers; *resource.BufferPool
// is the production implementation
type MetaSource interface {
	ReserveBuffer() (*resource.MetaBuf, error)
	ReleaseBuffer(mb *resource.MetaBuf) error
}

// MetaData is the optional metadata buffer of a command. An unbound
// MetaData is valid and adds nothing to the send bitmask.
type MetaData struct {
	dir DataDir
	src MetaSource
	buf *resource.MetaBuf
}

// AllocMetaBuffer draws a buffer from src, returning any buffer already
// held first
func (m *MetaData) AllocMetaBuffer(src MetaSource) error {
	const op = "META_ALLOC"

	if m.dir == DirNone {
		return errs.New(op, errs.ErrCodeConfiguration, "command has no data direction")
	}
	if src == nil {
		return errs.New(op, errs.ErrCodeConfiguration, "no metadata buffer source")
	}

	m.ReleaseMetaBuffer()

	mb, err := src.ReserveBuffer()
	if err != nil {
		e := errs.Wrap(op, err)
		e.Code = errs.ErrCodeCapacity
		return e
	}
	m.src = src
	m.buf = mb
	return nil
}

// ReleaseMetaBuffer returns the buffer to its source. Calling it when
// nothing is bound is a no-op.
func (m *MetaData) ReleaseMetaBuffer() {
	if m.buf == nil {
		return
	}
	// The pool may already have been drained by a disable, in which case
	// the buffer is gone and there is nothing to return
	_ = m.src.ReleaseBuffer(m.buf)
	m.buf = nil
	m.src = nil
}

// MetaBuffer returns the bound buffer's memory, or nil
func (m *MetaData) MetaBuffer() []byte {
	if m.buf == nil {
		return nil
	}
	return m.buf.Bytes()
}

// MetaBufferID returns the driver id of the bound buffer, 0 when unbound
func (m *MetaData) MetaBufferID() uint32 {
	if m.buf == nil {
		return 0
	}
	return m.buf.ID()
}

// MetaBitmask yields MASK_MPTR only while a buffer is bound
func (m *MetaData) MetaBitmask() uint32 {
	if m.buf == nil {
		return 0
	}
	return uapi.MASK_MPTR
}
