package nvmecmd

import (
	"fmt"
	"unsafe"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/mem"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// PrpData owns or references the payload of a command. Exactly one of a
// writable region or a read-only pointer may be bound; the read-only form
// is reserved for queue-creation commands that point at existing queue
// memory and can never be rebound.
type PrpData struct {
	dir       DataDir
	allowed   uint32
	requested uint32

	rw *mem.Region

	roBound bool
	roPtr   unsafe.Pointer
	roSize  int
}

// SetPrpAllowed restricts which PRP fields may be requested at bind time
func (p *PrpData) SetPrpAllowed(mask uint32) {
	p.allowed = mask & uapi.MASK_PRP_ALL
}

// PrpAllowed returns the fields this command variant may populate
func (p *PrpData) PrpAllowed() uint32 {
	return p.allowed
}

func (p *PrpData) checkFields(op string, fields uint32) error {
	if fields&^p.allowed != 0 {
		return errs.Newf(op, errs.ErrCodeConfiguration,
			"PRP fields 0x%x exceed allowed mask 0x%x", fields, p.allowed)
	}
	return nil
}

// BindWritable binds buf as the payload, replacing any earlier writable
// binding so the command can be reused across sends
func (p *PrpData) BindWritable(fields uint32, buf *mem.Region) error {
	const op = "BIND_RW"

	if p.dir == DirNone {
		return errs.New(op, errs.ErrCodeConfiguration, "command has no data direction")
	}
	if err := p.checkFields(op, fields); err != nil {
		return err
	}
	if p.roBound {
		return errs.New(op, errs.ErrCodeConfiguration, "read-only buffer already bound")
	}
	if buf == nil || buf.Size() == 0 {
		return errs.New(op, errs.ErrCodeConfiguration, "buffer is zero length")
	}

	p.rw = buf
	p.requested = fields
	return nil
}

// BindReadOnly references size bytes at ptr. ptr and size must both be
// zero or both be non-zero. The binding is permanent for this command.
func (p *PrpData) BindReadOnly(fields uint32, ptr unsafe.Pointer, size int) error {
	const op = "BIND_RO"

	if p.rw != nil {
		return errs.New(op, errs.ErrCodeConfiguration, "writable buffer already bound")
	}
	if p.roBound {
		return errs.New(op, errs.ErrCodeInvalidState, "read-only buffer cannot be rebound")
	}
	if (ptr == nil) != (size == 0) {
		return errs.New(op, errs.ErrCodeConfiguration,
			fmt.Sprintf("inconsistent buffer: ptr=%p size=%d", ptr, size))
	}
	if size < 0 {
		return errs.Newf(op, errs.ErrCodeConfiguration, "negative size %d", size)
	}
	if err := p.checkFields(op, fields); err != nil {
		return err
	}

	p.roBound = true
	p.roPtr = ptr
	p.roSize = size
	p.requested = fields
	return nil
}

// EffectiveBuffer returns the writable payload if bound, else the read-only
// memory, else nil
func (p *PrpData) EffectiveBuffer() []byte {
	if p.rw != nil {
		return p.rw.Bytes()
	}
	if p.roPtr != nil {
		return unsafe.Slice((*byte)(p.roPtr), p.roSize)
	}
	return nil
}

// WritableBuffer returns the bound writable region, or nil
func (p *PrpData) WritableBuffer() *mem.Region {
	return p.rw
}

// PrpBitmask is the set of PRP fields the driver should populate on send
func (p *PrpData) PrpBitmask() uint32 {
	if p.rw == nil && !p.roBound {
		return 0
	}
	return p.requested
}
