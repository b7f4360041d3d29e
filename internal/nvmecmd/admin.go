package nvmecmd

import (
	"unsafe"

	"github.com/ehrlich-b/go-tnvme/internal/constants"
	"github.com/ehrlich-b/go-tnvme/internal/mem"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// Admin command opcodes
const (
	OpcDeleteIOSQ  = 0x00
	OpcCreateIOSQ  = 0x01
	OpcGetLogPage  = 0x02
	OpcDeleteIOCQ  = 0x04
	OpcCreateIOCQ  = 0x05
	OpcIdentify    = 0x06
	OpcAbort       = 0x08
	OpcSetFeatures = 0x09
	OpcGetFeatures = 0x0a
)

// QueueInfo is what a queue-creation command needs to know about the
// queue it creates
type QueueInfo interface {
	QID() uint16
	NumEntries() uint32
	IsContig() bool
	// Memory returns the caller-owned ring of a discontiguous queue
	Memory() *mem.Region
}

// CQInfo adds the interrupt configuration of a completion queue
type CQInfo interface {
	QueueInfo
	IrqEnabled() bool
	IrqVector() uint16
}

// SQInfo adds the pairing and priority of a submission queue
type SQInfo interface {
	QueueInfo
	CQID() uint16
	Priority() uint8
}

// bindQueueMemory points PRP1 at the queue. Contiguous queues live in
// driver memory the driver fills in itself.
func bindQueueMemory(c *Command, q QueueInfo) error {
	if q.IsContig() {
		c.SetPrpAllowed(uapi.MASK_PRP1_PAGE)
		return c.BindReadOnly(uapi.MASK_PRP1_PAGE, nil, 0)
	}

	c.SetPrpAllowed(uapi.MASK_PRP1_LIST)
	var ptr unsafe.Pointer
	size := 0
	if m := q.Memory(); m != nil && m.Size() > 0 {
		ptr = unsafe.Pointer(unsafe.SliceData(m.Bytes()))
		size = m.Size()
	}
	return c.BindReadOnly(uapi.MASK_PRP1_LIST, ptr, size)
}

// CreateIOCQ is the Create I/O Completion Queue admin command
type CreateIOCQ struct {
	Command
}

func NewCreateIOCQ() *CreateIOCQ {
	c := &CreateIOCQ{}
	c.Init(OpcCreateIOCQ, DirToDevice, uapi.CommandSize)
	return c
}

// SetQueue fills DW10-11 from cq and references its memory
func (c *CreateIOCQ) SetQueue(cq CQInfo) error {
	c.SetWord(cq.QID(), 10, 0)
	c.SetWord(uint16(cq.NumEntries()-1), 10, 1)
	c.SetBit(cq.IsContig(), 11, 0)
	c.SetBit(cq.IrqEnabled(), 11, 1)
	c.SetWord(cq.IrqVector(), 11, 1)
	return bindQueueMemory(&c.Command, cq)
}

// CreateIOSQ is the Create I/O Submission Queue admin command
type CreateIOSQ struct {
	Command
}

func NewCreateIOSQ() *CreateIOSQ {
	c := &CreateIOSQ{}
	c.Init(OpcCreateIOSQ, DirToDevice, uapi.CommandSize)
	return c
}

// SetQueue fills DW10-11 from sq and references its memory
func (c *CreateIOSQ) SetQueue(sq SQInfo) error {
	c.SetWord(sq.QID(), 10, 0)
	c.SetWord(uint16(sq.NumEntries()-1), 10, 1)
	dw11 := uint32(sq.CQID())<<16 | uint32(sq.Priority()&0x3)<<1
	if sq.IsContig() {
		dw11 |= 1
	}
	c.SetDword(dw11, 11)
	return bindQueueMemory(&c.Command, sq)
}

// DeleteIOSQ is the Delete I/O Submission Queue admin command
type DeleteIOSQ struct {
	Command
}

func NewDeleteIOSQ() *DeleteIOSQ {
	c := &DeleteIOSQ{}
	c.Init(OpcDeleteIOSQ, DirNone, uapi.CommandSize)
	return c
}

func (c *DeleteIOSQ) SetQID(qid uint16) { c.SetWord(qid, 10, 0) }
func (c *DeleteIOSQ) QID() uint16       { return c.GetWord(10, 0) }

// DeleteIOCQ is the Delete I/O Completion Queue admin command
type DeleteIOCQ struct {
	Command
}

func NewDeleteIOCQ() *DeleteIOCQ {
	c := &DeleteIOCQ{}
	c.Init(OpcDeleteIOCQ, DirNone, uapi.CommandSize)
	return c
}

func (c *DeleteIOCQ) SetQID(qid uint16) { c.SetWord(qid, 10, 0) }
func (c *DeleteIOCQ) QID() uint16       { return c.GetWord(10, 0) }

// Identify CNS values
const (
	CNSNamespace  = 0x00
	CNSController = 0x01
	CNSNSList     = 0x02
)

// Identify is the Identify admin command. Its payload is always one
// IdentifyDataSize structure.
type Identify struct {
	Command
}

func NewIdentify() *Identify {
	c := &Identify{}
	c.Init(OpcIdentify, DirFromDevice, uapi.CommandSize)
	c.SetPrpAllowed(uapi.MASK_PRP1_PAGE | uapi.MASK_PRP2_PAGE)
	return c
}

func (c *Identify) SetCNS(cns uint8) { c.SetByte(cns, 10, 0) }
func (c *Identify) CNS() uint8       { return c.GetByte(10, 0) }

func (c *Identify) SetCNTID(id uint16) { c.SetWord(id, 10, 1) }

// BindData binds a fresh page-aligned identify buffer and returns it
func (c *Identify) BindData() (*mem.Region, error) {
	buf := mem.New()
	if err := buf.InitAlignment(constants.IdentifyDataSize, mem.PageSize, 0); err != nil {
		return nil, err
	}
	if err := c.BindWritable(uapi.MASK_PRP1_PAGE|uapi.MASK_PRP2_PAGE, buf); err != nil {
		buf.Free()
		return nil, err
	}
	return buf, nil
}
