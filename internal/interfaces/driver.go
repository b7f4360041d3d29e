package interfaces

import "github.com/ehrlich-b/go-tnvme/internal/uapi"

// Driver is the fixed ioctl/mmap contract of the NVMe test driver. Every
// method maps to exactly one ioctl (or mmap/munmap) and performs no
// validation of its own beyond what the kernel does.
//
// Slices handed to a Driver are passed to the kernel by address. The caller
// must keep them alive and unmoved until the driver no longer references
// them, which for payloads means until the owning command has been reaped.
type Driver interface {
	// CreateAdminQueue allocates the admin SQ or CQ (uapi.ADMIN_SQ/ADMIN_CQ)
	CreateAdminQueue(qtype uint32, elements uint32) error

	// PrepareSQ and PrepareCQ stage the driver side of an IO queue before the
	// Create IO SQ/CQ admin command is sent. When Contig is set the driver
	// allocates ring memory the caller then maps.
	PrepareSQ(prep *uapi.NvmePrepSQ) error
	PrepareCQ(prep *uapi.NvmePrepCQ) error

	// Send64B copies req.Cmd to the tail of SQ req.QID without ringing the
	// doorbell, and writes the assigned command identifier back into req.Cmd.
	Send64B(req *SendRequest) error

	// RingDoorbell makes every staged entry of an SQ visible to hardware
	RingDoorbell(qid uint16) error

	// ReapInquiry reports how many completions are waiting on a CQ
	ReapInquiry(qid uint16) (remaining uint32, err error)

	// Reap copies up to elements completions into buf
	Reap(qid uint16, elements uint32, buf []byte) (ReapResult, error)

	// QueueMetrics fills buf with the uapi.QueueMetricsSQ/CQ record of a queue
	QueueMetrics(qid uint16, qtype uint32, buf []byte) error

	// Metadata buffers: Create fixes the pool-wide size, Alloc and Delete
	// manage one buffer, addressed by a unique id below 2^18.
	MetaCreate(size uint32) error
	MetaAlloc(id uint32) error
	MetaDelete(id uint32) error

	// DeviceMetrics reports the active interrupt scheme
	DeviceMetrics() (uapi.NvmeDeviceMetrics, error)

	// ReadGeneric and WriteGeneric access PCI config space or BAR0/1
	ReadGeneric(space, offset uint32, buf []byte, accType uint32) error
	WriteGeneric(space, offset uint32, buf []byte, accType uint32) error

	// SetState issues one of the uapi.ST_* controller transitions
	SetState(state uint32) error

	// InjectToxic overwrites bits of a staged SQ entry, bypassing all checks
	InjectToxic(inj *uapi.BackdoorInject) error

	// DumpMetrics asks the driver to write its internal state to path
	DumpMetrics(path string) error

	// Mmap maps driver memory at an offset built by uapi.MmapOffset
	Mmap(offset int64, length int, prot int) ([]byte, error)
	Munmap(b []byte) error

	Close() error
}

// SendRequest is the typed form of uapi.Nvme64BSend
type SendRequest struct {
	QID       uint16
	BitMask   uint32
	MetaBufID uint32
	Data      []byte // nil when the command moves no payload
	Cmd       []byte // raw command, receives the assigned CID
	DataDir   uint32
}

// ReapResult carries the counters returned by the reap ioctl
type ReapResult struct {
	Remaining uint32
	Reaped    uint32
	ISRCount  uint32
}

// StateObserver is notified after every controller state transition
type StateObserver interface {
	OnStateChange(state uint32)
}

// StateObserverFunc adapts a function to StateObserver
type StateObserverFunc func(state uint32)

func (f StateObserverFunc) OnStateChange(state uint32) { f(state) }
