package uapi

import (
	"fmt"
	"unsafe"
)

// NvmeCreateAdmnQ must match struct nvme_create_admn_q:
//
//	struct nvme_create_admn_q {
//	  enum nvme_qtype type;  // ADMIN_SQ or ADMIN_CQ
//	  uint32_t elements;     // number of queue entries
//	};
type NvmeCreateAdmnQ struct {
	Type     uint32
	Elements uint32
}

var _ [8]byte = [unsafe.Sizeof(NvmeCreateAdmnQ{})]byte{}

// NvmePrepSQ must match struct nvme_prep_sq
type NvmePrepSQ struct {
	Elements uint32 // number of entries
	SQID     uint16 // submission queue id
	CQID     uint16 // paired completion queue id
	Contig   uint8  // 1 when the driver allocates the ring
	SQPrio   uint8  // queue priority class
	Pad      uint16
}

var _ [12]byte = [unsafe.Sizeof(NvmePrepSQ{})]byte{}

// NvmePrepCQ must match struct nvme_prep_cq
type NvmePrepCQ struct {
	CQID     uint16
	Pad      uint16
	Elements uint32
	Contig   uint8
	Pad1     [3]uint8
}

var _ [12]byte = [unsafe.Sizeof(NvmePrepCQ{})]byte{}

// Nvme64BSend must match struct nvme_64b_send.
// The driver copies the command at CmdBufPtr to the SQ tail, assigns a
// unique command identifier and writes it back into the command buffer.
type Nvme64BSend struct {
	QID         uint16 // submission queue id
	Pad         uint16 // padding
	BitMask     uint32 // MASK_* fields the driver should populate
	MetaBufID   uint32 // metadata buffer id (valid when MASK_MPTR set)
	DataBufSize uint32 // payload size in bytes
	DataBufPtr  uint64 // payload address (may be 0)
	CmdBufPtr   uint64 // raw command buffer address
	DataDir     uint32 // DMA_* direction
	Pad1        uint32 // padding
}

var _ [40]byte = [unsafe.Sizeof(Nvme64BSend{})]byte{}

// NvmeGetQMetrics must match struct nvme_get_q_metrics
type NvmeGetQMetrics struct {
	QID    uint16
	Pad    uint16
	Type   uint32 // METRICS_SQ or METRICS_CQ
	NBytes uint32 // size of Buffer
	Pad1   uint32
	Buffer uint64
}

var _ [24]byte = [unsafe.Sizeof(NvmeGetQMetrics{})]byte{}

// NvmeReapInquiry must match struct nvme_reap_inquiry
type NvmeReapInquiry struct {
	QID          uint16 // completion queue id
	Pad          uint16
	NumRemaining uint32 // out: completions visible and not yet reaped
	ISRCount     uint32 // out: interrupts fired for this CQ
}

var _ [12]byte = [unsafe.Sizeof(NvmeReapInquiry{})]byte{}

// NvmeReap must match struct nvme_reap
type NvmeReap struct {
	QID          uint16
	Pad          uint16
	Elements     uint32 // in: max entries to copy
	NumRemaining uint32 // out
	NumReaped    uint32 // out
	ISRCount     uint32 // out
	Size         uint32 // in: size of Buffer in bytes
	Buffer       uint64
}

var _ [32]byte = [unsafe.Sizeof(NvmeReap{})]byte{}

// NvmeRWGeneric must match struct rwg for register access
type NvmeRWGeneric struct {
	Type    uint32 // NVMEIO_PCI_HDR or NVMEIO_BAR01
	Offset  uint32
	NBytes  uint32
	AccType uint32 // *_LEN access width
	Buffer  uint64
}

var _ [24]byte = [unsafe.Sizeof(NvmeRWGeneric{})]byte{}

// IrqActive is embedded in NvmeDeviceMetrics
type IrqActive struct {
	IrqType uint32
	NumIrqs uint16
	Pad     uint16
}

// NvmeDeviceMetrics must match struct nvme_device_metrics
type NvmeDeviceMetrics struct {
	IrqActive IrqActive
}

var _ [8]byte = [unsafe.Sizeof(NvmeDeviceMetrics{})]byte{}

// BackdoorInject must match struct backdoor_inject used by the toxic ioctl.
// Value replaces the bits selected by ValueMask in DWORD Dword of the
// entry at CmdPtr in queue QID.
type BackdoorInject struct {
	QID       uint16
	CmdPtr    uint16 // SQ index of the staged entry
	Dword     uint8
	Pad       [3]uint8
	ValueMask uint32
	Value     uint32
}

var _ [16]byte = [unsafe.Sizeof(BackdoorInject{})]byte{}

// QueueMetricsSQ is the GET_Q_METRICS payload for a submission queue
type QueueMetricsSQ struct {
	SQID     uint16
	CQID     uint16
	TailPtr  uint16
	TailVirt uint16
	HeadPtr  uint16
	Pad      uint16
	Elements uint32
}

var _ [16]byte = [unsafe.Sizeof(QueueMetricsSQ{})]byte{}

// QueueMetricsCQ is the GET_Q_METRICS payload for a completion queue
type QueueMetricsCQ struct {
	QID       uint16
	TailPtr   uint16
	HeadPtr   uint16
	Pad       uint16
	Elements  uint32
	IrqEnable uint8
	PBit      uint8
	Pad1      uint16
	IrqNo     uint16
	Pad2      uint16
}

var _ [20]byte = [unsafe.Sizeof(QueueMetricsCQ{})]byte{}

// DevicePath returns the character device path for an NVMe index
func DevicePath(index int) string {
	return fmt.Sprintf("%s%d", NVME_DEV_PREFIX, index)
}

// NvmeFile must match struct nvme_file used by NVME_DUMP_METRICS
type NvmeFile struct {
	FLen     uint16 // length of FileName including the terminating NUL
	Pad      [6]uint8
	FileName uint64
}

var _ [16]byte = [unsafe.Sizeof(NvmeFile{})]byte{}
