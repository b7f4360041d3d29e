// Package uapi provides the fixed ioctl/mmap contract of the NVMe test driver
package uapi

// ioctl numbers, in driver enumeration order
const (
	NVME_ERR_CHK             = 0x00
	NVME_READ_GENERIC        = 0x01
	NVME_WRITE_GENERIC       = 0x02
	NVME_CREATE_ADMN_Q       = 0x03
	NVME_DEVICE_STATE        = 0x04
	NVME_SEND_64B_CMD        = 0x05
	NVME_GET_Q_METRICS       = 0x06
	NVME_PREPARE_SQ_CREATION = 0x07
	NVME_PREPARE_CQ_CREATION = 0x08
	NVME_RING_SQ_DOORBELL    = 0x09
	NVME_DUMP_METRICS        = 0x0a
	NVME_REAP_INQUIRY        = 0x0b
	NVME_REAP                = 0x0c
	NVME_GET_DRIVER_METRICS  = 0x0d
	NVME_METABUF_ALLOC       = 0x0e
	NVME_METABUF_CREATE      = 0x0f
	NVME_METABUF_DEL         = 0x10
	NVME_SET_IRQ             = 0x11
	NVME_GET_DEVICE_METRICS  = 0x12
	NVME_MASK_IRQ            = 0x13
	NVME_UNMASK_IRQ          = 0x14
	NVME_MARK_SYSFS_INVALID  = 0x15
	NVME_TOXIC_64B_DWORD     = 0x16
)

// NvmeIocMagic is the driver's ioctl type byte
const NvmeIocMagic = 'N'

// Device states accepted by NVME_DEVICE_STATE
const (
	ST_ENABLE              = 0
	ST_DISABLE             = 1 // keeps admin queues
	ST_DISABLE_COMPLETELY  = 2
	ST_NVM_SUBSYSTEM_RESET = 3
)

// Data directions, matching the kernel's enum dma_data_direction
const (
	DMA_BIDIRECTIONAL = 0
	DMA_TO_DEVICE     = 1
	DMA_FROM_DEVICE   = 2
	DMA_NONE          = 3
)

// Send bitmask: which PRP/metadata fields the driver populates
const (
	MASK_PRP1_PAGE = 1 << 0
	MASK_PRP1_LIST = 1 << 1
	MASK_PRP2_PAGE = 1 << 2
	MASK_PRP2_LIST = 1 << 3
	MASK_MPTR      = 1 << 4

	MASK_PRP_ALL = MASK_PRP1_PAGE | MASK_PRP1_LIST | MASK_PRP2_PAGE | MASK_PRP2_LIST
)

// Queue element kinds for CREATE_ADMN_Q and GET_Q_METRICS
const (
	ADMIN_SQ   = 0
	ADMIN_CQ   = 1
	METRICS_SQ = 0
	METRICS_CQ = 1
)

// Register spaces for generic read/write
const (
	NVMEIO_PCI_HDR = 0
	NVMEIO_BAR01   = 1
)

// Register access widths
const (
	BYTE_LEN  = 0
	WORD_LEN  = 1
	DWORD_LEN = 2
	QUAD_LEN  = 3
)

// IRQ schemes reported by NVME_GET_DEVICE_METRICS
const (
	INT_MSI_SINGLE = 0
	INT_MSI_MULTI  = 1
	INT_MSIX       = 2
	INT_NONE       = 255
)

// mmap regions. The page offset handed to mmap encodes (region << 18) | id.
const (
	MMR_SQ   = 0
	MMR_CQ   = 1
	MMR_META = 2

	MetaUniqueIDBits = 18
	MaxMetaUniqueID  = 1<<MetaUniqueIDBits - 1
)

// Wire sizes
const (
	CommandSize = 64
	CESize      = 16
	DwordSize   = 4
)

// Limits
const (
	MinQueueEntries    = 2
	MaxAdminQueueDepth = 4096
	MaxIOQueueDepth    = 65536
)

// ioctl encoding constants
const (
	_IOC_NONE      = 0
	_IOC_WRITE     = 1
	_IOC_READ      = 2
	_IOC_SIZEBITS  = 14
	_IOC_DIRBITS   = 2
	_IOC_TYPEBITS  = 8
	_IOC_NRBITS    = 8
	_IOC_NRSHIFT   = 0
	_IOC_TYPESHIFT = _IOC_NRSHIFT + _IOC_NRBITS
	_IOC_SIZESHIFT = _IOC_TYPESHIFT + _IOC_TYPEBITS
	_IOC_DIRSHIFT  = _IOC_SIZESHIFT + _IOC_SIZEBITS
)

// IoctlEncode creates an ioctl command number
func IoctlEncode(dir, typ, nr, size uint32) uint32 {
	return (dir << _IOC_DIRSHIFT) |
		(size << _IOC_SIZESHIFT) |
		(typ << _IOC_TYPESHIFT) |
		(nr << _IOC_NRSHIFT)
}

// IoWR encodes a read/write ioctl carrying a record of the given size
func IoWR(nr, size uint32) uint32 {
	return IoctlEncode(_IOC_READ|_IOC_WRITE, NvmeIocMagic, nr, size)
}

// IoW encodes a write-only ioctl
func IoW(nr, size uint32) uint32 {
	return IoctlEncode(_IOC_WRITE, NvmeIocMagic, nr, size)
}

// IoR encodes a read-only ioctl
func IoR(nr, size uint32) uint32 {
	return IoctlEncode(_IOC_READ, NvmeIocMagic, nr, size)
}

// MmapOffset encodes a region/id pair into the byte offset handed to mmap
func MmapOffset(region, id uint32, pageSize int) int64 {
	return int64((region<<MetaUniqueIDBits)|(id&MaxMetaUniqueID)) * int64(pageSize)
}

// Device file paths
const (
	NVME_DEV_PREFIX = "/dev/nvme"
)
