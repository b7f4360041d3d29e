// Package ctrl talks to the NVMe test driver through its character device:
// one ioctl per driver operation plus mmap for queue and metadata memory.
package ctrl

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-tnvme/internal/interfaces"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// Request codes, fixed by the driver's record sizes
var (
	ioctlReadGeneric   = uapi.IoWR(uapi.NVME_READ_GENERIC, uint32(unsafe.Sizeof(uapi.NvmeRWGeneric{})))
	ioctlWriteGeneric  = uapi.IoW(uapi.NVME_WRITE_GENERIC, uint32(unsafe.Sizeof(uapi.NvmeRWGeneric{})))
	ioctlCreateAdmnQ   = uapi.IoW(uapi.NVME_CREATE_ADMN_Q, uint32(unsafe.Sizeof(uapi.NvmeCreateAdmnQ{})))
	ioctlDeviceState   = uapi.IoW(uapi.NVME_DEVICE_STATE, 4)
	ioctlSend64B       = uapi.IoWR(uapi.NVME_SEND_64B_CMD, uint32(unsafe.Sizeof(uapi.Nvme64BSend{})))
	ioctlGetQMetrics   = uapi.IoWR(uapi.NVME_GET_Q_METRICS, uint32(unsafe.Sizeof(uapi.NvmeGetQMetrics{})))
	ioctlPrepareSQ     = uapi.IoW(uapi.NVME_PREPARE_SQ_CREATION, uint32(unsafe.Sizeof(uapi.NvmePrepSQ{})))
	ioctlPrepareCQ     = uapi.IoW(uapi.NVME_PREPARE_CQ_CREATION, uint32(unsafe.Sizeof(uapi.NvmePrepCQ{})))
	ioctlRingDoorbell  = uapi.IoW(uapi.NVME_RING_SQ_DOORBELL, 2)
	ioctlDumpMetrics   = uapi.IoW(uapi.NVME_DUMP_METRICS, uint32(unsafe.Sizeof(uapi.NvmeFile{})))
	ioctlReapInquiry   = uapi.IoWR(uapi.NVME_REAP_INQUIRY, uint32(unsafe.Sizeof(uapi.NvmeReapInquiry{})))
	ioctlReap          = uapi.IoWR(uapi.NVME_REAP, uint32(unsafe.Sizeof(uapi.NvmeReap{})))
	ioctlMetaAlloc     = uapi.IoW(uapi.NVME_METABUF_ALLOC, 4)
	ioctlMetaCreate    = uapi.IoW(uapi.NVME_METABUF_CREATE, 4)
	ioctlMetaDelete    = uapi.IoW(uapi.NVME_METABUF_DEL, 4)
	ioctlDeviceMetrics = uapi.IoR(uapi.NVME_GET_DEVICE_METRICS, uint32(unsafe.Sizeof(uapi.NvmeDeviceMetrics{})))
	ioctlToxic64BDword = uapi.IoW(uapi.NVME_TOXIC_64B_DWORD, uint32(unsafe.Sizeof(uapi.BackdoorInject{})))
)

// Device is an open test driver node
type Device struct {
	fd     int
	path   string
	logger *logging.Logger
}

var _ interfaces.Driver = (*Device)(nil)

// Open opens the driver node at path for exclusive read-write use
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &Device{
		fd:     fd,
		path:   path,
		logger: logging.Default(),
	}, nil
}

// Path returns the node the device was opened from
func (d *Device) Path() string {
	return d.path
}

// SetLogger sets the logger for this device
func (d *Device) SetLogger(logger *logging.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

// ioctl issues a request whose argument is a pointer to a record
func (d *Device) ioctl(name string, req uint32, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		d.logger.Debug("ioctl failed", "ioctl", name, "errno", errno)
		return errno
	}
	return nil
}

// ioctlValue issues a request whose argument is passed by value
func (d *Device) ioctlValue(name string, req uint32, val uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), uintptr(req), val)
	if errno != 0 {
		d.logger.Debug("ioctl failed", "ioctl", name, "errno", errno)
		return errno
	}
	return nil
}

func bufAddr(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}

func (d *Device) CreateAdminQueue(qtype uint32, elements uint32) error {
	q := uapi.NvmeCreateAdmnQ{Type: qtype, Elements: elements}
	return d.ioctl("CREATE_ADMN_Q", ioctlCreateAdmnQ, unsafe.Pointer(&q))
}

func (d *Device) PrepareSQ(prep *uapi.NvmePrepSQ) error {
	return d.ioctl("PREPARE_SQ_CREATION", ioctlPrepareSQ, unsafe.Pointer(prep))
}

func (d *Device) PrepareCQ(prep *uapi.NvmePrepCQ) error {
	return d.ioctl("PREPARE_CQ_CREATION", ioctlPrepareCQ, unsafe.Pointer(prep))
}

// Send64B hands the command and its payload to the driver, which writes
// the assigned CID back into req.Cmd
func (d *Device) Send64B(req *interfaces.SendRequest) error {
	if len(req.Cmd) < uapi.CommandSize {
		return unix.EINVAL
	}
	send := uapi.Nvme64BSend{
		QID:         req.QID,
		BitMask:     req.BitMask,
		MetaBufID:   req.MetaBufID,
		DataBufSize: uint32(len(req.Data)),
		DataBufPtr:  bufAddr(req.Data),
		CmdBufPtr:   bufAddr(req.Cmd),
		DataDir:     req.DataDir,
	}
	err := d.ioctl("SEND_64B_CMD", ioctlSend64B, unsafe.Pointer(&send))
	runtime.KeepAlive(req.Data)
	runtime.KeepAlive(req.Cmd)
	return err
}

func (d *Device) RingDoorbell(qid uint16) error {
	return d.ioctlValue("RING_SQ_DOORBELL", ioctlRingDoorbell, uintptr(qid))
}

func (d *Device) ReapInquiry(qid uint16) (uint32, error) {
	inq := uapi.NvmeReapInquiry{QID: qid}
	if err := d.ioctl("REAP_INQUIRY", ioctlReapInquiry, unsafe.Pointer(&inq)); err != nil {
		return 0, err
	}
	return inq.NumRemaining, nil
}

func (d *Device) Reap(qid uint16, elements uint32, buf []byte) (interfaces.ReapResult, error) {
	r := uapi.NvmeReap{
		QID:      qid,
		Elements: elements,
		Size:     uint32(len(buf)),
		Buffer:   bufAddr(buf),
	}
	err := d.ioctl("REAP", ioctlReap, unsafe.Pointer(&r))
	runtime.KeepAlive(buf)
	if err != nil {
		return interfaces.ReapResult{}, err
	}
	return interfaces.ReapResult{
		Remaining: r.NumRemaining,
		Reaped:    r.NumReaped,
		ISRCount:  r.ISRCount,
	}, nil
}

func (d *Device) QueueMetrics(qid uint16, qtype uint32, buf []byte) error {
	m := uapi.NvmeGetQMetrics{
		QID:    qid,
		Type:   qtype,
		NBytes: uint32(len(buf)),
		Buffer: bufAddr(buf),
	}
	err := d.ioctl("GET_Q_METRICS", ioctlGetQMetrics, unsafe.Pointer(&m))
	runtime.KeepAlive(buf)
	return err
}

func (d *Device) MetaCreate(size uint32) error {
	return d.ioctlValue("METABUF_CREATE", ioctlMetaCreate, uintptr(size))
}

func (d *Device) MetaAlloc(id uint32) error {
	return d.ioctlValue("METABUF_ALLOC", ioctlMetaAlloc, uintptr(id))
}

func (d *Device) MetaDelete(id uint32) error {
	return d.ioctlValue("METABUF_DEL", ioctlMetaDelete, uintptr(id))
}

func (d *Device) DeviceMetrics() (uapi.NvmeDeviceMetrics, error) {
	var dm uapi.NvmeDeviceMetrics
	err := d.ioctl("GET_DEVICE_METRICS", ioctlDeviceMetrics, unsafe.Pointer(&dm))
	return dm, err
}

func (d *Device) ReadGeneric(space, offset uint32, buf []byte, accType uint32) error {
	return d.rwGeneric("READ_GENERIC", ioctlReadGeneric, space, offset, buf, accType)
}

func (d *Device) WriteGeneric(space, offset uint32, buf []byte, accType uint32) error {
	return d.rwGeneric("WRITE_GENERIC", ioctlWriteGeneric, space, offset, buf, accType)
}

func (d *Device) rwGeneric(name string, req uint32, space, offset uint32, buf []byte, accType uint32) error {
	if len(buf) == 0 {
		return unix.EINVAL
	}
	rw := uapi.NvmeRWGeneric{
		Type:    space,
		Offset:  offset,
		NBytes:  uint32(len(buf)),
		AccType: accType,
		Buffer:  bufAddr(buf),
	}
	err := d.ioctl(name, req, unsafe.Pointer(&rw))
	runtime.KeepAlive(buf)
	return err
}

func (d *Device) SetState(state uint32) error {
	return d.ioctlValue("DEVICE_STATE", ioctlDeviceState, uintptr(state))
}

func (d *Device) InjectToxic(inj *uapi.BackdoorInject) error {
	return d.ioctl("TOXIC_64B_DWORD", ioctlToxic64BDword, unsafe.Pointer(inj))
}

// DumpMetrics asks the driver to write its internal state to path
func (d *Device) DumpMetrics(path string) error {
	name, err := unix.BytePtrFromString(path)
	if err != nil {
		return err
	}
	f := uapi.NvmeFile{
		FLen:     uint16(len(path) + 1),
		FileName: uint64(uintptr(unsafe.Pointer(name))),
	}
	err = d.ioctl("DUMP_METRICS", ioctlDumpMetrics, unsafe.Pointer(&f))
	runtime.KeepAlive(name)
	return err
}

func (d *Device) Mmap(offset int64, length int, prot int) ([]byte, error) {
	return unix.Mmap(d.fd, offset, length, prot, unix.MAP_SHARED)
}

func (d *Device) Munmap(b []byte) error {
	return unix.Munmap(b)
}
