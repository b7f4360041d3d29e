// Package simdrv is an in-memory stand-in for the NVMe test driver. It
// honors the same ioctl and mmap contract as the real driver and executes a
// small set of admin and NVM commands when a doorbell is rung, which is
// enough to run the harness core without hardware.
package simdrv

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-tnvme/internal/interfaces"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// Controller register offsets in BAR0
const (
	RegCAP  = 0x00
	RegVS   = 0x08
	RegCC   = 0x14
	RegCSTS = 0x1c
	RegAQA  = 0x24
)

const (
	// DefaultMQES is the 0-based maximum queue entries advertised in CAP
	DefaultMQES = 1023

	// LBASize of the single simulated namespace
	LBASize = 512

	// NamespaceBlocks is the capacity of namespace 1 in LBAs
	NamespaceBlocks = 1 << 16
)

type staged struct {
	slot uint32
	data []byte
}

type subQueue struct {
	id       uint16
	cqid     uint16
	elements uint32
	ring     []byte
	tail     uint32
	head     uint32
	nextCID  uint16
	staged   []staged
}

type complQueue struct {
	id       uint16
	elements uint32
	ring     []byte
	tail     uint32
	phase    bool
	pending  []uapi.CE
	irq      bool
	vector   uint16
}

// Driver implements interfaces.Driver in memory. It is not safe for
// concurrent use, matching the single-tester model of the harness.
type Driver struct {
	pageSize int
	state    uint32

	sqs    map[uint16]*subQueue
	cqs    map[uint16]*complQueue
	prepSQ map[uint16]*subQueue
	prepCQ map[uint16]*complQueue

	metaSize uint32
	meta     map[uint32][]byte

	bar0 []byte
	pci  []byte

	blocks map[uint64][]byte

	calls map[string]int

	// Stalled makes doorbells accept work that never completes
	Stalled bool

	// MmapErr, when set, fails the next Mmap call and is then cleared
	MmapErr error

	// MunmapErr, when set, fails every Munmap call
	MunmapErr error

	closed bool
}

var _ interfaces.Driver = (*Driver)(nil)

// New returns a simulated controller in the disabled state
func New() *Driver {
	d := &Driver{
		pageSize: os.Getpagesize(),
		state:    uapi.ST_DISABLE_COMPLETELY,
		sqs:      make(map[uint16]*subQueue),
		cqs:      make(map[uint16]*complQueue),
		prepSQ:   make(map[uint16]*subQueue),
		prepCQ:   make(map[uint16]*complQueue),
		meta:     make(map[uint32][]byte),
		bar0:     make([]byte, 0x1000),
		pci:      make([]byte, 0x100),
		blocks:   make(map[uint64][]byte),
		calls:    make(map[string]int),
	}
	d.SetMaxQueueEntries(DefaultMQES)
	binary.LittleEndian.PutUint32(d.bar0[RegVS:], 0x00010400)
	binary.LittleEndian.PutUint16(d.pci[0:], 0x1b36) // vendor id
	binary.LittleEndian.PutUint16(d.pci[2:], 0x0010) // device id
	return d
}

// SetMaxQueueEntries sets CAP.MQES (0-based)
func (d *Driver) SetMaxQueueEntries(mqes uint16) {
	v := binary.LittleEndian.Uint64(d.bar0[RegCAP:])
	v = v&^0xffff | uint64(mqes)
	v |= 1 << 16          // CQR: queues must be physically contiguous
	v |= uint64(20) << 24 // TO: 10s
	binary.LittleEndian.PutUint64(d.bar0[RegCAP:], v)
}

func (d *Driver) mqes() uint32 {
	return uint32(binary.LittleEndian.Uint16(d.bar0[RegCAP:]))
}

// Calls returns how many times an ioctl (by name) was issued
func (d *Driver) Calls(name string) int {
	return d.calls[name]
}

// State returns the last state set with SetState
func (d *Driver) State() uint32 {
	return d.state
}

// HasSQ and HasCQ report whether a queue exists on the controller
func (d *Driver) HasSQ(qid uint16) bool { _, ok := d.sqs[qid]; return ok }
func (d *Driver) HasCQ(qid uint16) bool { _, ok := d.cqs[qid]; return ok }

// MetaBuffers returns how many metadata buffers the driver holds
func (d *Driver) MetaBuffers() int {
	return len(d.meta)
}

// Staged returns how many entries wait for a doorbell on an SQ
func (d *Driver) Staged(qid uint16) int {
	if q, ok := d.sqs[qid]; ok {
		return len(q.staged)
	}
	return 0
}

// Complete processes the staged entries of a stalled SQ as a doorbell would
func (d *Driver) Complete(qid uint16) error {
	q, ok := d.sqs[qid]
	if !ok {
		return unix.EINVAL
	}
	d.process(q)
	return nil
}

func (d *Driver) count(name string) error {
	d.calls[name]++
	if d.closed {
		return unix.EBADF
	}
	return nil
}

func (d *Driver) CreateAdminQueue(qtype uint32, elements uint32) error {
	if err := d.count("CREATE_ADMN_Q"); err != nil {
		return err
	}
	if d.state == uapi.ST_ENABLE {
		return unix.EPERM
	}
	if elements < uapi.MinQueueEntries || elements > uapi.MaxAdminQueueDepth {
		return unix.EINVAL
	}

	switch qtype {
	case uapi.ADMIN_SQ:
		d.sqs[0] = &subQueue{elements: elements, ring: make([]byte, int(elements)*uapi.CommandSize)}
	case uapi.ADMIN_CQ:
		d.cqs[0] = &complQueue{elements: elements, ring: make([]byte, int(elements)*uapi.CESize), phase: true}
	default:
		return unix.EINVAL
	}
	return nil
}

func (d *Driver) PrepareSQ(prep *uapi.NvmePrepSQ) error {
	if err := d.count("PREPARE_SQ_CREATION"); err != nil {
		return err
	}
	if prep.SQID == 0 || prep.Elements < uapi.MinQueueEntries {
		return unix.EINVAL
	}
	if _, ok := d.sqs[prep.SQID]; ok {
		return unix.EEXIST
	}
	q := &subQueue{id: prep.SQID, cqid: prep.CQID, elements: prep.Elements}
	if prep.Contig != 0 {
		q.ring = make([]byte, int(prep.Elements)*uapi.CommandSize)
	}
	d.prepSQ[prep.SQID] = q
	return nil
}

func (d *Driver) PrepareCQ(prep *uapi.NvmePrepCQ) error {
	if err := d.count("PREPARE_CQ_CREATION"); err != nil {
		return err
	}
	if prep.CQID == 0 || prep.Elements < uapi.MinQueueEntries {
		return unix.EINVAL
	}
	if _, ok := d.cqs[prep.CQID]; ok {
		return unix.EEXIST
	}
	q := &complQueue{id: prep.CQID, elements: prep.Elements, phase: true}
	if prep.Contig != 0 {
		q.ring = make([]byte, int(prep.Elements)*uapi.CESize)
	}
	d.prepCQ[prep.CQID] = q
	return nil
}

func (d *Driver) Send64B(req *interfaces.SendRequest) error {
	if err := d.count("SEND_64B_CMD"); err != nil {
		return err
	}
	q, ok := d.sqs[req.QID]
	if !ok || len(req.Cmd) < uapi.CommandSize || q.ring == nil {
		return unix.EINVAL
	}
	if req.BitMask&uapi.MASK_MPTR != 0 {
		if _, ok := d.meta[req.MetaBufID]; !ok {
			return unix.EINVAL
		}
	}
	if (q.tail+1)%q.elements == q.head {
		return unix.EBUSY
	}

	cid := q.nextCID
	q.nextCID++
	binary.LittleEndian.PutUint16(req.Cmd[2:], cid)

	slot := q.tail
	copy(q.ring[int(slot)*uapi.CommandSize:], req.Cmd[:uapi.CommandSize])
	q.staged = append(q.staged, staged{slot: slot, data: req.Data})
	q.tail = (q.tail + 1) % q.elements
	return nil
}

func (d *Driver) RingDoorbell(qid uint16) error {
	if err := d.count("RING_SQ_DOORBELL"); err != nil {
		return err
	}
	q, ok := d.sqs[qid]
	if !ok {
		return unix.EINVAL
	}
	if !d.Stalled {
		d.process(q)
	}
	return nil
}

func (d *Driver) process(q *subQueue) {
	work := q.staged
	q.staged = nil
	for _, st := range work {
		cmd := q.ring[int(st.slot)*uapi.CommandSize : int(st.slot+1)*uapi.CommandSize]
		dw0, status := d.execute(q, cmd, st.data)
		q.head = (st.slot + 1) % q.elements

		cq, ok := d.cqs[q.cqid]
		if !ok {
			continue
		}
		cq.post(uapi.CE{
			DW0:    dw0,
			SQHD:   uint16(q.head),
			SQID:   q.id,
			CID:    binary.LittleEndian.Uint16(cmd[2:]),
			Status: status,
		})
	}
}

func (cq *complQueue) post(ce uapi.CE) {
	ce.Phase = cq.phase
	if cq.ring != nil {
		uapi.PutCE(cq.ring[int(cq.tail)*uapi.CESize:], &ce)
	}
	cq.tail++
	if cq.tail == cq.elements {
		cq.tail = 0
		cq.phase = !cq.phase
	}
	cq.pending = append(cq.pending, ce)
}

func (d *Driver) ReapInquiry(qid uint16) (uint32, error) {
	if err := d.count("REAP_INQUIRY"); err != nil {
		return 0, err
	}
	cq, ok := d.cqs[qid]
	if !ok {
		return 0, unix.EINVAL
	}
	return uint32(len(cq.pending)), nil
}

func (d *Driver) Reap(qid uint16, elements uint32, buf []byte) (interfaces.ReapResult, error) {
	if err := d.count("REAP"); err != nil {
		return interfaces.ReapResult{}, err
	}
	cq, ok := d.cqs[qid]
	if !ok {
		return interfaces.ReapResult{}, unix.EINVAL
	}

	n := min(int(elements), len(cq.pending), len(buf)/uapi.CESize)
	for i := 0; i < n; i++ {
		uapi.PutCE(buf[i*uapi.CESize:], &cq.pending[i])
	}
	cq.pending = cq.pending[n:]
	return interfaces.ReapResult{
		Remaining: uint32(len(cq.pending)),
		Reaped:    uint32(n),
	}, nil
}

func (d *Driver) QueueMetrics(qid uint16, qtype uint32, buf []byte) error {
	if err := d.count("GET_Q_METRICS"); err != nil {
		return err
	}

	switch qtype {
	case uapi.METRICS_SQ:
		q, ok := d.sqs[qid]
		if !ok {
			return unix.EINVAL
		}
		rec := uapi.QueueMetricsSQ{
			SQID:     qid,
			CQID:     q.cqid,
			TailPtr:  uint16(q.tail),
			TailVirt: uint16(q.tail),
			HeadPtr:  uint16(q.head),
			Elements: q.elements,
		}
		_, err := binary.Encode(buf, binary.LittleEndian, &rec)
		return err
	case uapi.METRICS_CQ:
		cq, ok := d.cqs[qid]
		if !ok {
			return unix.EINVAL
		}
		rec := uapi.QueueMetricsCQ{
			QID:      qid,
			TailPtr:  uint16(cq.tail),
			HeadPtr:  uint16((cq.tail + cq.elements - uint32(len(cq.pending))%cq.elements) % cq.elements),
			Elements: cq.elements,
			IrqNo:    cq.vector,
		}
		if cq.irq {
			rec.IrqEnable = 1
		}
		if cq.phase {
			rec.PBit = 1
		}
		_, err := binary.Encode(buf, binary.LittleEndian, &rec)
		return err
	}
	return unix.EINVAL
}

func (d *Driver) MetaCreate(size uint32) error {
	if err := d.count("METABUF_CREATE"); err != nil {
		return err
	}
	if size == 0 || (len(d.meta) > 0 && size != d.metaSize) {
		return unix.EINVAL
	}
	d.metaSize = size
	return nil
}

func (d *Driver) MetaAlloc(id uint32) error {
	if err := d.count("METABUF_ALLOC"); err != nil {
		return err
	}
	if d.metaSize == 0 || id > uapi.MaxMetaUniqueID {
		return unix.EINVAL
	}
	if _, ok := d.meta[id]; ok {
		return unix.EEXIST
	}
	d.meta[id] = make([]byte, d.metaSize)
	return nil
}

func (d *Driver) MetaDelete(id uint32) error {
	if err := d.count("METABUF_DEL"); err != nil {
		return err
	}
	if _, ok := d.meta[id]; !ok {
		return unix.ENOENT
	}
	delete(d.meta, id)
	return nil
}

func (d *Driver) DeviceMetrics() (uapi.NvmeDeviceMetrics, error) {
	if err := d.count("GET_DEVICE_METRICS"); err != nil {
		return uapi.NvmeDeviceMetrics{}, err
	}
	return uapi.NvmeDeviceMetrics{IrqActive: uapi.IrqActive{IrqType: uapi.INT_NONE}}, nil
}

func (d *Driver) space(space uint32) ([]byte, error) {
	switch space {
	case uapi.NVMEIO_BAR01:
		return d.bar0, nil
	case uapi.NVMEIO_PCI_HDR:
		return d.pci, nil
	}
	return nil, unix.EINVAL
}

func (d *Driver) ReadGeneric(space, offset uint32, buf []byte, accType uint32) error {
	if err := d.count("READ_GENERIC"); err != nil {
		return err
	}
	regs, err := d.space(space)
	if err != nil {
		return err
	}
	if int(offset)+len(buf) > len(regs) {
		return unix.EINVAL
	}
	copy(buf, regs[offset:])
	return nil
}

func (d *Driver) WriteGeneric(space, offset uint32, buf []byte, accType uint32) error {
	if err := d.count("WRITE_GENERIC"); err != nil {
		return err
	}
	regs, err := d.space(space)
	if err != nil {
		return err
	}
	if int(offset)+len(buf) > len(regs) {
		return unix.EINVAL
	}
	copy(regs[offset:], buf)
	return nil
}

func (d *Driver) SetState(state uint32) error {
	if err := d.count("DEVICE_STATE"); err != nil {
		return err
	}

	cc := binary.LittleEndian.Uint32(d.bar0[RegCC:])
	switch state {
	case uapi.ST_ENABLE:
		if !d.HasSQ(0) || !d.HasCQ(0) {
			return unix.EINVAL
		}
		binary.LittleEndian.PutUint32(d.bar0[RegCC:], cc|1)
		binary.LittleEndian.PutUint32(d.bar0[RegCSTS:], 1)
	case uapi.ST_DISABLE:
		d.reset(true)
		binary.LittleEndian.PutUint32(d.bar0[RegCC:], cc&^1)
		binary.LittleEndian.PutUint32(d.bar0[RegCSTS:], 0)
	case uapi.ST_DISABLE_COMPLETELY, uapi.ST_NVM_SUBSYSTEM_RESET:
		d.reset(false)
		binary.LittleEndian.PutUint32(d.bar0[RegCC:], cc&^1)
		binary.LittleEndian.PutUint32(d.bar0[RegCSTS:], 0)
	default:
		return unix.EINVAL
	}
	d.state = state
	return nil
}

// reset drops IO queues and metadata buffers; keepAdmin rewinds the admin
// pair instead of deleting it
func (d *Driver) reset(keepAdmin bool) {
	asq, acq := d.sqs[0], d.cqs[0]
	d.sqs = make(map[uint16]*subQueue)
	d.cqs = make(map[uint16]*complQueue)
	d.prepSQ = make(map[uint16]*subQueue)
	d.prepCQ = make(map[uint16]*complQueue)
	d.meta = make(map[uint32][]byte)
	d.metaSize = 0

	if keepAdmin && asq != nil && acq != nil {
		asq.head, asq.tail, asq.staged = 0, 0, nil
		acq.tail, acq.phase, acq.pending = 0, true, nil
		clear(asq.ring)
		clear(acq.ring)
		d.sqs[0], d.cqs[0] = asq, acq
	}
}

func (d *Driver) InjectToxic(inj *uapi.BackdoorInject) error {
	if err := d.count("TOXIC_64B_DWORD"); err != nil {
		return err
	}
	q, ok := d.sqs[inj.QID]
	if !ok || uint32(inj.CmdPtr) >= q.elements || inj.Dword >= uapi.CommandSize/uapi.DwordSize {
		return unix.EINVAL
	}
	off := int(inj.CmdPtr)*uapi.CommandSize + int(inj.Dword)*uapi.DwordSize
	v := binary.LittleEndian.Uint32(q.ring[off:])
	v = v&^inj.ValueMask | inj.Value&inj.ValueMask
	binary.LittleEndian.PutUint32(q.ring[off:], v)
	return nil
}

func (d *Driver) DumpMetrics(path string) error {
	if err := d.count("DUMP_METRICS"); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "state=%d meta_size=%d meta_buffers=%d\n", d.state, d.metaSize, len(d.meta))
	for _, id := range sortedKeys(d.sqs) {
		q := d.sqs[id]
		fmt.Fprintf(&b, "sq %d cq=%d elements=%d head=%d tail=%d staged=%d\n",
			id, q.cqid, q.elements, q.head, q.tail, len(q.staged))
	}
	for _, id := range sortedKeys(d.cqs) {
		q := d.cqs[id]
		fmt.Fprintf(&b, "cq %d elements=%d tail=%d pending=%d\n", id, q.elements, q.tail, len(q.pending))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func sortedKeys[V any](m map[uint16]V) []uint16 {
	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (d *Driver) Mmap(offset int64, length int, prot int) ([]byte, error) {
	if err := d.count("MMAP"); err != nil {
		return nil, err
	}
	if err := d.MmapErr; err != nil {
		d.MmapErr = nil
		return nil, err
	}
	if offset%int64(d.pageSize) != 0 {
		return nil, unix.EINVAL
	}

	pgoff := uint32(offset / int64(d.pageSize))
	region := pgoff >> uapi.MetaUniqueIDBits
	id := pgoff & uapi.MaxMetaUniqueID

	var mem []byte
	switch region {
	case uapi.MMR_SQ:
		if q, ok := d.sqs[uint16(id)]; ok {
			mem = q.ring
		} else if q, ok := d.prepSQ[uint16(id)]; ok {
			mem = q.ring
		}
	case uapi.MMR_CQ:
		if q, ok := d.cqs[uint16(id)]; ok {
			mem = q.ring
		} else if q, ok := d.prepCQ[uint16(id)]; ok {
			mem = q.ring
		}
	case uapi.MMR_META:
		mem = d.meta[id]
	}
	if mem == nil || length <= 0 || length > len(mem) {
		return nil, unix.EINVAL
	}
	return mem[:length:length], nil
}

func (d *Driver) Munmap(b []byte) error {
	if err := d.count("MUNMAP"); err != nil {
		return err
	}
	return d.MunmapErr
}

func (d *Driver) Close() error {
	d.closed = true
	return nil
}
