package nvmecmd

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/mem"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

func newRegion(t *testing.T, size int) *mem.Region {
	t.Helper()
	r := mem.New()
	require.NoError(t, r.InitAlignment(size, mem.PageSize, 0))
	t.Cleanup(r.Free)
	return r
}

func TestBindWritable(t *testing.T) {
	c := NewCommand(OpcWrite, DirToDevice)
	buf := newRegion(t, 4096)

	require.NoError(t, c.BindWritable(uapi.MASK_PRP1_PAGE, buf))
	assert.Same(t, buf, c.WritableBuffer())
	assert.Equal(t, buf.Bytes(), c.EffectiveBuffer())
	assert.Equal(t, uint32(uapi.MASK_PRP1_PAGE), c.PrpBitmask())

	// Rebinding a writable buffer is how commands are reused
	other := newRegion(t, 8192)
	require.NoError(t, c.BindWritable(uapi.MASK_PRP1_PAGE|uapi.MASK_PRP2_PAGE, other))
	assert.Same(t, other, c.WritableBuffer())
	assert.Equal(t, uint32(uapi.MASK_PRP1_PAGE|uapi.MASK_PRP2_PAGE), c.PrpBitmask())
}

func TestBindWritableRejects(t *testing.T) {
	buf := newRegion(t, 512)

	none := NewCommand(OpcFlush, DirNone)
	err := none.BindWritable(uapi.MASK_PRP1_PAGE, buf)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))

	c := NewCommand(OpcRead, DirFromDevice)
	assert.True(t, errs.IsCode(c.BindWritable(uapi.MASK_PRP1_PAGE, nil), errs.ErrCodeConfiguration))
	assert.True(t, errs.IsCode(c.BindWritable(uapi.MASK_PRP1_PAGE, mem.New()), errs.ErrCodeConfiguration))

	c.SetPrpAllowed(uapi.MASK_PRP1_PAGE)
	err = c.BindWritable(uapi.MASK_PRP1_PAGE|uapi.MASK_PRP2_LIST, buf)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))
	assert.Zero(t, c.PrpBitmask(), "failed binds leave nothing requested")
}

func TestBindReadOnly(t *testing.T) {
	buf := newRegion(t, 4096)
	ptr := unsafe.Pointer(unsafe.SliceData(buf.Bytes()))

	c := NewCommand(OpcCreateIOSQ, DirToDevice)
	require.NoError(t, c.BindReadOnly(uapi.MASK_PRP1_LIST, ptr, buf.Size()))
	assert.Equal(t, uint32(uapi.MASK_PRP1_LIST), c.PrpBitmask())
	assert.Len(t, c.EffectiveBuffer(), 4096)
	assert.Nil(t, c.WritableBuffer())

	err := c.BindReadOnly(uapi.MASK_PRP1_LIST, ptr, buf.Size())
	assert.True(t, errs.IsCode(err, errs.ErrCodeInvalidState), "read-only bindings are permanent")

	err = c.BindWritable(uapi.MASK_PRP1_PAGE, buf)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration), "cannot mix bindings")
}

func TestBindReadOnlyEmpty(t *testing.T) {
	c := NewCommand(OpcCreateIOCQ, DirToDevice)
	require.NoError(t, c.BindReadOnly(uapi.MASK_PRP1_PAGE, nil, 0))
	assert.Nil(t, c.EffectiveBuffer())
	assert.Equal(t, uint32(uapi.MASK_PRP1_PAGE), c.PrpBitmask())
}

func TestBindReadOnlyInconsistent(t *testing.T) {
	buf := newRegion(t, 64)
	ptr := unsafe.Pointer(unsafe.SliceData(buf.Bytes()))

	c := NewCommand(OpcCreateIOCQ, DirToDevice)
	assert.True(t, errs.IsCode(c.BindReadOnly(uapi.MASK_PRP1_LIST, nil, 64), errs.ErrCodeConfiguration))
	assert.True(t, errs.IsCode(c.BindReadOnly(uapi.MASK_PRP1_LIST, ptr, 0), errs.ErrCodeConfiguration))

	w := NewWrite()
	require.NoError(t, w.BindWritable(uapi.MASK_PRP1_PAGE, buf))
	err := w.BindReadOnly(uapi.MASK_PRP1_PAGE, ptr, 64)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))
}

type fakeQueue struct {
	qid     uint16
	entries uint32
	contig  bool
	memory  *mem.Region
}

func (q fakeQueue) QID() uint16         { return q.qid }
func (q fakeQueue) NumEntries() uint32  { return q.entries }
func (q fakeQueue) IsContig() bool      { return q.contig }
func (q fakeQueue) Memory() *mem.Region { return q.memory }
func (q fakeQueue) IrqEnabled() bool    { return true }
func (q fakeQueue) IrqVector() uint16   { return 5 }
func (q fakeQueue) CQID() uint16        { return 9 }
func (q fakeQueue) Priority() uint8     { return 2 }

func TestCreateIOCQ(t *testing.T) {
	c := NewCreateIOCQ()
	require.NoError(t, c.SetQueue(fakeQueue{qid: 3, entries: 64, contig: true}))

	assert.Equal(t, uint8(OpcCreateIOCQ), c.Opcode())
	assert.Equal(t, uint32(63)<<16|3, c.GetDword(10))
	assert.Equal(t, uint32(5)<<16|0x3, c.GetDword(11))
	assert.Equal(t, uint32(uapi.MASK_PRP1_PAGE), c.PrpBitmask())
	assert.Nil(t, c.EffectiveBuffer(), "contiguous memory is the driver's")
}

func TestCreateIOSQDiscontig(t *testing.T) {
	ring := newRegion(t, 4096)

	c := NewCreateIOSQ()
	require.NoError(t, c.SetQueue(fakeQueue{qid: 4, entries: 16, memory: ring}))

	assert.Equal(t, uint32(15)<<16|4, c.GetDword(10))
	assert.Equal(t, uint32(9)<<16|2<<1, c.GetDword(11))
	assert.Equal(t, uint32(uapi.MASK_PRP1_LIST), c.PrpBitmask())
	assert.Len(t, c.EffectiveBuffer(), 4096)
}

func TestDeleteQueueCommands(t *testing.T) {
	dsq := NewDeleteIOSQ()
	dsq.SetQID(7)
	assert.Equal(t, uint16(7), dsq.QID())
	assert.Equal(t, uint8(OpcDeleteIOSQ), dsq.Opcode())

	dcq := NewDeleteIOCQ()
	dcq.SetQID(8)
	assert.Equal(t, uint32(8), dcq.GetDword(10))
	assert.Equal(t, uint8(OpcDeleteIOCQ), dcq.Opcode())
}

func TestIdentifyBindData(t *testing.T) {
	id := NewIdentify()
	id.SetCNS(CNSController)
	id.SetCNTID(0x22)
	assert.Equal(t, uint8(CNSController), id.CNS())
	assert.Equal(t, uint32(0x22)<<16|CNSController, id.GetDword(10))

	buf, err := id.BindData()
	require.NoError(t, err)
	defer buf.Free()
	assert.Equal(t, 4096, buf.Size())
	assert.Zero(t, buf.Addr()%uintptr(mem.PageSize))
	assert.Equal(t, uint32(uapi.MASK_PRP1_PAGE|uapi.MASK_PRP2_PAGE), id.PrpBitmask())
}
