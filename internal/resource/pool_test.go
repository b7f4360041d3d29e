package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
	"github.com/ehrlich-b/go-tnvme/internal/metrics"
	"github.com/ehrlich-b/go-tnvme/internal/simdrv"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

func newTestPool(t *testing.T, size uint32) (*BufferPool, *simdrv.Driver, *metrics.Metrics) {
	t.Helper()
	drv := simdrv.New()
	m := metrics.New()
	p := NewBufferPool(drv, logging.Nop(), m)
	if size > 0 {
		require.NoError(t, p.SetAllocationSize(size))
	}
	return p, drv, m
}

func TestReserveBeforeSize(t *testing.T) {
	p, drv, _ := newTestPool(t, 0)

	_, err := p.ReserveBuffer()
	assert.True(t, errs.IsCode(err, errs.ErrCodeInvalidState))
	assert.Zero(t, drv.Calls("METABUF_ALLOC"))

	assert.True(t, errs.IsCode(p.SetAllocationSize(0), errs.ErrCodeConfiguration))
}

func TestReserveMapsBuffer(t *testing.T) {
	p, drv, m := newTestPool(t, 256)

	mb, err := p.ReserveBuffer()
	require.NoError(t, err)
	assert.Equal(t, 256, mb.Size())
	assert.Equal(t, uint32(0), mb.ID())
	assert.Equal(t, 1, drv.MetaBuffers())

	// The mapping is the driver's buffer
	mb.Bytes()[0] = 0x5a
	mb2, err := p.ReserveBuffer()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), mb2.ID())
	assert.Zero(t, mb2.Bytes()[0])

	assert.Equal(t, 2, p.Reserved())
	assert.Equal(t, uint64(2), m.MetaDriverAllocs.Load())
}

func TestReleasedBuffersAreReused(t *testing.T) {
	p, drv, m := newTestPool(t, 512)

	var bufs []*MetaBuf
	for i := 0; i < 4; i++ {
		mb, err := p.ReserveBuffer()
		require.NoError(t, err)
		bufs = append(bufs, mb)
	}
	for _, mb := range bufs {
		require.NoError(t, p.ReleaseBuffer(mb))
	}
	assert.Equal(t, 4, p.Released())
	assert.Equal(t, 4, p.Outstanding())

	// Cycling below the high-water mark costs no driver calls
	allocs := drv.Calls("METABUF_ALLOC")
	for i := 0; i < 20; i++ {
		mb, err := p.ReserveBuffer()
		require.NoError(t, err)
		require.NoError(t, p.ReleaseBuffer(mb))
	}
	assert.Equal(t, allocs, drv.Calls("METABUF_ALLOC"))
	assert.Zero(t, drv.Calls("METABUF_DEL"))
	assert.Equal(t, uint64(20), m.MetaReuses.Load())
	assert.Equal(t, 4, p.Outstanding())
}

func TestReleaseUnknown(t *testing.T) {
	p, _, _ := newTestPool(t, 512)

	mb, err := p.ReserveBuffer()
	require.NoError(t, err)
	require.NoError(t, p.ReleaseBuffer(mb))

	err = p.ReleaseBuffer(mb)
	assert.True(t, errs.IsCode(err, errs.ErrCodeNotFound), "double release")

	// A foreign buffer with a live id is not the pool's
	live, err := p.ReserveBuffer()
	require.NoError(t, err)
	err = p.ReleaseBuffer(&MetaBuf{id: live.ID()})
	assert.True(t, errs.IsCode(err, errs.ErrCodeNotFound))
	assert.Equal(t, 1, p.Reserved())

	assert.NoError(t, p.ReleaseBuffer(nil))
}

func TestMmapFailureFreesDriverBuffer(t *testing.T) {
	p, drv, _ := newTestPool(t, 512)
	drv.MmapErr = unix.ENOMEM

	_, err := p.ReserveBuffer()
	require.Error(t, err)
	assert.True(t, errs.IsErrno(err, unix.ENOMEM))
	assert.Zero(t, drv.MetaBuffers(), "driver allocation must be undone")
	assert.Equal(t, 1, drv.Calls("METABUF_DEL"))
	assert.Zero(t, p.Outstanding())

	_, err = p.ReserveBuffer()
	assert.NoError(t, err)
}

func TestSizeChangeRefusedWhileOutstanding(t *testing.T) {
	p, drv, _ := newTestPool(t, 512)

	mb, err := p.ReserveBuffer()
	require.NoError(t, err)
	require.NoError(t, p.ReleaseBuffer(mb))

	err = p.SetAllocationSize(1024)
	assert.True(t, errs.IsCode(err, errs.ErrCodeInvalidState), "released buffers still count")
	assert.Equal(t, uint32(512), p.AllocationSize())

	require.NoError(t, p.SetAllocationSize(512), "same size is a no-op")
	assert.Equal(t, 1, drv.Calls("METABUF_CREATE"))

	require.NoError(t, p.FreeAll())
	require.NoError(t, p.SetAllocationSize(1024))
	mb, err = p.ReserveBuffer()
	require.NoError(t, err)
	assert.Equal(t, 1024, mb.Size())
}

func TestFreeAll(t *testing.T) {
	p, drv, m := newTestPool(t, 512)

	var held []*MetaBuf
	for i := 0; i < 3; i++ {
		mb, err := p.ReserveBuffer()
		require.NoError(t, err)
		held = append(held, mb)
	}
	// One released, two still reserved; both sets are freed
	require.NoError(t, p.ReleaseBuffer(held[0]))
	assert.Equal(t, 3, drv.Calls("METABUF_ALLOC"))

	require.NoError(t, p.FreeAll())
	assert.Zero(t, p.Outstanding())
	assert.Zero(t, p.AllocationSize())
	assert.Zero(t, drv.MetaBuffers())
	assert.Equal(t, 3, drv.Calls("MUNMAP"))
	assert.Equal(t, uint64(3), m.MetaDriverFrees.Load())
	assert.Zero(t, m.MetaOutstanding.Load())

	// Draining an empty pool is harmless
	require.NoError(t, p.FreeAll())
}

func TestFreeAllAfterDriverReset(t *testing.T) {
	p, drv, _ := newTestPool(t, 512)

	_, err := p.ReserveBuffer()
	require.NoError(t, err)

	// A full disable already dropped the driver side of every buffer
	require.NoError(t, drv.SetState(uapi.ST_DISABLE_COMPLETELY))
	require.NoError(t, p.FreeAll())
	assert.Zero(t, p.Outstanding())
}
