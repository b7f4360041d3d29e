package nvmecmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
	"github.com/ehrlich-b/go-tnvme/internal/resource"
	"github.com/ehrlich-b/go-tnvme/internal/simdrv"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

func newPool(t *testing.T) (*resource.BufferPool, *simdrv.Driver) {
	t.Helper()
	drv := simdrv.New()
	pool := resource.NewBufferPool(drv, logging.Nop(), nil)
	require.NoError(t, pool.SetAllocationSize(512))
	return pool, drv
}

func TestMetaUnbound(t *testing.T) {
	c := NewRead()
	assert.Nil(t, c.MetaBuffer())
	assert.Zero(t, c.MetaBufferID())
	assert.Zero(t, c.MetaBitmask())
	c.ReleaseMetaBuffer()
}

func TestMetaAllocRelease(t *testing.T) {
	pool, drv := newPool(t)

	c := NewWrite()
	require.NoError(t, c.AllocMetaBuffer(pool))
	assert.Len(t, c.MetaBuffer(), 512)
	assert.Equal(t, uint32(uapi.MASK_MPTR), c.MetaBitmask())
	assert.Equal(t, 1, pool.Reserved())

	// A second alloc gives back the first buffer before taking one
	first := c.MetaBufferID()
	require.NoError(t, c.AllocMetaBuffer(pool))
	assert.Equal(t, first, c.MetaBufferID(), "released buffer is reused")
	assert.Equal(t, 1, drv.Calls("METABUF_ALLOC"))

	require.NoError(t, c.Close())
	assert.Zero(t, c.MetaBitmask())
	assert.Zero(t, pool.Reserved())
	assert.Equal(t, 1, pool.Released())
}

func TestMetaAllocRejects(t *testing.T) {
	pool, _ := newPool(t)

	f := NewFlush()
	err := f.AllocMetaBuffer(pool)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))

	r := NewRead()
	assert.True(t, errs.IsCode(r.AllocMetaBuffer(nil), errs.ErrCodeConfiguration))

	// Pool without a size cannot hand out buffers
	empty := resource.NewBufferPool(simdrv.New(), logging.Nop(), nil)
	err = r.AllocMetaBuffer(empty)
	assert.True(t, errs.IsCode(err, errs.ErrCodeCapacity))
	assert.Zero(t, r.MetaBitmask())
}

func TestMetaReleasedOnReinit(t *testing.T) {
	pool, _ := newPool(t)

	c := NewRead()
	require.NoError(t, c.AllocMetaBuffer(pool))
	c.Init(OpcRead, DirFromDevice, uapi.CommandSize)
	assert.Zero(t, c.MetaBitmask())
	assert.Zero(t, pool.Reserved())
}

func TestMetaReleaseAfterDrain(t *testing.T) {
	pool, _ := newPool(t)

	c := NewRead()
	require.NoError(t, c.AllocMetaBuffer(pool))
	require.NoError(t, pool.FreeAll())

	// The pool forgot the buffer; releasing it must not fail or resurrect it
	c.ReleaseMetaBuffer()
	assert.Zero(t, pool.Outstanding())
}
