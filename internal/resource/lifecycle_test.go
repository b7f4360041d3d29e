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

func populated(t *testing.T) (*Lifecycle, *simdrv.Driver, map[string]*closer) {
	t.Helper()

	drv := simdrv.New()
	l := NewLifecycle(drv, logging.Nop(), metrics.New())
	objs := map[string]*closer{}
	for _, name := range []string{AdminSQName, AdminCQName, "IOSQ1", "IOCQ1"} {
		objs[name] = &closer{name: name}
		require.NoError(t, Register(l.Registry, name, objs[name]))
	}

	require.NoError(t, l.Pool.SetAllocationSize(512))
	for i := 0; i < 2; i++ {
		_, err := l.Pool.ReserveBuffer()
		require.NoError(t, err)
	}
	return l, drv, objs
}

func TestLifecycleFullDisable(t *testing.T) {
	for _, state := range []uint32{uapi.ST_DISABLE_COMPLETELY, uapi.ST_NVM_SUBSYSTEM_RESET} {
		l, _, objs := populated(t)

		l.OnStateChange(state)
		assert.Zero(t, l.Registry.Len(), "state %d", state)
		assert.Zero(t, l.Pool.Outstanding())
		assert.Zero(t, l.Pool.AllocationSize())
		for name, c := range objs {
			assert.Equal(t, 1, c.closed, name)
		}
		assert.Equal(t, uint64(4), l.metrics.ObjectsFreed.Load())
	}
}

func TestLifecyclePartialDisable(t *testing.T) {
	l, drv, objs := populated(t)

	l.OnStateChange(uapi.ST_DISABLE)
	assert.Equal(t, []string{AdminCQName, AdminSQName}, l.Registry.Names())
	assert.Zero(t, objs[AdminSQName].closed)
	assert.Equal(t, 1, objs["IOSQ1"].closed)
	assert.Zero(t, l.Pool.Outstanding(), "metadata never survives a disable")
	assert.Zero(t, drv.MetaBuffers())
}

func TestLifecycleEnableKeepsEverything(t *testing.T) {
	l, _, _ := populated(t)

	l.OnStateChange(uapi.ST_ENABLE)
	assert.Equal(t, 4, l.Registry.Len())
	assert.Equal(t, 2, l.Pool.Outstanding())

	require.NoError(t, l.Close())
	assert.Zero(t, l.Registry.Len())
	assert.Zero(t, l.Pool.Outstanding())
}

func TestLifecycleReleaseReportsFailures(t *testing.T) {
	l, drv, objs := populated(t)
	drv.MunmapErr = unix.EIO
	objs["IOSQ1"].err = unix.EBUSY

	err := l.Release(uapi.ST_DISABLE_COMPLETELY)
	require.Error(t, err)
	assert.True(t, errs.IsErrno(err, unix.EBUSY), "object close failure: %v", err)
	assert.ErrorIs(t, err, unix.EIO, "metadata unmap failure")

	// Everything is dropped regardless
	assert.Zero(t, l.Registry.Len())
	assert.Zero(t, l.Pool.Outstanding())
	for name, c := range objs {
		assert.Equal(t, 1, c.closed, name)
	}
}

func TestLifecycleReleaseIgnoresEnable(t *testing.T) {
	l, drv, _ := populated(t)
	drv.MunmapErr = unix.EIO

	assert.NoError(t, l.Release(uapi.ST_ENABLE))
	assert.Zero(t, drv.Calls("MUNMAP"))
}
