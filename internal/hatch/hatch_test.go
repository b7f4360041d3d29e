package hatch_test

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/hatch"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
	"github.com/ehrlich-b/go-tnvme/internal/nvmecmd"
	"github.com/ehrlich-b/go-tnvme/internal/queue"
	"github.com/ehrlich-b/go-tnvme/internal/session"
	"github.com/ehrlich-b/go-tnvme/internal/simdrv"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

func TestToxicOpcodeIsRejected(t *testing.T) {
	drv := simdrv.New()
	s := session.New(drv, session.Options{Logger: logging.Nop()})
	require.NoError(t, s.DisableCompletely())
	asq, acq, err := s.CreateAdminQueues(4)
	require.NoError(t, err)
	require.NoError(t, s.Enable())

	id := nvmecmd.NewIdentify()
	id.SetCNS(nvmecmd.CNSController)
	buf, err := id.BindData()
	require.NoError(t, err)
	defer buf.Free()
	require.NoError(t, asq.Send(id))

	// Turn the staged Identify into an opcode nobody implements
	require.NoError(t, hatch.SetToxicCmdValue(s, asq, 0, 0, 0xff, 0xc1))
	assert.Equal(t, uint64(1), s.Metrics().ToxicInjections.Load())

	se, err := asq.PeekSE(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0xc1), se[0])

	require.NoError(t, asq.Ring())
	_, err = acq.ReapInquiryWaitSpecify(time.Second, 1)
	require.NoError(t, err)
	ces, _, err := acq.ReapEntries(1, queue.ExpectStatus(uapi.StatusInvalidOpcode))
	require.NoError(t, err)
	require.Len(t, ces, 1)
	assert.Equal(t, id.CID(), ces[0].CID)
}

func TestToxicRejectedByDriver(t *testing.T) {
	drv := simdrv.New()
	s := session.New(drv, session.Options{Logger: logging.Nop()})
	require.NoError(t, s.DisableCompletely())
	asq, _, err := s.CreateAdminQueues(4)
	require.NoError(t, err)

	err = hatch.SetToxicCmdValue(s, asq, 0, 16, 0xffffffff, 0)
	require.Error(t, err)
	assert.True(t, errs.IsErrno(err, syscall.EINVAL))
	assert.Zero(t, s.Metrics().ToxicInjections.Load())
}
