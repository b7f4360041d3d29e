package scenario

import (
	"github.com/ehrlich-b/go-tnvme/internal/constants"
	"github.com/ehrlich-b/go-tnvme/internal/nvmecmd"
	"github.com/ehrlich-b/go-tnvme/internal/queue"
	"github.com/ehrlich-b/go-tnvme/internal/session"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// missingQID is never created by any scenario
const missingQID = 0x7fff

// DeleteMissingIOSQ sends Delete IO SQ for a queue that was never created
// through 2-entry admin queues and expects Invalid Queue Identifier
func DeleteMissingIOSQ(s *session.Session) error {
	asq, acq, err := freshAdmin(s, constants.DefaultAdminQueueEntries)
	if err != nil {
		return err
	}

	del := nvmecmd.NewDeleteIOSQ()
	del.SetQID(missingQID)
	if err := asq.Send(del); err != nil {
		return err
	}
	if err := asq.Ring(); err != nil {
		return err
	}

	n, err := acq.ReapInquiryWaitSpecify(s.ReapTimeout(), 1)
	if err != nil {
		return err
	}
	if err := expectCount("DELETE_IOSQ", acq, n, 1); err != nil {
		return err
	}

	ces, _, err := acq.ReapEntries(1, queue.ExpectStatus(uapi.StatusInvalidQID))
	if err != nil {
		return err
	}
	s.Logger().Info("missing queue rejected", "cid", ces[0].CID, "status", ces[0].String())
	return nil
}
