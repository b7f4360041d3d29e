package scenario

import (
	"fmt"

	"github.com/ehrlich-b/go-tnvme/internal/constants"
	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/mem"
	"github.com/ehrlich-b/go-tnvme/internal/nvmecmd"
	"github.com/ehrlich-b/go-tnvme/internal/queue"
	"github.com/ehrlich-b/go-tnvme/internal/resource"
	"github.com/ehrlich-b/go-tnvme/internal/session"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// ioQID is the queue pair FillIOSQ creates
const ioQID = 1

// adminRoundTrip sends one admin command and reaps its single completion
func adminRoundTrip(s *session.Session, asq *queue.SQ, acq *queue.CQ, cmd nvmecmd.Cmd) error {
	if err := asq.Send(cmd); err != nil {
		return err
	}
	if err := asq.Ring(); err != nil {
		return err
	}
	n, err := acq.ReapInquiryWaitSpecify(s.ReapTimeout(), 1)
	if err != nil {
		return err
	}
	if err := expectCount("ADMIN", acq, n, 1); err != nil {
		return err
	}
	_, _, err = acq.ReapEntries(1, queue.ExpectSuccess)
	return err
}

// createIOPair creates and registers a contiguous IO CQ and its SQ
func createIOPair(s *session.Session, asq *queue.SQ, acq *queue.CQ, qid uint16, entries uint32) (*queue.SQ, *queue.CQ, error) {
	cq, err := resource.AllocateNamed(s.Registry(), fmt.Sprintf("IOCQ%d", qid), func() (*queue.CQ, error) {
		cq := queue.NewCQ(s)
		cq.PollInterval = s.PollInterval()
		if err := cq.InitContig(qid, entries, false, 0); err != nil {
			return nil, err
		}
		return cq, nil
	})
	if err != nil {
		return nil, nil, err
	}
	createCQ := nvmecmd.NewCreateIOCQ()
	if err := createCQ.SetQueue(cq); err != nil {
		return nil, nil, err
	}
	if err := adminRoundTrip(s, asq, acq, createCQ); err != nil {
		return nil, nil, err
	}

	sq, err := resource.AllocateNamed(s.Registry(), fmt.Sprintf("IOSQ%d", qid), func() (*queue.SQ, error) {
		sq := queue.NewSQ(s)
		if err := sq.InitContig(qid, entries, cq, 0); err != nil {
			return nil, err
		}
		return sq, nil
	})
	if err != nil {
		return nil, nil, err
	}
	createSQ := nvmecmd.NewCreateIOSQ()
	if err := createSQ.SetQueue(sq); err != nil {
		return nil, nil, err
	}
	if err := adminRoundTrip(s, asq, acq, createSQ); err != nil {
		return nil, nil, err
	}
	return sq, cq, nil
}

// FillIOSQ creates an IO queue pair of the given depth, stages entries-1
// writes without reaping, rings once and expects exactly entries-1
// completions carrying strictly increasing CIDs
func FillIOSQ(s *session.Session, entries uint32) (err error) {
	const op = "FILL_IOSQ"

	asq, acq, err := freshAdmin(s, constants.DefaultAdminQueueEntries)
	if err != nil {
		return err
	}
	sq, cq, err := createIOPair(s, asq, acq, ioQID, entries)
	if err != nil {
		return err
	}

	count := entries - 1
	payloads := make([]*mem.Region, 0, count)
	defer func() {
		// Unreaped commands still point at their payloads
		if sq.Inflight() > 0 {
			if derr := s.DisableCompletely(); derr != nil && err == nil {
				err = derr
			}
		}
		for _, p := range payloads {
			p.Free()
		}
	}()

	sent := make([]uint16, 0, count)
	for i := uint32(0); i < count; i++ {
		payload := mem.New()
		if err := payload.InitAlignment(constants.DefaultLBASize, mem.PageSize, 0); err != nil {
			return err
		}
		payloads = append(payloads, payload)
		if err := payload.SetDataPattern(mem.DataPatInc8, i, 0, mem.MaxLength); err != nil {
			return err
		}

		wr := nvmecmd.NewWrite()
		wr.SetNSID(1)
		wr.SetSLBA(uint64(i))
		if err := wr.BindWritable(uapi.MASK_PRP1_PAGE, payload); err != nil {
			return err
		}
		if err := sq.Send(wr); err != nil {
			return err
		}
		sent = append(sent, wr.CID())
	}
	if err := sq.Ring(); err != nil {
		return err
	}

	n, err := cq.ReapInquiryWaitSpecify(s.ReapTimeout(), count)
	if err != nil {
		return err
	}
	if err := expectCount(op, cq, n, count); err != nil {
		return err
	}

	ces, _, err := cq.ReapEntries(count, queue.ExpectSuccess)
	if err != nil {
		return err
	}
	if uint32(len(ces)) != count {
		return errs.NewQueueError(op, cq.QID(), errs.ErrCodeValidation,
			fmt.Sprintf("reaped %d completions, expected %d", len(ces), count))
	}
	for i, ce := range ces {
		if i > 0 && ce.CID <= ces[i-1].CID {
			return errs.NewCommandError(op, sq.QID(), ce.CID, errs.ErrCodeValidation,
				fmt.Sprintf("CID %d follows %d", ce.CID, ces[i-1].CID))
		}
		if ce.CID != sent[i] {
			return errs.NewCommandError(op, sq.QID(), ce.CID, errs.ErrCodeValidation,
				fmt.Sprintf("completion %d carries CID %d, sent %d", i, ce.CID, sent[i]))
		}
	}

	s.Logger().Info("io queue filled", "entries", entries, "completions", len(ces), "cids", sent)
	return nil
}
