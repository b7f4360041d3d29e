package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ehrlich-b/go-tnvme/internal/constants"
	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/mem"
	"github.com/ehrlich-b/go-tnvme/internal/nvmecmd"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// StatusCheck validates one reaped completion; a non-nil error marks the
// entry as a hardware-correctness failure
type StatusCheck func(ce uapi.CE) error

// ExpectStatus accepts only completions whose SCT and SC equal status
func ExpectStatus(status uint16) StatusCheck {
	want := status & 0x7ff
	return func(ce uapi.CE) error {
		if ce.Status&0x7ff == want {
			return nil
		}
		return fmt.Errorf("status sct=0x%x sc=0x%02x, want sct=0x%x sc=0x%02x",
			ce.SCT(), ce.SC(), (want>>8)&0x7, want&0xff)
	}
}

// ExpectSuccess accepts only successful completions
var ExpectSuccess = ExpectStatus(uapi.StatusSuccess)

// AnyStatus accepts every completion
func AnyStatus(uapi.CE) error { return nil }

// CQ is a completion queue with a polling reap path
type CQ struct {
	Queue

	irqEnabled bool
	irqVector  uint16

	// PollInterval is the sleep between reap inquiries while waiting
	PollInterval time.Duration

	sqs map[uint16]*SQ
}

var _ nvmecmd.CQInfo = (*CQ)(nil)

// NewCQ returns an uninitialized completion queue
func NewCQ(dev Device) *CQ {
	return &CQ{
		Queue:        newQueue(dev, uapi.CESize, uapi.MMR_CQ),
		PollInterval: constants.DefaultPollInterval,
		sqs:          make(map[uint16]*SQ),
	}
}

func (cq *CQ) IrqEnabled() bool  { return cq.irqEnabled }
func (cq *CQ) IrqVector() uint16 { return cq.irqVector }

func (cq *CQ) link(sq *SQ) { cq.sqs[sq.QID()] = sq }

func (cq *CQ) unlink(sq *SQ) {
	if cq.sqs[sq.QID()] == sq {
		delete(cq.sqs, sq.QID())
	}
}

func (cq *CQ) prepare(qid uint16, entries uint32, contig bool) func() error {
	return func() error {
		prep := uapi.NvmePrepCQ{
			CQID:     qid,
			Elements: entries,
		}
		if contig {
			prep.Contig = 1
		}
		return cq.drv.PrepareCQ(&prep)
	}
}

// InitAdmin creates the admin completion queue
func (cq *CQ) InitAdmin(entries uint32) error {
	return cq.InitContig(0, entries, false, 0)
}

// InitContig prepares a driver-allocated ring. For qid 0 this creates the
// admin CQ, which requires a completely disabled controller.
func (cq *CQ) InitContig(qid uint16, entries uint32, irqEnabled bool, irqVector uint16) error {
	if err := cq.initContig("CQ_INIT_CONTIG", qid, entries, cq.prepare(qid, entries, true)); err != nil {
		return err
	}
	cq.irqEnabled, cq.irqVector = irqEnabled, irqVector
	return nil
}

// InitDiscontig prepares a ring in caller memory, which must be page
// aligned and hold entries*16 bytes. Never valid for the admin queue.
func (cq *CQ) InitDiscontig(qid uint16, entries uint32, region *mem.Region, irqEnabled bool, irqVector uint16) error {
	if err := cq.initDiscontig("CQ_INIT_DISCONTIG", qid, entries, region, cq.prepare(qid, entries, false)); err != nil {
		return err
	}
	cq.irqEnabled, cq.irqVector = irqEnabled, irqVector
	return nil
}

// ReapInquiry returns how many completions are waiting, without blocking
func (cq *CQ) ReapInquiry() (uint32, error) {
	const op = "REAP_INQUIRY"

	if err := cq.ready(op); err != nil {
		return 0, err
	}
	n, err := cq.drv.ReapInquiry(cq.qid)
	cq.metrics.RecordInquiry()
	if err != nil {
		return 0, errs.Wrap(op, err).WithQueue(cq.qid)
	}
	return n, nil
}

// ReapInquiryWaitAny waits up to timeout for at least one completion
func (cq *CQ) ReapInquiryWaitAny(timeout time.Duration) (uint32, error) {
	return cq.wait(context.Background(), "REAP_WAIT_ANY", timeout, 1, false)
}

// ReapInquiryWaitSpecify waits up to timeout for desired completions and
// returns how many are visible. Falling short is a timeout error; seeing
// more than desired is a validation error, since hardware reported
// completions nobody asked for. Both still return the observed count.
func (cq *CQ) ReapInquiryWaitSpecify(timeout time.Duration, desired uint32) (uint32, error) {
	return cq.ReapInquiryWaitSpecifyContext(context.Background(), timeout, desired)
}

// ReapInquiryWaitSpecifyContext is ReapInquiryWaitSpecify bounded also by ctx
func (cq *CQ) ReapInquiryWaitSpecifyContext(ctx context.Context, timeout time.Duration, desired uint32) (uint32, error) {
	return cq.wait(ctx, "REAP_WAIT_SPECIFY", timeout, desired, true)
}

// wait polls until at least desired completions are visible or the
// deadline passes. With exact set, more than desired is a failure too.
func (cq *CQ) wait(ctx context.Context, op string, timeout time.Duration, desired uint32, exact bool) (uint32, error) {
	if err := cq.ready(op); err != nil {
		return 0, err
	}
	if timeout <= 0 {
		timeout = constants.DefaultReapTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var (
		n      uint32
		drvErr error
	)
	poll := func() error {
		var err error
		if n, err = cq.ReapInquiry(); err != nil {
			drvErr = err
			return backoff.Permanent(err)
		}
		if n >= desired {
			return nil
		}
		return fmt.Errorf("%d of %d completions", n, desired)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(cq.PollInterval), ctx)
	err := backoff.Retry(poll, b)
	if err != nil && drvErr == nil {
		// One last look so a completion landing at the deadline counts
		err = poll()
	}
	if drvErr != nil {
		return 0, drvErr
	}

	timedOut := err != nil
	over := exact && n > desired
	cq.metrics.RecordWait(time.Since(start), timedOut, over)

	log := cq.log.WithQueue(cq.qid)
	switch {
	case timedOut:
		log.Error("timed out waiting for completions", "expected", desired, "actual", n, "timeout", timeout)
		return n, errs.NewQueueError(op, cq.qid, errs.ErrCodeTimeout,
			fmt.Sprintf("%d of %d completions after %s", n, desired, timeout))
	case over:
		log.Error("more completions than requested", "expected", desired, "actual", n)
		return n, errs.NewQueueError(op, cq.qid, errs.ErrCodeValidation,
			fmt.Sprintf("%d completions visible, expected %d", n, desired))
	}
	return n, nil
}

// Reap copies up to max completions (0 means all waiting) into buf and
// returns how many were copied and how many remain. Every copied entry is
// passed to check; nil check means ExpectSuccess. The first failing entry
// is returned as a validation error after all entries are processed.
func (cq *CQ) Reap(buf *mem.Region, max uint32, check StatusCheck) (reaped uint32, remaining uint32, err error) {
	const op = "REAP"

	if err := cq.ready(op); err != nil {
		return 0, 0, err
	}
	if buf == nil || buf.Size() < uapi.CESize {
		return 0, 0, errs.NewQueueError(op, cq.qid, errs.ErrCodeConfiguration,
			"reap buffer cannot hold a completion entry")
	}

	fits := uint32(buf.Size() / uapi.CESize)
	if max == 0 {
		n, err := cq.ReapInquiry()
		if err != nil {
			return 0, 0, err
		}
		max = n
	}
	if max > fits {
		cq.log.WithQueue(cq.qid).Warn("reap buffer smaller than request", "requested", max, "fits", fits)
		max = fits
	}
	if max == 0 {
		return 0, 0, nil
	}

	res, derr := cq.drv.Reap(cq.qid, max, buf.Bytes())
	if derr != nil {
		return 0, 0, errs.Wrap(op, derr).WithQueue(cq.qid)
	}

	if check == nil {
		check = ExpectSuccess
	}
	var (
		first   error
		invalid uint32
	)
	data := buf.Bytes()
	for i := uint32(0); i < res.Reaped; i++ {
		var ce uapi.CE
		if uerr := uapi.UnmarshalCE(data[int(i)*uapi.CESize:], &ce); uerr != nil {
			return i, res.Remaining, errs.Wrap(op, uerr).WithQueue(cq.qid)
		}
		var opcode uint8
		if sq, ok := cq.sqs[ce.SQID]; ok {
			if cmd := sq.retire(ce.CID); cmd != nil {
				opcode = cmd.Base().Opcode()
			}
		}
		if cerr := check(ce); cerr != nil {
			invalid++
			cq.log.WithQueue(cq.qid).WithCommand(opcode, ce.CID).Error("completion failed validation",
				"sqid", ce.SQID, "sqhd", ce.SQHD, "dw0", fmt.Sprintf("0x%08x", ce.DW0), "reason", cerr.Error())
			if first == nil {
				e := errs.NewCommandError(op, ce.SQID, ce.CID, errs.ErrCodeValidation,
					fmt.Sprintf("CQ %d entry %d: %s", cq.qid, i, cerr))
				e.Inner = cerr
				first = e
			}
		}
	}
	cq.metrics.RecordReap(res.Reaped, invalid)
	return res.Reaped, res.Remaining, first
}

// ReapEntries is Reap into a scratch buffer, returning the decoded entries
func (cq *CQ) ReapEntries(max uint32, check StatusCheck) ([]uapi.CE, uint32, error) {
	if max == 0 {
		n, err := cq.ReapInquiry()
		if err != nil {
			return nil, 0, err
		}
		max = n
	}
	if max == 0 {
		return nil, 0, nil
	}

	buf := mem.New()
	buf.Init(int(max)*uapi.CESize, 0)
	defer buf.Free()
	reaped, remaining, err := cq.Reap(buf, max, check)

	ces := make([]uapi.CE, reaped)
	for i := range ces {
		_ = uapi.UnmarshalCE(buf.Bytes()[i*uapi.CESize:], &ces[i])
	}
	return ces, remaining, err
}

// PeekCE decodes ring entry index without consuming it
func (cq *CQ) PeekCE(index uint32) (uapi.CE, error) {
	var ce uapi.CE
	raw, err := cq.entry("PEEK_CE", index)
	if err != nil {
		return ce, err
	}
	err = uapi.UnmarshalCE(raw, &ce)
	return ce, err
}

// LogCE logs ring entry index
func (cq *CQ) LogCE(index uint32) error {
	ce, err := cq.PeekCE(index)
	if err != nil {
		return err
	}
	cq.log.WithQueue(cq.qid).Info("completion entry", "index", index, "ce", ce.String())
	return nil
}

// Metrics returns the driver's view of this CQ
func (cq *CQ) Metrics() (uapi.QueueMetricsCQ, error) {
	var rec uapi.QueueMetricsCQ
	err := cq.queueMetrics(uapi.METRICS_CQ, &rec)
	return rec, err
}

// Close releases ring memory; linked SQs must be closed by their owner
func (cq *CQ) Close() error {
	clear(cq.sqs)
	return cq.Queue.Close()
}
