package queue

import (
	"fmt"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/interfaces"
	"github.com/ehrlich-b/go-tnvme/internal/mem"
	"github.com/ehrlich-b/go-tnvme/internal/nvmecmd"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// SQ is a submission queue. Send stages commands; Ring makes every staged
// command visible to hardware with one doorbell write.
type SQ struct {
	Queue

	cq       *CQ
	cqid     uint16
	priority uint8

	// inflight keeps every sent command, and so its payload, reachable
	// until its completion is reaped
	inflight map[uint16]nvmecmd.Cmd
	staged   int
}

var _ nvmecmd.SQInfo = (*SQ)(nil)

// NewSQ returns an uninitialized submission queue
func NewSQ(dev Device) *SQ {
	return &SQ{
		Queue:    newQueue(dev, uapi.CommandSize, uapi.MMR_SQ),
		inflight: make(map[uint16]nvmecmd.Cmd),
	}
}

func (sq *SQ) CQID() uint16    { return sq.cqid }
func (sq *SQ) Priority() uint8 { return sq.priority }

// Inflight returns how many sent commands have not been reaped
func (sq *SQ) Inflight() int {
	return len(sq.inflight)
}

func (sq *SQ) prepare(qid uint16, entries uint32, cq *CQ, priority uint8, contig bool) func() error {
	return func() error {
		prep := uapi.NvmePrepSQ{
			Elements: entries,
			SQID:     qid,
			CQID:     cq.QID(),
			SQPrio:   priority,
		}
		if contig {
			prep.Contig = 1
		}
		return sq.drv.PrepareSQ(&prep)
	}
}

func (sq *SQ) attach(cq *CQ, priority uint8) {
	sq.cq = cq
	sq.cqid = cq.QID()
	sq.priority = priority
	cq.link(sq)
}

// InitAdmin creates the admin submission queue paired with acq
func (sq *SQ) InitAdmin(entries uint32, acq *CQ) error {
	return sq.InitContig(0, entries, acq, 0)
}

// InitContig prepares a driver-allocated ring. For qid 0 this creates the
// admin SQ, which requires a completely disabled controller.
func (sq *SQ) InitContig(qid uint16, entries uint32, cq *CQ, priority uint8) error {
	const op = "SQ_INIT_CONTIG"

	if cq == nil {
		return errs.NewQueueError(op, qid, errs.ErrCodeConfiguration, "submission queue needs a completion queue")
	}
	if err := sq.initContig(op, qid, entries, sq.prepare(qid, entries, cq, priority, true)); err != nil {
		return err
	}
	sq.attach(cq, priority)
	return nil
}

// InitDiscontig prepares a ring in caller memory, which must be page
// aligned and hold entries*64 bytes. Never valid for the admin queue.
func (sq *SQ) InitDiscontig(qid uint16, entries uint32, region *mem.Region, cq *CQ, priority uint8) error {
	const op = "SQ_INIT_DISCONTIG"

	if cq == nil {
		return errs.NewQueueError(op, qid, errs.ErrCodeConfiguration, "submission queue needs a completion queue")
	}
	if err := sq.initDiscontig(op, qid, entries, region, sq.prepare(qid, entries, cq, priority, false)); err != nil {
		return err
	}
	sq.attach(cq, priority)
	return nil
}

// Send stages cmd at the tail without ringing the doorbell. On return the
// command carries the CID the driver assigned.
func (sq *SQ) Send(cmd nvmecmd.Cmd) error {
	const op = "SEND"

	if err := sq.ready(op); err != nil {
		return err
	}
	c := cmd.Base()

	req := interfaces.SendRequest{
		QID:       sq.qid,
		BitMask:   c.PrpBitmask() | c.MetaBitmask(),
		MetaBufID: c.MetaBufferID(),
		Data:      c.EffectiveBuffer(),
		Cmd:       c.Bytes(),
		DataDir:   uint32(c.DataDir()),
	}
	if err := sq.drv.Send64B(&req); err != nil {
		sq.metrics.RecordSend(false)
		e := errs.Wrap(op, err).WithQueue(sq.qid)
		sq.log.WithQueue(sq.qid).WithError(err).Error("send failed",
			"opcode", fmt.Sprintf("0x%02x", c.Opcode()), "mask", fmt.Sprintf("0x%x", req.BitMask),
			"data_len", len(req.Data), "dir", c.DataDir().String())
		return e
	}

	cid := c.CID()
	if prev, ok := sq.inflight[cid]; ok && prev.Base() != c {
		sq.log.WithQueue(sq.qid).Warn("CID reused while a command is unreaped", "cid", cid)
	}
	sq.inflight[cid] = cmd
	sq.staged++
	sq.metrics.RecordSend(true)
	sq.log.WithQueue(sq.qid).WithCommand(c.Opcode(), cid).Debug("command staged", "data_len", len(req.Data))
	return nil
}

// Ring commits every staged command with a single doorbell write
func (sq *SQ) Ring() error {
	const op = "RING"

	if err := sq.ready(op); err != nil {
		return err
	}
	if err := sq.drv.RingDoorbell(sq.qid); err != nil {
		return errs.Wrap(op, err).WithQueue(sq.qid)
	}
	sq.metrics.RecordDoorbell()
	sq.log.WithQueue(sq.qid).Debug("doorbell rung", "staged", sq.staged)
	sq.staged = 0
	return nil
}

// Staged returns how many commands were sent since the last Ring
func (sq *SQ) Staged() int {
	return sq.staged
}

// PeekSE returns a copy of ring entry index without consuming anything
func (sq *SQ) PeekSE(index uint32) ([]byte, error) {
	return sq.entry("PEEK_SE", index)
}

// LogSE logs ring entry index
func (sq *SQ) LogSE(index uint32) error {
	return sq.logEntry("LOG_SE", index)
}

// retire drops and returns the reference held for a reaped command
func (sq *SQ) retire(cid uint16) nvmecmd.Cmd {
	cmd := sq.inflight[cid]
	delete(sq.inflight, cid)
	return cmd
}

// Metrics returns the driver's view of this SQ
func (sq *SQ) Metrics() (uapi.QueueMetricsSQ, error) {
	var rec uapi.QueueMetricsSQ
	err := sq.queueMetrics(uapi.METRICS_SQ, &rec)
	return rec, err
}

// Close unlinks the SQ from its CQ and releases ring memory
func (sq *SQ) Close() error {
	if sq.cq != nil {
		sq.cq.unlink(sq)
	}
	clear(sq.inflight)
	return sq.Queue.Close()
}
