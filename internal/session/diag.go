package session

import (
	"fmt"

	"github.com/ehrlich-b/go-tnvme/internal/ctrl"
	"github.com/ehrlich-b/go-tnvme/internal/errs"
)

// Diagnostics is what CaptureDiagnostics could collect after a failure.
// Fields it could not read are left zero and the cause is in Errors.
type Diagnostics struct {
	IrqType  uint32
	NumIrqs  uint16
	Regs     ctrl.Registers
	DumpPath string
	Errors   []error
}

// CaptureDiagnostics collects device metrics, the controller registers and,
// when dumpPath is set, the driver's metrics dump. It is best effort and
// keeps going past every failure.
func (s *Session) CaptureDiagnostics(dumpPath string) Diagnostics {
	var d Diagnostics

	if dm, err := s.DeviceMetrics(); err != nil {
		d.Errors = append(d.Errors, err)
	} else {
		d.IrqType = dm.IrqActive.IrqType
		d.NumIrqs = dm.IrqActive.NumIrqs
	}

	regs, err := s.Registers()
	if err != nil {
		d.Errors = append(d.Errors, err)
	}
	d.Regs = regs

	if dumpPath != "" {
		if err := s.drv.DumpMetrics(dumpPath); err != nil {
			d.Errors = append(d.Errors, errs.Wrap("DUMP_METRICS", err))
		} else {
			d.DumpPath = dumpPath
		}
	}

	s.log.Error("diagnostics captured",
		"irq_type", d.IrqType,
		"irqs", d.NumIrqs,
		"cap", fmt.Sprintf("0x%016x", d.Regs.CAP),
		"cc", fmt.Sprintf("0x%08x", d.Regs.CC),
		"csts", fmt.Sprintf("0x%08x", d.Regs.CSTS),
		"ready", d.Regs.Ready(),
		"fatal", d.Regs.Fatal(),
		"dump", d.DumpPath,
		"capture_errors", len(d.Errors))
	return d
}

// HandleFailure reacts to a test failure. Timeouts and validation failures
// capture diagnostics and completely disable the controller so the next
// test starts clean. err is always returned unchanged.
func (s *Session) HandleFailure(err error, dumpPath string) error {
	if !errs.IsHardFailure(err) {
		return err
	}

	s.log.WithError(err).Error("hard failure, resetting controller")
	s.CaptureDiagnostics(dumpPath)
	if derr := s.DisableCompletely(); derr != nil {
		s.log.WithError(derr).Error("disable after failure failed")
	}
	return err
}
