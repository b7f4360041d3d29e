// Package hatch rewrites staged submission entries behind the back of every
// other check in the harness. It exists to provoke hardware rejections the
// checked API cannot express. The caller owns the consequences.
package hatch

import (
	"fmt"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/queue"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// SetToxicCmdValue replaces the bits of mask in DWORD dword of the entry at
// ring index of sq with value. The entry must be sent and not yet rung.
// Only the driver rejects malformed requests.
func SetToxicCmdValue(dev queue.Device, sq *queue.SQ, index uint16, dword uint8, mask, value uint32) error {
	const op = "TOXIC_64B_DWORD"

	inj := uapi.BackdoorInject{
		QID:       sq.QID(),
		CmdPtr:    index,
		Dword:     dword,
		ValueMask: mask,
		Value:     value,
	}

	log := dev.Logger().WithQueue(sq.QID())
	log.Warn("injecting toxic value",
		"index", index,
		"dword", dword,
		"mask", fmt.Sprintf("0x%08x", mask),
		"value", fmt.Sprintf("0x%08x", value))

	if err := dev.Driver().InjectToxic(&inj); err != nil {
		return errs.Wrap(op, err).WithQueue(sq.QID())
	}
	dev.Metrics().RecordToxic()
	return nil
}
