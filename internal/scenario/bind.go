package scenario

import (
	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/mem"
	"github.com/ehrlich-b/go-tnvme/internal/nvmecmd"
	"github.com/ehrlich-b/go-tnvme/internal/session"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// BindZeroLength binds an empty region to a write and expects a
// configuration error. Nothing reaches the device.
func BindZeroLength(s *session.Session) error {
	const op = "BIND_ZERO_LENGTH"

	empty := mem.New()
	empty.Init(0, 0)
	defer empty.Free()

	sent := s.Metrics().CommandsSent.Load()

	wr := nvmecmd.NewWrite()
	wr.SetNSID(1)
	err := wr.BindWritable(uapi.MASK_PRP1_PAGE, empty)
	switch {
	case err == nil:
		return errs.New(op, errs.ErrCodeValidation, "zero-length buffer was accepted")
	case !errs.IsCode(err, errs.ErrCodeConfiguration):
		return errs.Wrap(op, err)
	}

	if now := s.Metrics().CommandsSent.Load(); now != sent {
		return errs.Newf(op, errs.ErrCodeValidation, "%d commands sent during a refused bind", now-sent)
	}
	s.Logger().Debug("zero-length bind refused", "error", err)
	return nil
}
