package session

import (
	"encoding/binary"

	"github.com/ehrlich-b/go-tnvme/internal/ctrl"
	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// ReadReg32 reads one DWORD from PCI config space or BAR0
func (s *Session) ReadReg32(space, offset uint32) (uint32, error) {
	var b [4]byte
	if err := s.drv.ReadGeneric(space, offset, b[:], uapi.DWORD_LEN); err != nil {
		return 0, errs.Wrap("READ_GENERIC", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadReg64 reads one QWORD
func (s *Session) ReadReg64(space, offset uint32) (uint64, error) {
	return s.readQuad(space, offset)
}

// WriteReg32 writes one DWORD
func (s *Session) WriteReg32(space, offset, val uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], val)
	if err := s.drv.WriteGeneric(space, offset, b[:], uapi.DWORD_LEN); err != nil {
		return errs.Wrap("WRITE_GENERIC", err)
	}
	s.log.Debug("register written", "space", space, "offset", offset, "value", val)
	return nil
}

// Registers returns CAP, CC and CSTS
func (s *Session) Registers() (ctrl.Registers, error) {
	var r ctrl.Registers
	var err error
	if r.CAP, err = s.ReadReg64(uapi.NVMEIO_BAR01, ctrl.RegCAP); err != nil {
		return r, err
	}
	if r.VS, err = s.ReadReg32(uapi.NVMEIO_BAR01, ctrl.RegVS); err != nil {
		return r, err
	}
	if r.CC, err = s.ReadReg32(uapi.NVMEIO_BAR01, ctrl.RegCC); err != nil {
		return r, err
	}
	if r.CSTS, err = s.ReadReg32(uapi.NVMEIO_BAR01, ctrl.RegCSTS); err != nil {
		return r, err
	}
	return r, nil
}

// MaxQueueEntries returns CAP.MQES+1, the deepest queue the controller
// accepts. The value is read once per session.
func (s *Session) MaxQueueEntries() (uint32, error) {
	if s.mqes != 0 {
		return s.mqes, nil
	}
	capReg, err := s.ReadReg64(uapi.NVMEIO_BAR01, ctrl.RegCAP)
	if err != nil {
		return 0, err
	}
	s.mqes = ctrl.MaxQueueEntries(capReg)
	return s.mqes, nil
}
