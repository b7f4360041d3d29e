package uapi

import (
	"encoding/binary"
	"fmt"
)

// CE is a decoded 16-byte completion queue entry.
//
//	DW0     command specific
//	DW1     reserved
//	DW2     SQHD [15:0], SQID [31:16]
//	DW3     CID [15:0], P [16], status [31:17]
type CE struct {
	DW0    uint32
	DW1    uint32
	SQHD   uint16
	SQID   uint16
	CID    uint16
	Phase  bool
	Status uint16 // 15-bit status field, SC in [7:0], SCT in [10:8]
}

// SC returns the status code
func (c CE) SC() uint8 {
	return uint8(c.Status & 0xff)
}

// SCT returns the status code type
func (c CE) SCT() uint8 {
	return uint8((c.Status >> 8) & 0x7)
}

// More reports the "more information in error log" bit
func (c CE) More() bool {
	return c.Status&(1<<13) != 0
}

// DNR reports the "do not retry" bit
func (c CE) DNR() bool {
	return c.Status&(1<<14) != 0
}

func (c CE) String() string {
	return fmt.Sprintf("CE{cid=%d sqid=%d sqhd=%d p=%t sct=0x%x sc=0x%02x dnr=%t dw0=0x%08x}",
		c.CID, c.SQID, c.SQHD, c.Phase, c.SCT(), c.SC(), c.DNR(), c.DW0)
}

// MarshalCE encodes a completion entry into its 16-byte wire form
func MarshalCE(ce *CE) []byte {
	buf := make([]byte, CESize)
	PutCE(buf, ce)
	return buf
}

// PutCE encodes ce into buf, which must be at least CESize bytes
func PutCE(buf []byte, ce *CE) {
	binary.LittleEndian.PutUint32(buf[0:4], ce.DW0)
	binary.LittleEndian.PutUint32(buf[4:8], ce.DW1)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(ce.SQHD)|uint32(ce.SQID)<<16)

	dw3 := uint32(ce.CID) | uint32(ce.Status&0x7fff)<<17
	if ce.Phase {
		dw3 |= 1 << 16
	}
	binary.LittleEndian.PutUint32(buf[12:16], dw3)
}

// UnmarshalCE decodes a 16-byte completion entry
func UnmarshalCE(data []byte, ce *CE) error {
	if len(data) < CESize {
		return ErrInsufficientData
	}

	ce.DW0 = binary.LittleEndian.Uint32(data[0:4])
	ce.DW1 = binary.LittleEndian.Uint32(data[4:8])
	dw2 := binary.LittleEndian.Uint32(data[8:12])
	ce.SQHD = uint16(dw2)
	ce.SQID = uint16(dw2 >> 16)
	dw3 := binary.LittleEndian.Uint32(data[12:16])
	ce.CID = uint16(dw3)
	ce.Phase = dw3&(1<<16) != 0
	ce.Status = uint16(dw3 >> 17)

	return nil
}

// MakeStatus builds the 15-bit status field from a type and code
func MakeStatus(sct, sc uint8) uint16 {
	return uint16(sct&0x7)<<8 | uint16(sc)
}

// Status code types
const (
	SCT_GENERIC          = 0
	SCT_COMMAND_SPECIFIC = 1
	SCT_MEDIA            = 2
	SCT_VENDOR           = 7
)

// Frequently checked status values
var (
	StatusSuccess          = MakeStatus(SCT_GENERIC, 0x00)
	StatusInvalidOpcode    = MakeStatus(SCT_GENERIC, 0x01)
	StatusInvalidField     = MakeStatus(SCT_GENERIC, 0x02)
	StatusCIDConflict      = MakeStatus(SCT_GENERIC, 0x03)
	StatusInvalidNamespace = MakeStatus(SCT_GENERIC, 0x0b)
	StatusLBAOutOfRange    = MakeStatus(SCT_GENERIC, 0x80)
	StatusInvalidCQ        = MakeStatus(SCT_COMMAND_SPECIFIC, 0x00)
	StatusInvalidQID       = MakeStatus(SCT_COMMAND_SPECIFIC, 0x01)
	StatusMaxQSizeExceeded = MakeStatus(SCT_COMMAND_SPECIFIC, 0x02)
	StatusInvalidIntVector = MakeStatus(SCT_COMMAND_SPECIFIC, 0x08)
	StatusInvalidQDeletion = MakeStatus(SCT_COMMAND_SPECIFIC, 0x0c)
)

// Error definitions
type MarshalError string

func (e MarshalError) Error() string {
	return string(e)
}

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
)
