// Package nvmecmd implements the byte-addressable NVMe command buffer and
// the payload and metadata bindings every command variant shares.
package nvmecmd

import (
	"encoding/binary"
	"fmt"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
	"github.com/ehrlich-b/go-tnvme/internal/uapi"
)

// DataDir is the direction of a command's payload, as the driver sees it
type DataDir uint32

const (
	DirNone          DataDir = uapi.DMA_NONE
	DirToDevice      DataDir = uapi.DMA_TO_DEVICE
	DirFromDevice    DataDir = uapi.DMA_FROM_DEVICE
	DirBidirectional DataDir = uapi.DMA_BIDIRECTIONAL
)

func (d DataDir) String() string {
	switch d {
	case DirNone:
		return "none"
	case DirToDevice:
		return "to-device"
	case DirFromDevice:
		return "from-device"
	case DirBidirectional:
		return "bidirectional"
	}
	return fmt.Sprintf("DataDir(%d)", uint32(d))
}

// Command is a fixed-length NVMe command buffer with typed field access.
// DWORD0 bits 7:0 hold the opcode and bits 31:16 the CID the driver
// assigns on send.
type Command struct {
	PrpData
	MetaData

	buf []byte
	dir DataDir
}

// Cmd is implemented by every command variant through its embedded Command
type Cmd interface {
	Base() *Command
}

// Base returns the shared command buffer of a variant
func (c *Command) Base() *Command {
	return c
}

// NewCommand returns a zeroed 64-byte command
func NewCommand(opcode uint8, dir DataDir) *Command {
	c := &Command{}
	c.Init(opcode, dir, uapi.CommandSize)
	return c
}

// Init zero-fills a byteLength command buffer and records the opcode and
// data direction. byteLength must be a positive multiple of 4.
func (c *Command) Init(opcode uint8, dir DataDir, byteLength int) {
	if byteLength <= 0 || byteLength%uapi.DwordSize != 0 {
		panic(errs.Newf("CMD_INIT", errs.ErrCodeBounds,
			"command length %d is not a positive multiple of %d", byteLength, uapi.DwordSize))
	}

	c.MetaData.ReleaseMetaBuffer()
	c.buf = make([]byte, byteLength)
	c.dir = dir
	c.PrpData = PrpData{dir: dir, allowed: uapi.MASK_PRP_ALL}
	c.MetaData.dir = dir
	c.SetByte(opcode, 0, 0)
}

// Close drops the payload reference and returns any metadata buffer
func (c *Command) Close() error {
	c.MetaData.ReleaseMetaBuffer()
	c.PrpData.rw = nil
	return nil
}

// Bytes returns the raw command buffer handed to the driver
func (c *Command) Bytes() []byte {
	return c.buf
}

// ByteLength returns the size of the command buffer
func (c *Command) ByteLength() int {
	return len(c.buf)
}

// NumDwords returns the number of addressable DWORDs
func (c *Command) NumDwords() int {
	return len(c.buf) / uapi.DwordSize
}

// DataDir returns the configured payload direction
func (c *Command) DataDir() DataDir {
	return c.dir
}

func (c *Command) checkDword(op string, dw int) int {
	if dw < 0 || dw >= c.NumDwords() {
		panic(errs.Newf(op, errs.ErrCodeBounds, "DWORD %d outside command of %d DWORDs", dw, c.NumDwords()))
	}
	return dw * uapi.DwordSize
}

// SetDword stores val in DWORD dw
func (c *Command) SetDword(val uint32, dw int) {
	off := c.checkDword("SET_DWORD", dw)
	binary.LittleEndian.PutUint32(c.buf[off:], val)
}

// GetDword returns DWORD dw
func (c *Command) GetDword(dw int) uint32 {
	off := c.checkDword("GET_DWORD", dw)
	return binary.LittleEndian.Uint32(c.buf[off:])
}

// SetWord stores val in word 0 or 1 of DWORD dw
func (c *Command) SetWord(val uint16, dw int, word int) {
	off := c.checkDword("SET_WORD", dw)
	if word < 0 || word > 1 {
		panic(errs.Newf("SET_WORD", errs.ErrCodeBounds, "word %d outside DWORD", word))
	}
	binary.LittleEndian.PutUint16(c.buf[off+2*word:], val)
}

// GetWord returns word 0 or 1 of DWORD dw
func (c *Command) GetWord(dw int, word int) uint16 {
	off := c.checkDword("GET_WORD", dw)
	if word < 0 || word > 1 {
		panic(errs.Newf("GET_WORD", errs.ErrCodeBounds, "word %d outside DWORD", word))
	}
	return binary.LittleEndian.Uint16(c.buf[off+2*word:])
}

// SetByte stores val in byte 0..3 of DWORD dw
func (c *Command) SetByte(val uint8, dw int, b int) {
	off := c.checkDword("SET_BYTE", dw)
	if b < 0 || b > 3 {
		panic(errs.Newf("SET_BYTE", errs.ErrCodeBounds, "byte %d outside DWORD", b))
	}
	c.buf[off+b] = val
}

// GetByte returns byte 0..3 of DWORD dw
func (c *Command) GetByte(dw int, b int) uint8 {
	off := c.checkDword("GET_BYTE", dw)
	if b < 0 || b > 3 {
		panic(errs.Newf("GET_BYTE", errs.ErrCodeBounds, "byte %d outside DWORD", b))
	}
	return c.buf[off+b]
}

// SetBit sets or clears bit 0..31 of DWORD dw
func (c *Command) SetBit(val bool, dw int, bit int) {
	if bit < 0 || bit > 31 {
		panic(errs.Newf("SET_BIT", errs.ErrCodeBounds, "bit %d outside DWORD", bit))
	}
	v := c.GetDword(dw)
	if val {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	c.SetDword(v, dw)
}

// GetBit returns bit 0..31 of DWORD dw
func (c *Command) GetBit(dw int, bit int) bool {
	if bit < 0 || bit > 31 {
		panic(errs.Newf("GET_BIT", errs.ErrCodeBounds, "bit %d outside DWORD", bit))
	}
	return c.GetDword(dw)&(1<<bit) != 0
}

func (c *Command) Opcode() uint8 {
	return c.GetByte(0, 0)
}

// CID returns the command identifier, valid once the command has been sent
func (c *Command) CID() uint16 {
	return c.GetWord(0, 1)
}

// SetFUSE sets the fused operation field, DWORD0 bits 9:8
func (c *Command) SetFUSE(fuse uint8) {
	v := c.GetDword(0) &^ (0x3 << 8)
	c.SetDword(v|uint32(fuse&0x3)<<8, 0)
}

func (c *Command) FUSE() uint8 {
	return uint8(c.GetDword(0)>>8) & 0x3
}

func (c *Command) SetNSID(nsid uint32) {
	c.SetDword(nsid, 1)
}

func (c *Command) NSID() uint32 {
	return c.GetDword(1)
}

// Dump logs every DWORD of the command
func (c *Command) Dump(log *logging.Logger, header string) {
	log = log.WithCommand(c.Opcode(), c.CID())
	log.Info(header, "bytes", len(c.buf), "dir", c.dir.String(), "prp_mask", c.PrpBitmask())
	for i := 0; i < c.NumDwords(); i++ {
		log.Info("cmd", "dw", i, "value", fmt.Sprintf("0x%08x", c.GetDword(i)))
	}
}
