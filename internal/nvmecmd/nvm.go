package nvmecmd

import "github.com/ehrlich-b/go-tnvme/internal/uapi"

// NVM command set opcodes
const (
	OpcFlush = 0x00
	OpcWrite = 0x01
	OpcRead  = 0x02
)

// rwCommand carries the SLBA/NLB fields shared by Read and Write
type rwCommand struct {
	Command
}

// SetSLBA stores the starting LBA across DW10-11
func (c *rwCommand) SetSLBA(lba uint64) {
	c.SetDword(uint32(lba), 10)
	c.SetDword(uint32(lba>>32), 11)
}

func (c *rwCommand) SLBA() uint64 {
	return uint64(c.GetDword(11))<<32 | uint64(c.GetDword(10))
}

// SetNLB stores the 0-based number of logical blocks
func (c *rwCommand) SetNLB(nlb uint16) {
	c.SetWord(nlb, 12, 0)
}

func (c *rwCommand) NLB() uint16 {
	return c.GetWord(12, 0)
}

// SetFUA sets the force unit access bit
func (c *rwCommand) SetFUA(fua bool) {
	c.SetBit(fua, 12, 30)
}

// Write is the NVM Write command
type Write struct {
	rwCommand
}

func NewWrite() *Write {
	c := &Write{}
	c.Init(OpcWrite, DirToDevice, uapi.CommandSize)
	return c
}

// Read is the NVM Read command
type Read struct {
	rwCommand
}

func NewRead() *Read {
	c := &Read{}
	c.Init(OpcRead, DirFromDevice, uapi.CommandSize)
	return c
}

// Flush is the NVM Flush command
type Flush struct {
	Command
}

func NewFlush() *Flush {
	c := &Flush{}
	c.Init(OpcFlush, DirNone, uapi.CommandSize)
	return c
}
