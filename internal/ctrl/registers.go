package ctrl

import (
	"fmt"
	"time"
)

// Controller register offsets in BAR0
const (
	RegCAP   = 0x00
	RegVS    = 0x08
	RegINTMS = 0x0c
	RegINTMC = 0x10
	RegCC    = 0x14
	RegCSTS  = 0x1c
	RegAQA   = 0x24
	RegASQ   = 0x28
	RegACQ   = 0x30
)

// Registers is a snapshot of the controller registers diagnostics care about
type Registers struct {
	CAP  uint64
	VS   uint32
	CC   uint32
	CSTS uint32
}

// MaxQueueEntries decodes CAP.MQES, which is 0-based
func MaxQueueEntries(capReg uint64) uint32 {
	return uint32(capReg&0xffff) + 1
}

// ContiguousRequired reports CAP.CQR
func ContiguousRequired(capReg uint64) bool {
	return capReg&(1<<16) != 0
}

// ReadyTimeout decodes CAP.TO, given in 500ms units
func ReadyTimeout(capReg uint64) time.Duration {
	return time.Duration((capReg>>24)&0xff) * 500 * time.Millisecond
}

// DoorbellStride decodes CAP.DSTRD into bytes
func DoorbellStride(capReg uint64) int {
	return 4 << ((capReg >> 32) & 0xf)
}

// MinPageSize decodes CAP.MPSMIN into bytes
func MinPageSize(capReg uint64) int {
	return 4096 << ((capReg >> 48) & 0xf)
}

func (r Registers) Enabled() bool { return r.CC&1 != 0 }
func (r Registers) Ready() bool   { return r.CSTS&1 != 0 }
func (r Registers) Fatal() bool   { return r.CSTS&2 != 0 }

// Version formats VS as major.minor.tertiary
func (r Registers) Version() string {
	return fmt.Sprintf("%d.%d.%d", r.VS>>16, (r.VS>>8)&0xff, r.VS&0xff)
}
