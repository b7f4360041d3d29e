package queue

import "sync/atomic"

// barrierDummy backs the fence below
var barrierDummy int64

// mfence orders our reads of ring memory after the driver's or device's
// writes. atomic.AddInt64 compiles to LOCK XADD on x86-64, a full fence.
func mfence() {
	atomic.AddInt64(&barrierDummy, 0)
}
