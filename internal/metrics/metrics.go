// Package metrics tracks harness activity: commands staged, doorbells,
// completions reaped, poll outcomes and metadata pool traffic.
package metrics

import (
	"sync/atomic"
	"time"
)

// WaitBuckets defines the reap-wait histogram buckets in nanoseconds,
// from 10us up to 10s
var WaitBuckets = []uint64{
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numWaitBuckets = 7

// Metrics holds harness counters. The zero value is usable; all fields are
// updated atomically.
type Metrics struct {
	// Submission path
	CommandsSent atomic.Uint64
	SendErrors   atomic.Uint64
	Doorbells    atomic.Uint64

	// Completion path
	ReapInquiries      atomic.Uint64
	CompletionsReaped  atomic.Uint64
	Timeouts           atomic.Uint64
	OverReports        atomic.Uint64 // more completions visible than requested
	ValidationFailures atomic.Uint64

	// Metadata pool
	MetaReservations atomic.Uint64
	MetaReuses       atomic.Uint64 // served from the released set
	MetaDriverAllocs atomic.Uint64
	MetaDriverFrees  atomic.Uint64
	MetaOutstanding  atomic.Int64

	// Controller lifecycle
	StateChanges    atomic.Uint64
	ObjectsFreed    atomic.Uint64
	ToxicInjections atomic.Uint64

	// Reap wait time
	TotalWaitNs atomic.Uint64
	WaitCount   atomic.Uint64
	WaitBuckets [numWaitBuckets]atomic.Uint64

	StartTime atomic.Int64
}

// New creates a new metrics instance
func New() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records one staged command
func (m *Metrics) RecordSend(success bool) {
	if success {
		m.CommandsSent.Add(1)
	} else {
		m.SendErrors.Add(1)
	}
}

func (m *Metrics) RecordDoorbell() {
	m.Doorbells.Add(1)
}

func (m *Metrics) RecordInquiry() {
	m.ReapInquiries.Add(1)
}

// RecordWait records the outcome of one bounded reap wait
func (m *Metrics) RecordWait(elapsed time.Duration, timedOut bool, overReported bool) {
	if timedOut {
		m.Timeouts.Add(1)
	}
	if overReported {
		m.OverReports.Add(1)
	}

	ns := uint64(elapsed.Nanoseconds())
	m.TotalWaitNs.Add(ns)
	m.WaitCount.Add(1)
	for i, bucket := range WaitBuckets {
		if ns <= bucket {
			m.WaitBuckets[i].Add(1)
		}
	}
}

// RecordReap records completions copied out and how many failed validation
func (m *Metrics) RecordReap(reaped uint32, invalid uint32) {
	m.CompletionsReaped.Add(uint64(reaped))
	m.ValidationFailures.Add(uint64(invalid))
}

// RecordMetaReserve records a metadata buffer reservation
func (m *Metrics) RecordMetaReserve(reused bool) {
	m.MetaReservations.Add(1)
	if reused {
		m.MetaReuses.Add(1)
	} else {
		m.MetaDriverAllocs.Add(1)
	}
	m.MetaOutstanding.Add(1)
}

// RecordMetaRelease records a buffer returning to the released set
func (m *Metrics) RecordMetaRelease() {
	m.MetaOutstanding.Add(-1)
}

// RecordMetaFree records buffers handed back to the driver
func (m *Metrics) RecordMetaFree(freed int, wereReserved int) {
	m.MetaDriverFrees.Add(uint64(freed))
	m.MetaOutstanding.Add(-int64(wereReserved))
}

func (m *Metrics) RecordStateChange() {
	m.StateChanges.Add(1)
}

func (m *Metrics) RecordObjectsFreed(n int) {
	m.ObjectsFreed.Add(uint64(n))
}

func (m *Metrics) RecordToxic() {
	m.ToxicInjections.Add(1)
}

// Snapshot is a point-in-time copy of Metrics
type Snapshot struct {
	CommandsSent uint64
	SendErrors   uint64
	Doorbells    uint64

	ReapInquiries      uint64
	CompletionsReaped  uint64
	Timeouts           uint64
	OverReports        uint64
	ValidationFailures uint64

	MetaReservations uint64
	MetaReuses       uint64
	MetaDriverAllocs uint64
	MetaDriverFrees  uint64
	MetaOutstanding  int64

	StateChanges    uint64
	ObjectsFreed    uint64
	ToxicInjections uint64

	AvgWaitNs     uint64
	WaitP50Ns     uint64
	WaitP99Ns     uint64
	WaitHistogram [numWaitBuckets]uint64

	UptimeNs     uint64
	MetaHitRatio float64 // fraction of reservations served without the driver
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		CommandsSent:       m.CommandsSent.Load(),
		SendErrors:         m.SendErrors.Load(),
		Doorbells:          m.Doorbells.Load(),
		ReapInquiries:      m.ReapInquiries.Load(),
		CompletionsReaped:  m.CompletionsReaped.Load(),
		Timeouts:           m.Timeouts.Load(),
		OverReports:        m.OverReports.Load(),
		ValidationFailures: m.ValidationFailures.Load(),
		MetaReservations:   m.MetaReservations.Load(),
		MetaReuses:         m.MetaReuses.Load(),
		MetaDriverAllocs:   m.MetaDriverAllocs.Load(),
		MetaDriverFrees:    m.MetaDriverFrees.Load(),
		MetaOutstanding:    m.MetaOutstanding.Load(),
		StateChanges:       m.StateChanges.Load(),
		ObjectsFreed:       m.ObjectsFreed.Load(),
		ToxicInjections:    m.ToxicInjections.Load(),
	}

	waits := m.WaitCount.Load()
	if waits > 0 {
		snap.AvgWaitNs = m.TotalWaitNs.Load() / waits
		snap.WaitP50Ns = m.percentile(0.50)
		snap.WaitP99Ns = m.percentile(0.99)
	}
	for i := 0; i < numWaitBuckets; i++ {
		snap.WaitHistogram[i] = m.WaitBuckets[i].Load()
	}

	if start := m.StartTime.Load(); start > 0 {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}

	if snap.MetaReservations > 0 {
		snap.MetaHitRatio = float64(snap.MetaReuses) / float64(snap.MetaReservations)
	}

	return snap
}

// percentile estimates the wait at p (0.0-1.0) by linear interpolation
// between histogram buckets
func (m *Metrics) percentile(p float64) uint64 {
	total := m.WaitCount.Load()
	if total == 0 {
		return 0
	}

	target := uint64(float64(total) * p)
	prevBucket := uint64(0)
	prevCount := uint64(0)
	for i, bucket := range WaitBuckets {
		count := m.WaitBuckets[i].Load()
		if count >= target {
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
		prevCount = count
	}
	return WaitBuckets[numWaitBuckets-1]
}

// Reset zeroes every counter
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.CommandsSent, &m.SendErrors, &m.Doorbells,
		&m.ReapInquiries, &m.CompletionsReaped, &m.Timeouts, &m.OverReports, &m.ValidationFailures,
		&m.MetaReservations, &m.MetaReuses, &m.MetaDriverAllocs, &m.MetaDriverFrees,
		&m.StateChanges, &m.ObjectsFreed, &m.ToxicInjections,
		&m.TotalWaitNs, &m.WaitCount,
	} {
		c.Store(0)
	}
	for i := range m.WaitBuckets {
		m.WaitBuckets[i].Store(0)
	}
	m.MetaOutstanding.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
}
