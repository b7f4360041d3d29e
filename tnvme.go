// Package tnvme is the core of an NVMe conformance harness. It drives a
// controller through the dnvme test driver's ioctl and mmap contract:
// commands are built byte by byte, staged on submission queues, committed
// by doorbell and reaped from completion queues with status checks.
//
// A Session owns one open device. Every queue, command buffer and
// metadata buffer is created from it and freed when the controller is
// disabled.
//
// Example:
//
//	s, err := tnvme.Open("/dev/nvme0", tnvme.Options{})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	if err := s.DisableCompletely(); err != nil {
//		return err
//	}
//	asq, acq, err := s.CreateAdminQueues(16)
package tnvme

import (
	"github.com/ehrlich-b/go-tnvme/internal/hatch"
	"github.com/ehrlich-b/go-tnvme/internal/interfaces"
	"github.com/ehrlich-b/go-tnvme/internal/queue"
	"github.com/ehrlich-b/go-tnvme/internal/scenario"
	"github.com/ehrlich-b/go-tnvme/internal/session"
)

type (
	// Session is one open device
	Session = session.Session

	// Options configures a session. Zero values select defaults.
	Options = session.Options

	// State is the controller state last set through a session
	State = session.State

	// Driver is the ioctl/mmap contract of the test driver
	Driver = interfaces.Driver

	SubmissionQueue = queue.SQ
	CompletionQueue = queue.CQ
	StatusCheck     = queue.StatusCheck

	Scenario       = scenario.Scenario
	ScenarioResult = scenario.Result
)

const (
	StateUnknown            = session.StateUnknown
	StateEnabled            = session.StateEnabled
	StateDisabled           = session.StateDisabled
	StateDisabledCompletely = session.StateDisabledCompletely
)

// Completion checks
var (
	ExpectSuccess = queue.ExpectSuccess
	ExpectStatus  = queue.ExpectStatus
	AnyStatus     = queue.AnyStatus
)

// Open opens the test driver node at path. The caller must hold the
// harness lock; only one session may drive a device.
func Open(path string, opts Options) (*Session, error) {
	return session.Open(path, opts)
}

// NewSession builds a session over an already open driver
func NewSession(drv Driver, opts Options) *Session {
	return session.New(drv, opts)
}

// Scenarios returns the built-in conformance scenarios
func Scenarios() []Scenario {
	return scenario.All()
}

// RunScenarios runs scenarios in order, resetting the controller after
// every hard failure. Diagnostics dumps go to dumpDir when it is set.
func RunScenarios(s *Session, scenarios []Scenario, dumpDir string) []ScenarioResult {
	return scenario.Run(s, scenarios, dumpDir)
}

// SetToxicCmdValue overwrites the bits of mask in DWORD dword of the staged
// entry at ring index of sq with value. Nothing but the driver checks the
// result; it exists to provoke rejections the checked API cannot build.
func SetToxicCmdValue(s *Session, sq *SubmissionQueue, index uint16, dword uint8, mask, value uint32) error {
	return hatch.SetToxicCmdValue(s, sq, index, dword, mask, value)
}
