package tnvme

import (
	"github.com/ehrlich-b/go-tnvme/internal/logging"
	"github.com/ehrlich-b/go-tnvme/internal/session"
	"github.com/ehrlich-b/go-tnvme/internal/simdrv"
)

// SimulatedDriver is an in-memory controller behind the driver contract.
// It completes admin and NVM commands on doorbell and records every call,
// which makes it suitable for testing code built on this package without
// hardware.
type SimulatedDriver = simdrv.Driver

// NewSimulatedDriver returns a completely disabled simulated controller
// with one namespace
func NewSimulatedDriver() *SimulatedDriver {
	return simdrv.New()
}

// NewTestSession returns a quiet session over a fresh simulated driver
func NewTestSession(opts Options) (*Session, *SimulatedDriver) {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	drv := simdrv.New()
	return session.New(drv, opts), drv
}
