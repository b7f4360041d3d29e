// Package scenario holds the self-contained conformance checks the harness
// runs against a device. Each scenario starts from a completely disabled
// controller and leaves cleanup of its queues to the next disable.
package scenario

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ehrlich-b/go-tnvme/internal/constants"
	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/queue"
	"github.com/ehrlich-b/go-tnvme/internal/session"
)

// Scenario is one independent check
type Scenario struct {
	Name string
	Desc string
	Run  func(s *session.Session) error
}

// Result is the outcome of one scenario
type Result struct {
	Name    string
	Err     error
	Elapsed time.Duration
}

func (r Result) Passed() bool { return r.Err == nil }

// All returns the built-in scenarios in run order
func All() []Scenario {
	return []Scenario{
		{
			Name: "delete-missing-iosq",
			Desc: "Delete IO SQ for a queue that does not exist completes with Invalid Queue Identifier",
			Run:  DeleteMissingIOSQ,
		},
		{
			Name: "fill-iosq",
			Desc: "entries-1 writes staged behind one doorbell complete with increasing CIDs",
			Run: func(s *session.Session) error {
				return FillIOSQ(s, constants.DefaultIOQueueEntries)
			},
		},
		{
			Name: "bind-zero-length",
			Desc: "binding a zero-length payload is refused before anything is sent",
			Run:  BindZeroLength,
		},
	}
}

// Lookup finds a built-in scenario by name
func Lookup(name string) (Scenario, bool) {
	for _, sc := range All() {
		if sc.Name == name {
			return sc, true
		}
	}
	return Scenario{}, false
}

// Run executes scenarios in order. A hard failure captures diagnostics,
// into dumpDir when set, and resets the controller before the next one.
func Run(s *session.Session, scenarios []Scenario, dumpDir string) []Result {
	log := s.Logger()
	results := make([]Result, 0, len(scenarios))

	for _, sc := range scenarios {
		log.Info("scenario starting", "name", sc.Name)
		start := time.Now()
		err := sc.Run(s)
		res := Result{Name: sc.Name, Err: err, Elapsed: time.Since(start)}

		if err != nil {
			dump := ""
			if dumpDir != "" {
				dump = filepath.Join(dumpDir, sc.Name+".dump")
			}
			res.Err = s.HandleFailure(err, dump)
			log.WithError(err).Error("scenario failed", "name", sc.Name, "elapsed", res.Elapsed)
		} else {
			log.Info("scenario passed", "name", sc.Name, "elapsed", res.Elapsed)
		}
		results = append(results, res)
	}
	return results
}

// freshAdmin completely disables the controller, creates an admin pair of
// the given depth and enables it again
func freshAdmin(s *session.Session, entries uint32) (*queue.SQ, *queue.CQ, error) {
	if err := s.DisableCompletely(); err != nil {
		return nil, nil, err
	}
	asq, acq, err := s.CreateAdminQueues(entries)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Enable(); err != nil {
		return nil, nil, err
	}
	return asq, acq, nil
}

// expectCount fails unless exactly want completions were visible
func expectCount(op string, cq *queue.CQ, got, want uint32) error {
	if got != want {
		return errs.NewQueueError(op, cq.QID(), errs.ErrCodeValidation,
			fmt.Sprintf("expected %d completions, found %d", want, got))
	}
	return nil
}
