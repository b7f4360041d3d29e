package session

import (
	"errors"

	"github.com/ehrlich-b/go-tnvme/internal/errs"
	"github.com/ehrlich-b/go-tnvme/internal/queue"
	"github.com/ehrlich-b/go-tnvme/internal/resource"
)

// CreateAdminQueues creates the admin completion and submission queues and
// registers them under the names that survive a partial disable. The
// controller must be completely disabled.
func (s *Session) CreateAdminQueues(entries uint32) (*queue.SQ, *queue.CQ, error) {
	const op = "CREATE_ADMIN_QUEUES"

	if !s.FullyDisabled() {
		return nil, nil, errs.Newf(op, errs.ErrCodeInvalidState,
			"controller is %s, admin queues need it completely disabled", s.state)
	}

	acq, err := resource.AllocateNamed(s.Registry(), resource.AdminCQName, func() (*queue.CQ, error) {
		cq := queue.NewCQ(s)
		cq.PollInterval = s.pollInterval
		if err := cq.InitAdmin(entries); err != nil {
			return nil, err
		}
		return cq, nil
	})
	if err != nil {
		return nil, nil, err
	}

	asq, err := resource.AllocateNamed(s.Registry(), resource.AdminSQName, func() (*queue.SQ, error) {
		sq := queue.NewSQ(s)
		if err := sq.InitAdmin(entries, acq); err != nil {
			return nil, err
		}
		return sq, nil
	})
	if err != nil {
		// The pair is created together or not at all
		if ferr := s.Registry().FreeNamed(resource.AdminCQName); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return nil, nil, err
	}

	s.log.Info("admin queues created", "entries", entries)
	return asq, acq, nil
}

// AdminQueues returns the registered admin queue pair
func (s *Session) AdminQueues() (*queue.SQ, *queue.CQ, error) {
	asq, err := resource.GetNamed[*queue.SQ](s.Registry(), resource.AdminSQName)
	if err != nil {
		return nil, nil, err
	}
	acq, err := resource.GetNamed[*queue.CQ](s.Registry(), resource.AdminCQName)
	if err != nil {
		return nil, nil, err
	}
	return asq, acq, nil
}
