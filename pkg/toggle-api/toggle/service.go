package toggle

import (
	"context"

	"github.com/skycoin/dongle-services/internal/dongle"
)

// Service gates the Executor with the Tracker.
type Service struct {
	tracker  *Tracker
	executor *Executor
}

// NewService returns a Service.
func NewService(tracker *Tracker, executor *Executor) *Service {
	executor.metrics.SetActiveToggles(tracker.Len)
	return &Service{tracker: tracker, executor: executor}
}

// Tracker returns the progress tracker.
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// Toggle runs one toggle for subnet. It fails fast with ErrAlreadyInProgress
// or ErrTooManyConcurrent without touching the state.
func (s *Service) Toggle(ctx context.Context, subnet int) (Outcome, error) {
	tok, err := s.tracker.Begin(subnet)
	if err != nil {
		s.executor.metrics.RecordRejected(rejectCode(err))
		return Outcome{}, err
	}
	defer s.tracker.Complete(tok)

	return s.executor.execute(ctx, subnet, tok.ID), nil
}

// Status returns the toggle status of subnet.
func (s *Service) Status(subnet int, lastToggle *dongle.Timestamp) dongle.ToggleStatus {
	return s.tracker.Status(subnet, lastToggle)
}

// InProgress reports whether subnet is being toggled.
func (s *Service) InProgress(subnet int) bool {
	return s.tracker.InProgress(subnet)
}

func rejectCode(err error) string {
	if err == ErrTooManyConcurrent {
		return CodeTooManyToggles
	}
	return CodeInProgress
}
