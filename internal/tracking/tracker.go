// Package tracking maintains the hiring-stage state of candidates on
// a job. Every status change is stamped with who made it and when,
// then written through the storage layer before it is reported back.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talent-match-go/internal/constants"
	"talent-match-go/internal/types"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = errors.New("tracking: invalid candidate status")
	// ErrInvalidTransition is returned in strict mode for a move the
	// pipeline does not allow.
	ErrInvalidTransition = errors.New("tracking: transition not allowed")
)

// Store persists tracking state. A write that fails must leave the
// stored record unchanged.
type Store interface {
	UpdateTracking(ctx context.Context, jobID, fileName string, tracking types.Tracking) error
}

// UpdateRequest describes one requested status change.
type UpdateRequest struct {
	Status        types.CandidateStatus
	UpdatedBy     string
	RateConfirmed *float64
	InterviewDate *time.Time
	Notes         string
}

// strictTransitions is the forward-only pipeline enforced when strict
// mode is on. Recruiters in practice jump stages and undo mistakes,
// so the default stays permissive.
var strictTransitions = map[types.CandidateStatus][]types.CandidateStatus{
	types.StatusMatched:            {types.StatusShortlisted, types.StatusNotInterested},
	types.StatusShortlisted:        {types.StatusContacted, types.StatusNotInterested},
	types.StatusContacted:          {types.StatusInterested, types.StatusNotInterested},
	types.StatusInterested:         {types.StatusRateConfirmed, types.StatusNotInterested},
	types.StatusRateConfirmed:      {types.StatusInterviewScheduled, types.StatusNotInterested},
	types.StatusInterviewScheduled: {types.StatusApproved, types.StatusDisapproved},
	types.StatusNotInterested:      {},
	types.StatusApproved:           {},
	types.StatusDisapproved:        {},
}

// StateTracker applies status changes and writes them through store.
type StateTracker struct {
	store  Store
	strict bool
	now    func() time.Time
	logger zerolog.Logger
}

// TrackerOption configures a StateTracker.
type TrackerOption func(*StateTracker)

// WithStrictTransitions turns on the forward-only pipeline check.
func WithStrictTransitions() TrackerOption {
	return func(t *StateTracker) {
		t.strict = true
	}
}

// withClock overrides the timestamp source in tests.
func withClock(now func() time.Time) TrackerOption {
	return func(t *StateTracker) {
		t.now = now
	}
}

// NewStateTracker creates a tracker writing through store.
func NewStateTracker(store Store, logger zerolog.Logger, options ...TrackerOption) *StateTracker {
	tracker := &StateTracker{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range options {
		opt(tracker)
	}
	return tracker
}

// Transition applies req to the candidate's current tracking state
// and persists the result. current may be nil for a candidate that
// has never been tracked; it is treated as freshly matched. The
// returned state is the persisted one; on any error the stored state
// is unchanged and nil is returned.
func (t *StateTracker) Transition(ctx context.Context, jobID, fileName string, current *types.Tracking, req UpdateRequest) (*types.Tracking, error) {
	if !req.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}

	from := types.StatusMatched
	if current != nil {
		from = current.Status.Normalize()
	}

	if t.strict && !transitionAllowed(from, req.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, req.Status)
	}

	updatedBy := req.UpdatedBy
	if updatedBy == "" {
		updatedBy = constants.SystemActor
	}

	next := types.Tracking{
		Status:      req.Status,
		LastUpdated: t.now(),
		UpdatedBy:   updatedBy,
	}

	// carry forward details a later stage still needs
	if current != nil {
		next.RateConfirmed = current.RateConfirmed
		next.InterviewDate = current.InterviewDate
		next.Notes = current.Notes
	}
	if req.RateConfirmed != nil {
		next.RateConfirmed = req.RateConfirmed
	}
	if req.InterviewDate != nil {
		next.InterviewDate = req.InterviewDate
	}
	if req.Notes != "" {
		next.Notes = req.Notes
	}

	if err := t.store.UpdateTracking(ctx, jobID, fileName, next); err != nil {
		t.logger.Error().Err(err).
			Str("job_id", jobID).
			Str("file_name", fileName).
			Str("status", string(req.Status)).
			Msg("failed to persist tracking update")
		return nil, fmt.Errorf("persist tracking for %s/%s: %w", jobID, fileName, err)
	}

	t.logger.Info().
		Str("job_id", jobID).
		Str("file_name", fileName).
		Str("from", string(from)).
		Str("to", string(req.Status)).
		Str("updated_by", updatedBy).
		Msg("candidate status updated")

	return &next, nil
}

func transitionAllowed(from, to types.CandidateStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range strictTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
