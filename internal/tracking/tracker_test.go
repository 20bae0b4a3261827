package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"talent-match-go/internal/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore keeps the last written tracking record per candidate.
type memStore struct {
	records map[string]types.Tracking
	failErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]types.Tracking)}
}

func (s *memStore) UpdateTracking(ctx context.Context, jobID, fileName string, tracking types.Tracking) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.records[jobID+"/"+fileName] = tracking
	return nil
}

func TestTransitionStampsActorAndTime(t *testing.T) {
	store := newMemStore()
	fixed := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	tracker := NewStateTracker(store, zerolog.Nop(), withClock(func() time.Time { return fixed }))

	got, err := tracker.Transition(context.Background(), "job-1", "alice.pdf", nil, UpdateRequest{
		Status:    types.StatusShortlisted,
		UpdatedBy: "recruiter-42",
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusShortlisted, got.Status)
	assert.Equal(t, "recruiter-42", got.UpdatedBy)
	assert.Equal(t, fixed, got.LastUpdated)
	assert.Equal(t, *got, store.records["job-1/alice.pdf"])
}

func TestTransitionDefaultsToSystemActor(t *testing.T) {
	tracker := NewStateTracker(newMemStore(), zerolog.Nop())

	got, err := tracker.Transition(context.Background(), "job-1", "alice.pdf", nil, UpdateRequest{
		Status: types.StatusContacted,
	})
	require.NoError(t, err)
	assert.Equal(t, "system", got.UpdatedBy)
}

func TestTransitionTimestampAdvancesAcrossStages(t *testing.T) {
	store := newMemStore()
	clock := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	tracker := NewStateTracker(store, zerolog.Nop(), withClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))

	var current *types.Tracking
	var err error
	for _, status := range []types.CandidateStatus{
		types.StatusShortlisted, types.StatusContacted, types.StatusApproved,
	} {
		previous := current
		current, err = tracker.Transition(context.Background(), "job-1", "alice.pdf", current, UpdateRequest{
			Status:    status,
			UpdatedBy: "recruiter-42",
		})
		require.NoError(t, err)
		if previous != nil {
			assert.True(t, current.LastUpdated.After(previous.LastUpdated))
		}
	}
	assert.Equal(t, types.StatusApproved, current.Status)
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	tracker := NewStateTracker(newMemStore(), zerolog.Nop())

	_, err := tracker.Transition(context.Background(), "job-1", "alice.pdf", nil, UpdateRequest{
		Status: types.CandidateStatus("ghosted"),
	})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestTransitionCarriesForwardStageDetails(t *testing.T) {
	store := newMemStore()
	tracker := NewStateTracker(store, zerolog.Nop())

	rate := 95.0
	current, err := tracker.Transition(context.Background(), "job-1", "alice.pdf", nil, UpdateRequest{
		Status:        types.StatusRateConfirmed,
		UpdatedBy:     "recruiter-42",
		RateConfirmed: &rate,
	})
	require.NoError(t, err)

	interview := time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC)
	current, err = tracker.Transition(context.Background(), "job-1", "alice.pdf", current, UpdateRequest{
		Status:        types.StatusInterviewScheduled,
		UpdatedBy:     "recruiter-42",
		InterviewDate: &interview,
	})
	require.NoError(t, err)

	// the confirmed rate survives the next stage
	require.NotNil(t, current.RateConfirmed)
	assert.Equal(t, 95.0, *current.RateConfirmed)
	require.NotNil(t, current.InterviewDate)
	assert.Equal(t, interview, *current.InterviewDate)
}

func TestTransitionPermissiveAllowsJumps(t *testing.T) {
	tracker := NewStateTracker(newMemStore(), zerolog.Nop())

	current := &types.Tracking{Status: types.StatusMatched}
	got, err := tracker.Transition(context.Background(), "job-1", "alice.pdf", current, UpdateRequest{
		Status:    types.StatusApproved,
		UpdatedBy: "recruiter-42",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusApproved, got.Status)
}

func TestTransitionStrictRejectsJumps(t *testing.T) {
	tracker := NewStateTracker(newMemStore(), zerolog.Nop(), WithStrictTransitions())

	current := &types.Tracking{Status: types.StatusMatched}
	_, err := tracker.Transition(context.Background(), "job-1", "alice.pdf", current, UpdateRequest{
		Status:    types.StatusApproved,
		UpdatedBy: "recruiter-42",
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionStrictAllowsPipelineOrder(t *testing.T) {
	store := newMemStore()
	tracker := NewStateTracker(store, zerolog.Nop(), WithStrictTransitions())

	var current *types.Tracking
	var err error
	for _, status := range []types.CandidateStatus{
		types.StatusShortlisted,
		types.StatusContacted,
		types.StatusInterested,
		types.StatusRateConfirmed,
		types.StatusInterviewScheduled,
		types.StatusApproved,
	} {
		current, err = tracker.Transition(context.Background(), "job-1", "alice.pdf", current, UpdateRequest{
			Status:    status,
			UpdatedBy: "recruiter-42",
		})
		require.NoError(t, err, "transition to %s", status)
	}
	assert.Equal(t, types.StatusApproved, current.Status)
}

func TestTransitionPersistenceFailureLeavesStateUntouched(t *testing.T) {
	store := newMemStore()
	tracker := NewStateTracker(store, zerolog.Nop())

	current, err := tracker.Transition(context.Background(), "job-1", "alice.pdf", nil, UpdateRequest{
		Status:    types.StatusShortlisted,
		UpdatedBy: "recruiter-42",
	})
	require.NoError(t, err)

	store.failErr = errors.New("mysql has gone away")
	got, err := tracker.Transition(context.Background(), "job-1", "alice.pdf", current, UpdateRequest{
		Status:    types.StatusContacted,
		UpdatedBy: "recruiter-42",
	})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, types.StatusShortlisted, store.records["job-1/alice.pdf"].Status)
}
