package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acceptedDecision(student string, within bool, at time.Time) Decision {
	loc := east(5)
	if !within {
		loc = east(50)
	}
	return Decision{
		Accepted:     true,
		StudentRef:   student,
		SessionRef:   "ses-1",
		Session:      testSession(),
		ClaimTime:    at,
		Location:     loc,
		WithinRadius: within,
	}
}

func TestRecorder_RecordsOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := NewRecorder(store, NewClassifier(DefaultPolicy()), time.Second)

	first, err := r.Record(ctx, acceptedDecision("stu-1", true, opensAt.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, StatusPresent, first.Record.Status)
	assert.True(t, first.Record.WithinRadius)

	// a retry from elsewhere, later, outside the fence
	second, err := r.Record(ctx, acceptedDecision("stu-1", false, opensAt.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Record, second.Record, "duplicate reports the stored row")
	assert.Equal(t, 1, store.count())
}

func TestRecorder_OutsideRadiusStoredLate(t *testing.T) {
	res, err := NewRecorder(newMemStore(), NewClassifier(DefaultPolicy()), 0).
		Record(context.Background(), acceptedDecision("stu-1", false, opensAt))
	require.NoError(t, err)
	assert.Equal(t, StatusLate, res.Record.Status)
	assert.False(t, res.Record.WithinRadius)
}

func TestRecorder_StorageFailure(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection reset")

	_, err := NewRecorder(store, NewClassifier(DefaultPolicy()), 0).
		Record(context.Background(), acceptedDecision("stu-1", true, opensAt))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ErrDuplicateAttendance)
	assert.Equal(t, CodeStorageUnavailable, CodeOf(err))
	assert.True(t, IsRetryable(err))
}

func TestRecorder_RefusesRejectedDecision(t *testing.T) {
	store := newMemStore()
	_, err := NewRecorder(store, NewClassifier(DefaultPolicy()), 0).
		Record(context.Background(), Decision{Reason: CodeIneligible})
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Zero(t, store.count())
}

func TestRecorder_DuplicateWithoutReadBackFails(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := NewRecorder(store, NewClassifier(DefaultPolicy()), 0)

	first, err := r.Record(ctx, acceptedDecision("stu-1", true, opensAt.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, StatusPresent, first.Record.Status)

	store.getErr = errors.New("read replica lagging")
	second, err := r.Record(ctx, acceptedDecision("stu-1", false, opensAt.Add(time.Hour)))
	require.Error(t, err)
	assert.Equal(t, CodeStorageUnavailable, CodeOf(err))
	assert.True(t, IsRetryable(err))
	assert.Zero(t, second.Record, "a lost row must not be reported as the stored one")
	assert.Equal(t, 1, store.count())
}
