package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMembershipSource struct {
	mock.Mock
}

func (m *mockMembershipSource) IsMember(ctx context.Context, matchID, identity uuid.UUID) (bool, error) {
	args := m.Called(ctx, matchID, identity)
	return args.Bool(0), args.Error(1)
}

func (m *mockMembershipSource) LatestJoinRequest(ctx context.Context, matchID, identity uuid.UUID) (*match.JoinRequest, error) {
	args := m.Called(ctx, matchID, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*match.JoinRequest), args.Error(1)
}

// fakeClock records requested sleeps instead of waiting.
type fakeClock struct {
	slept   time.Duration
	calls   int
	onSleep func(call int)
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.calls++
	c.slept += d
	if c.onSleep != nil {
		c.onSleep(c.calls)
	}
	return nil
}

func newTestReconciler(source MembershipSource) (*Reconciler, *fakeClock) {
	r := NewReconciler(source, ReconcilerConfig{Interval: 2 * time.Second, MaxAttempts: 5})
	clock := &fakeClock{}
	r.sleep = clock.sleep
	return r, clock
}

func request(status match.JoinStatus) *match.JoinRequest {
	return &match.JoinRequest{ID: uuid.New(), Status: status}
}

func TestCheckMembershipImmediateAnswers(t *testing.T) {
	testCases := []struct {
		name     string
		member   bool
		request  *match.JoinRequest
		expected MembershipStatus
	}{
		{name: "already on roster", member: true, expected: MembershipApproved},
		{name: "no request", expected: MembershipNone},
		{name: "pending request", request: request(match.JoinPending), expected: MembershipPending},
		{name: "rejected request", request: request(match.JoinRejected), expected: MembershipRejected},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			source := new(mockMembershipSource)
			source.On("IsMember", mock.Anything, mock.Anything, mock.Anything).Return(tc.member, nil).Once()
			if !tc.member {
				source.On("LatestJoinRequest", mock.Anything, mock.Anything, mock.Anything).Return(tc.request, nil).Once()
			}
			r, clock := newTestReconciler(source)

			result := r.CheckMembership(context.Background(), uuid.New(), uuid.New())

			assert.Equal(t, tc.expected, result.Status)
			assert.False(t, result.Superseded)
			assert.Zero(t, clock.calls, "no polling")
			source.AssertExpectations(t)
		})
	}
}

func TestCheckMembershipPollsUntilRosterCatchesUp(t *testing.T) {
	source := new(mockMembershipSource)
	source.On("IsMember", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Twice()
	source.On("IsMember", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("connection reset")).Once()
	source.On("IsMember", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()
	source.On("LatestJoinRequest", mock.Anything, mock.Anything, mock.Anything).Return(request(match.JoinApproved), nil).Once()
	r, clock := newTestReconciler(source)

	result := r.CheckMembership(context.Background(), uuid.New(), uuid.New())

	assert.Equal(t, MembershipApproved, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 6*time.Second, clock.slept)
	source.AssertExpectations(t)
}

func TestCheckMembershipGivesUpAfterBudget(t *testing.T) {
	source := new(mockMembershipSource)
	source.On("IsMember", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Times(6)
	source.On("LatestJoinRequest", mock.Anything, mock.Anything, mock.Anything).Return(request(match.JoinApproved), nil).Once()
	r, clock := newTestReconciler(source)

	result := r.CheckMembership(context.Background(), uuid.New(), uuid.New())

	assert.Equal(t, MembershipNone, result.Status)
	assert.Equal(t, NotSynchronizedMessage, result.Message)
	assert.Equal(t, 5, result.Attempts)
	assert.Equal(t, 10*time.Second, clock.slept)
	assert.False(t, result.Superseded)
	source.AssertExpectations(t)
}

func TestCheckMembershipLookupFailureIsSoft(t *testing.T) {
	source := new(mockMembershipSource)
	source.On("IsMember", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("timeout")).Once()
	r, _ := newTestReconciler(source)

	result := r.CheckMembership(context.Background(), uuid.New(), uuid.New())

	assert.Equal(t, MembershipNone, result.Status)
	assert.NotEmpty(t, result.Message)
	source.AssertNotCalled(t, "LatestJoinRequest", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelSupersedesCheckInFlight(t *testing.T) {
	source := new(mockMembershipSource)
	source.On("IsMember", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	source.On("LatestJoinRequest", mock.Anything, mock.Anything, mock.Anything).Return(request(match.JoinApproved), nil)
	r, clock := newTestReconciler(source)
	clock.onSleep = func(call int) {
		if call == 2 {
			r.Cancel()
		}
	}

	result := r.CheckMembership(context.Background(), uuid.New(), uuid.New())

	assert.True(t, result.Superseded)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, clock.calls, "polling stops once superseded")
}

func TestLateResponseFromOldGenerationIsDiscarded(t *testing.T) {
	source := new(mockMembershipSource)
	r, _ := newTestReconciler(source)
	source.On("IsMember", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { r.Cancel() }).
		Return(true, nil).Once()

	result := r.CheckMembership(context.Background(), uuid.New(), uuid.New())

	assert.True(t, result.Superseded)
	assert.Equal(t, MembershipNone, result.Status, "approved answer belonged to a stale generation")
}

func TestNewerCheckGetsNewGeneration(t *testing.T) {
	source := new(mockMembershipSource)
	source.On("IsMember", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	r, _ := newTestReconciler(source)

	first := r.CheckMembership(context.Background(), uuid.New(), uuid.New())
	second := r.CheckMembership(context.Background(), uuid.New(), uuid.New())

	require.False(t, first.Superseded)
	assert.Greater(t, second.Generation, first.Generation)
}

func TestStoreMembershipSource(t *testing.T) {
	f := newFixture(t)
	m := f.createMatch(t, nil, true)
	requester := uuid.New()
	source := NewStoreMembershipSource(f.stores)

	member, err := source.IsMember(f.ctx, m.ID, f.adminID)
	require.NoError(t, err)
	assert.True(t, member)

	req, err := source.LatestJoinRequest(f.ctx, m.ID, requester)
	require.NoError(t, err)
	assert.Nil(t, req)

	_, err = f.admission.RequestJoin(f.ctx, m.ID, requester)
	require.NoError(t, err)
	req, err = source.LatestJoinRequest(f.ctx, m.ID, requester)
	require.NoError(t, err)
	assert.Equal(t, match.JoinPending, req.Status)

	r := NewReconciler(source, ReconcilerConfig{Interval: time.Millisecond, MaxAttempts: 1})
	assert.Equal(t, MembershipPending, r.CheckMembership(f.ctx, m.ID, requester).Status)
}
