package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"approvals/internal/model"
	"approvals/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuorum_TwoDistinctAdminsApprove(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r1 := f.create(t, "admin-1", 2)

	got, err := f.quorum.ApproveRequest(ctx, r1.ID, "admin-2", "looks fine")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	require.Len(t, got.ApprovedBy, 1)
	assert.Equal(t, "admin-2", got.ApprovedBy[0].AdminID)
	assert.Equal(t, "looks fine", got.ApprovedBy[0].Comments)
	assert.Equal(t, service.ProgressResponse{Current: 1, Required: 2}, got.Progress)

	got, err = f.quorum.ApproveRequest(ctx, r1.ID, "admin-3", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	require.Len(t, got.ApprovedBy, 2)
	assert.Equal(t, "admin-2", got.ApprovedBy[0].AdminID)
	assert.Equal(t, "admin-3", got.ApprovedBy[1].AdminID)
	assert.Equal(t, int64(2), got.Version)

	// A third voter finds the request already decided.
	_, err = f.quorum.ApproveRequest(ctx, r1.ID, "admin-4", "")
	assert.ErrorIs(t, err, service.ErrStateConflict)

	assert.Equal(t,
		[]string{model.ActionCreate, model.ActionApprove, model.ActionApprove},
		f.trailActions(t, r1.ID))
	assert.Equal(t,
		[]string{model.ActionCreate, model.ActionApprove, model.ActionApprove},
		f.notifier.actions())
}

func TestQuorum_SelfApprovalForbidden(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	r1 := f.create(t, "admin-1", 2)
	before := f.load(t, r1.ID)

	_, err := f.quorum.ApproveRequest(context.Background(), r1.ID, "admin-1", "")
	assert.ErrorIs(t, err, service.ErrForbidden)

	after := f.load(t, r1.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, model.StatusPending, after.Status)
	assert.Equal(t, []string{model.ActionCreate}, f.trailActions(t, r1.ID))
}

func TestQuorum_DuplicateVoteRejected(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r1 := f.create(t, "admin-1", 2)

	_, err := f.quorum.ApproveRequest(ctx, r1.ID, "admin-2", "")
	require.NoError(t, err)
	_, err = f.quorum.ApproveRequest(ctx, r1.ID, " admin-2 ", "again")
	assert.ErrorIs(t, err, service.ErrStateConflict)

	after := f.load(t, r1.ID)
	assert.Len(t, after.ApprovedBy, 1)
	assert.Equal(t, model.StatusPending, after.Status)
}

func TestQuorum_SingleRejectIsFinal(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r2 := f.create(t, "admin-1", 2)

	got, err := f.quorum.RejectRequest(ctx, r2.ID, "admin-2", "insufficient justification")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
	require.NotNil(t, got.Rejection)
	assert.Equal(t, "admin-2", got.Rejection.AdminID)
	assert.Equal(t, "insufficient justification", got.Rejection.Reason)
	assert.NotEmpty(t, got.Rejection.RejectedAt)

	_, err = f.quorum.ApproveRequest(ctx, r2.ID, "admin-3", "")
	assert.ErrorIs(t, err, service.ErrStateConflict)
	_, err = f.quorum.RejectRequest(ctx, r2.ID, "admin-3", "me too")
	assert.ErrorIs(t, err, service.ErrStateConflict)
}

func TestQuorum_RejectAfterPartialApproval(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r := f.create(t, "admin-1", 2)

	_, err := f.quorum.ApproveRequest(ctx, r.ID, "admin-2", "")
	require.NoError(t, err)
	got, err := f.quorum.RejectRequest(ctx, r.ID, "admin-3", "conflict of interest")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
	assert.Len(t, got.ApprovedBy, 1, "earlier votes stay on record")
}

func TestQuorum_RequesterMayWithdraw(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	r := f.create(t, "admin-1", 2)

	got, err := f.quorum.RejectRequest(context.Background(), r.ID, "admin-1", "filed by mistake")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
}

func TestQuorum_RejectRequiresReason(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	r := f.create(t, "admin-1", 2)

	_, err := f.quorum.RejectRequest(context.Background(), r.ID, "admin-2", "  ")
	var verr *service.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "reason", verr.Fields[0].Field)
	assert.Equal(t, model.StatusPending, f.load(t, r.ID).Status)
}

func TestQuorum_RejectQuorum(t *testing.T) {
	policy := service.DefaultPolicy()
	policy.RejectQuorumByType = map[string]int{model.ApprovalTypeStudentDataDrilldown: 2}
	f := newFixture(t, policy)
	ctx := context.Background()
	r := f.create(t, "admin-1", 2)

	got, err := f.quorum.RejectRequest(ctx, r.ID, "admin-2", "too broad")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Len(t, got.RejectionVotes, 1)
	assert.Nil(t, got.Rejection)

	_, err = f.quorum.RejectRequest(ctx, r.ID, "admin-2", "still too broad")
	assert.ErrorIs(t, err, service.ErrStateConflict)

	got, err = f.quorum.RejectRequest(ctx, r.ID, "admin-3", "agreed")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)
	assert.Len(t, got.RejectionVotes, 2)
	require.NotNil(t, got.Rejection)
	assert.Equal(t, "admin-3", got.Rejection.AdminID)
}

func TestQuorum_UnknownRequest(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()

	_, err := f.quorum.ApproveRequest(ctx, "6f1c4f0e-2b6d-4c1e-9a44-1f1f0c2b9a10", "admin-2", "")
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.quorum.RejectRequest(ctx, "nope", "admin-2", "x")
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.quorum.ApproveRequest(ctx, "nope", "", "")
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestQuorum_TerminalRequestsAreFrozen(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()

	approved := f.create(t, "admin-1", 1)
	_, err := f.quorum.ApproveRequest(ctx, approved.ID, "admin-2", "")
	require.NoError(t, err)
	rejected := f.create(t, "admin-1", 2)
	_, err = f.quorum.RejectRequest(ctx, rejected.ID, "admin-2", "no")
	require.NoError(t, err)

	for _, id := range []string{approved.ID, rejected.ID} {
		before := f.load(t, id)

		_, err = f.quorum.ApproveRequest(ctx, id, "admin-5", "")
		assert.ErrorIs(t, err, service.ErrStateConflict)
		_, err = f.quorum.RejectRequest(ctx, id, "admin-5", "late")
		assert.ErrorIs(t, err, service.ErrStateConflict)

		f.clock.Advance(100 * 24 * time.Hour)
		_, err = f.reaper.SweepOnce(ctx)
		require.NoError(t, err)

		assert.Equal(t, before, f.load(t, id))
	}
}

func TestQuorum_ConcurrentApprovalsReachQuorumOnce(t *testing.T) {
	policy := service.DefaultPolicy()
	policy.MaxCASAttempts = 3
	f := newFixture(t, policy)
	r := f.create(t, "admin-1", 2)

	const voters = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	wg.Add(voters)
	for i := 0; i < voters; i++ {
		go func(admin string) {
			defer wg.Done()
			_, err := f.quorum.ApproveRequest(context.Background(), r.ID, admin, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, service.ErrStateConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(fmt.Sprintf("admin-%d", i+2))
	}
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 2, successes)
	assert.Equal(t, voters-2, conflicts)

	final := f.load(t, r.ID)
	assert.Equal(t, model.StatusApproved, final.Status)
	assert.Len(t, final.ApprovedBy, 2)
	assert.Equal(t, int64(2), final.Version)

	seen := map[string]bool{}
	for _, v := range final.ApprovedBy {
		assert.False(t, seen[v.AdminID], "duplicate approver %s", v.AdminID)
		assert.NotEqual(t, final.RequestedBy, v.AdminID)
		seen[v.AdminID] = true
	}

	approvedTransitions := 0
	f.notifier.mu.Lock()
	for _, e := range f.notifier.events {
		if e.Status == model.StatusApproved {
			approvedTransitions++
		}
	}
	f.notifier.mu.Unlock()
	assert.Equal(t, 1, approvedTransitions)
}

func TestQuorum_AuditFailureKeepsTransition(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	r := f.create(t, "admin-1", 1)
	f.audits.setFailing(model.ActionApprove, true)

	got, err := f.quorum.ApproveRequest(context.Background(), r.ID, "admin-2", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, 1, f.alerter.count())
	assert.Equal(t, []string{model.ActionCreate}, f.trailActions(t, r.ID))
}

func TestQuorum_OneVoteKindPerAdmin(t *testing.T) {
	policy := service.DefaultPolicy()
	policy.DefaultRequired = 3
	policy.RejectQuorumByType = map[string]int{model.ApprovalTypeStudentDataDrilldown: 2}
	f := newFixture(t, policy)
	ctx := context.Background()
	r := f.create(t, "admin-1", 0)

	_, err := f.quorum.ApproveRequest(ctx, r.ID, "admin-2", "")
	require.NoError(t, err)
	_, err = f.quorum.RejectRequest(ctx, r.ID, "admin-2", "changed my mind")
	assert.ErrorIs(t, err, service.ErrStateConflict)

	_, err = f.quorum.RejectRequest(ctx, r.ID, "admin-3", "too broad")
	require.NoError(t, err)
	_, err = f.quorum.ApproveRequest(ctx, r.ID, "admin-3", "")
	assert.ErrorIs(t, err, service.ErrStateConflict)

	stored := f.load(t, r.ID)
	assert.Equal(t, model.StatusPending, stored.Status)
	require.Len(t, stored.ApprovedBy, 1)
	assert.Equal(t, "admin-2", stored.ApprovedBy[0].AdminID)
	require.Len(t, stored.RejectionVotes, 1)
	assert.Equal(t, "admin-3", stored.RejectionVotes[0].AdminID)
}
