package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"approvals/internal/model"
	"approvals/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccess_ApprovedThenAccessed(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r1 := f.create(t, "admin-1", 2)

	_, err := f.quorum.ApproveRequest(ctx, r1.ID, "admin-2", "")
	require.NoError(t, err)
	_, err = f.quorum.ApproveRequest(ctx, r1.ID, "admin-3", "")
	require.NoError(t, err)

	grant, err := f.access.AccessData(ctx, r1.ID, "admin-1", nil)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, grant.RequestID)
	assert.Equal(t, "admin-1", grant.AccessedBy)
	assert.Equal(t, model.TargetStudent, grant.TargetType)
	assert.NotEmpty(t, grant.GrantedAt)
	assert.Equal(t, []string{}, grant.Fields)
	assert.Equal(t, map[string]interface{}{"name": "Amina", "grade": "P5", "guardian": "Halima"}, grant.Data)

	assert.Equal(t,
		[]string{model.ActionCreate, model.ActionApprove, model.ActionApprove, model.ActionAccess},
		f.trailActions(t, r1.ID))

	trail, err := f.audit.ListForRequest(ctx, r1.ID)
	require.NoError(t, err)
	access := trail[len(trail)-1]
	assert.Equal(t, "admin-1", access.ActorID)
	assert.Equal(t, model.StatusApproved, f.load(t, r1.ID).Status, "access leaves status alone")
}

func TestAccess_RestrictsFields(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r := f.create(t, "admin-1", 1)
	_, err := f.quorum.ApproveRequest(ctx, r.ID, "admin-2", "")
	require.NoError(t, err)

	grant, err := f.access.AccessData(ctx, r.ID, "admin-2", []string{" grade ", "", "grade", "name"})
	require.NoError(t, err)
	assert.Equal(t, []string{"grade", "name"}, grant.Fields)
	assert.Equal(t, map[string]interface{}{"grade": "P5", "name": "Amina"}, grant.Data)
}

func TestAccess_RequiresApproval(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()

	pending := f.create(t, "admin-1", 2)
	rejected := f.create(t, "admin-1", 2)
	_, err := f.quorum.RejectRequest(ctx, rejected.ID, "admin-2", "no")
	require.NoError(t, err)

	tests := []struct {
		name string
		id   string
		want error
	}{
		{name: "pending", id: pending.ID, want: service.ErrStateConflict},
		{name: "rejected", id: rejected.ID, want: service.ErrStateConflict},
		{name: "unknown", id: "b0b0b0b0-0000-4000-8000-000000000000", want: service.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.access.AccessData(ctx, tt.id, "admin-1", nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.NotContains(t, f.trailActions(t, pending.ID), model.ActionAccess)
	assert.NotContains(t, f.trailActions(t, rejected.ID), model.ActionAccess)
}

func TestAccess_RepeatAllowedByDefault(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r := f.create(t, "admin-1", 1)
	_, err := f.quorum.ApproveRequest(ctx, r.ID, "admin-2", "")
	require.NoError(t, err)

	for _, actor := range []string{"admin-1", "admin-2", "admin-1"} {
		_, err := f.access.AccessData(ctx, r.ID, actor, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.load(t, r.ID).AccessCount)
}

func TestAccess_SingleUse(t *testing.T) {
	policy := service.DefaultPolicy()
	policy.SingleUseAccess = true
	f := newFixture(t, policy)
	ctx := context.Background()
	r := f.create(t, "admin-1", 1)
	_, err := f.quorum.ApproveRequest(ctx, r.ID, "admin-2", "")
	require.NoError(t, err)

	_, err = f.access.AccessData(ctx, r.ID, "admin-1", nil)
	require.NoError(t, err)
	_, err = f.access.AccessData(ctx, r.ID, "admin-1", nil)
	assert.ErrorIs(t, err, service.ErrStateConflict)

	stored := f.load(t, r.ID)
	assert.Equal(t, 1, stored.AccessCount)
	assert.NotNil(t, stored.LastAccessedAt)
}

func TestAccess_AuditFailureBlocksData(t *testing.T) {
	policy := service.DefaultPolicy()
	policy.SingleUseAccess = true
	f := newFixture(t, policy)
	ctx := context.Background()
	r := f.create(t, "admin-1", 1)
	_, err := f.quorum.ApproveRequest(ctx, r.ID, "admin-2", "")
	require.NoError(t, err)

	f.audits.setFailing(model.ActionAccess, true)
	grant, err := f.access.AccessData(ctx, r.ID, "admin-1", nil)
	assert.ErrorIs(t, err, service.ErrAuditUnavailable)
	assert.Nil(t, grant.Data)
	assert.Equal(t, 1, f.alerter.count())

	// The single use was not consumed by the failed attempt.
	assert.Equal(t, 0, f.load(t, r.ID).AccessCount)

	f.audits.setFailing(model.ActionAccess, false)
	grant, err = f.access.AccessData(ctx, r.ID, "admin-1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, grant.Data)
	assert.Equal(t,
		[]string{model.ActionCreate, model.ActionApprove, model.ActionAccess},
		f.trailActions(t, r.ID))
}

func TestAccess_RepeatReadsDoNotSwap(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r := f.create(t, "admin-1", 1)
	_, err := f.quorum.ApproveRequest(ctx, r.ID, "admin-2", "")
	require.NoError(t, err)
	approved := f.load(t, r.ID)

	// Every swap would lose, so only a reader that never swaps can succeed.
	repo := &conflictingRepo{ApprovalRepository: f.requests}
	w := f.workflow
	w.Requests = repo
	access := service.NewAccessService(w)

	for _, actor := range []string{"admin-1", "admin-3", "admin-1"} {
		_, err := access.AccessData(ctx, r.ID, actor, nil)
		require.NoError(t, err)
	}
	assert.Zero(t, repo.swapCount())

	stored := f.load(t, r.ID)
	assert.Equal(t, 3, stored.AccessCount)
	assert.Equal(t, approved.Version, stored.Version)
	assert.Equal(t, model.StatusApproved, stored.Status)
}

func TestAccess_ConcurrentReaders(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r := f.create(t, "admin-1", 1)
	_, err := f.quorum.ApproveRequest(ctx, r.ID, "admin-2", "")
	require.NoError(t, err)

	const readers = 8
	errs := make([]error, readers)
	var wg sync.WaitGroup
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.access.AccessData(ctx, r.ID, fmt.Sprintf("admin-%d", i+1), nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	stored := f.load(t, r.ID)
	assert.Equal(t, readers, stored.AccessCount)
	assert.Equal(t, int64(1), stored.Version)

	accesses := 0
	for _, a := range f.trailActions(t, r.ID) {
		if a == model.ActionAccess {
			accesses++
		}
	}
	assert.Equal(t, readers, accesses)
}

func TestAccess_RepeatAuditFailureLeavesCount(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r := f.create(t, "admin-1", 1)
	_, err := f.quorum.ApproveRequest(ctx, r.ID, "admin-2", "")
	require.NoError(t, err)

	f.audits.setFailing(model.ActionAccess, true)
	_, err = f.access.AccessData(ctx, r.ID, "admin-1", nil)
	assert.ErrorIs(t, err, service.ErrAuditUnavailable)

	stored := f.load(t, r.ID)
	assert.Zero(t, stored.AccessCount)
	assert.Nil(t, stored.LastAccessedAt)
}
