package service_test

import (
	"context"
	"testing"

	"approvals/internal/model"
	"approvals/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_GetAuditLogs(t *testing.T) {
	f := newFixture(t, service.DefaultPolicy())
	ctx := context.Background()
	r := f.create(t, "admin-1", 2)
	_, err := f.quorum.ApproveRequest(ctx, r.ID, "admin-2", "")
	require.NoError(t, err)
	f.create(t, "admin-3", 2)

	tests := []struct {
		name        string
		page, limit int
		wantLen     int
	}{
		{name: "first page", page: 1, limit: 2, wantLen: 2},
		{name: "second page", page: 2, limit: 2, wantLen: 1},
		{name: "zero page and limit fall back to defaults", page: 0, limit: 0, wantLen: 3},
		{name: "negative page", page: -3, limit: 20, wantLen: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs, total, err := f.audit.GetAuditLogs(ctx, tt.page, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, int64(3), total)
			assert.Len(t, logs, tt.wantLen)
		})
	}

	logs, _, err := f.audit.GetAuditLogs(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ActionCreate, logs[0].Action, "newest first")
	assert.Equal(t, "admin-3", logs[0].ActorID)
}
