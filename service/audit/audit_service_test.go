/*
 * @module service/audit/audit_service_test
 * @description 审计服务单元测试
 * @architecture 测试层 - 单元测试
 */

package audit

import (
	"context"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"crmsync-service/testutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndList(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	service := NewService(testDB.DB)
	defer service.Close()
	ctx := context.Background()

	entry := &models.SyncAuditLog{
		Action:     meta.AuditActionManualResolve,
		EntityType: meta.EntityTypeContact,
		EntityID:   "c-1",
		ConflictID: "conflict-1",
		Source:     meta.ResolutionSourceRemote,
		Actor:      "admin",
		Before:     models.JSONB{"name": map[string]interface{}{"local_value": "a", "remote_value": "b"}},
		After:      models.JSONB{"name": "b"},
	}
	require.NoError(t, service.Record(ctx, entry))
	assert.NotEmpty(t, entry.ID)

	require.NoError(t, service.Record(ctx, &models.SyncAuditLog{
		Action:     meta.AuditActionQueueRetry,
		EntityType: meta.EntityTypeOrganization,
		EntityID:   "o-1",
		QueueID:    "queue-1",
		Actor:      "admin",
	}))

	entries, total, err := service.List(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, entries, 2)

	entries, total, err = service.List(ctx, meta.EntityTypeContact, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, entries, 1)
	assert.Equal(t, "c-1", entries[0].EntityID)
	assert.Equal(t, "admin", entries[0].Actor)
	assert.Equal(t, "b", entries[0].After["name"])
}
