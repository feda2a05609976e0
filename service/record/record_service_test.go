/*
 * @module service/record/record_service_test
 * @description 记录存储服务单元测试
 * @architecture 测试层 - 单元测试
 */

package record

import (
	"context"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"crmsync-service/testutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSnapshot_NotFound(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	service := NewService(testDB.DB)
	ctx := context.Background()

	_, err := service.ReadSnapshot(ctx, meta.EntityTypeContact, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = service.ReadLastSynced(ctx, meta.EntityTypeContact, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestWriteFields_CreatesThenMerges(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	service := NewService(testDB.DB)
	ctx := context.Background()

	// 记录不存在时写入即创建
	err := service.WriteFields(ctx, meta.EntityTypeContact, "c-1", models.JSONB{"name": "张三"})
	require.NoError(t, err)

	snapshot, err := service.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "张三", snapshot["name"])

	// 再次写入只更新给定字段
	err = service.WriteFields(ctx, meta.EntityTypeContact, "c-1", models.JSONB{"email": "z@example.com"})
	require.NoError(t, err)

	snapshot, err = service.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "张三", snapshot["name"])
	assert.Equal(t, "z@example.com", snapshot["email"])
}

func TestLastSynced_SetAndMerge(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	factory := testutil.NewTestDataFactory(testDB.DB)
	service := NewService(testDB.DB)
	ctx := context.Background()

	factory.CreateEntityRecord(meta.EntityTypeContact, "c-1", func(r *models.EntityRecord) {
		r.Fields = models.JSONB{"name": "张三", "email": "z@example.com"}
		r.LastSynced = models.JSONB{"name": "旧基线"}
	})

	// 单字段合并推进
	err := service.MergeLastSynced(ctx, meta.EntityTypeContact, "c-1", models.JSONB{"email": "z@example.com"})
	require.NoError(t, err)

	baseline, err := service.ReadLastSynced(ctx, meta.EntityTypeContact, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "旧基线", baseline["name"])
	assert.Equal(t, "z@example.com", baseline["email"])

	// 整体替换
	err = service.SetLastSynced(ctx, meta.EntityTypeContact, "c-1", models.JSONB{"name": "张三"})
	require.NoError(t, err)

	baseline, err = service.ReadLastSynced(ctx, meta.EntityTypeContact, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "张三", baseline["name"])
	_, ok := baseline["email"]
	assert.False(t, ok)

	// 基线只能在已有记录上推进
	err = service.SetLastSynced(ctx, meta.EntityTypeContact, "missing", models.JSONB{"name": "x"})
	assert.ErrorIs(t, err, ErrRecordNotFound)

	err = service.MergeLastSynced(ctx, meta.EntityTypeContact, "missing", models.JSONB{"name": "x"})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestReadSnapshot_ReturnsCopy(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	factory := testutil.NewTestDataFactory(testDB.DB)
	service := NewService(testDB.DB)
	ctx := context.Background()

	factory.CreateEntityRecord(meta.EntityTypeContact, "c-1", func(r *models.EntityRecord) {
		r.Fields = models.JSONB{"name": "张三"}
	})

	first, err := service.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	require.NoError(t, err)
	first["name"] = "篡改"

	second, err := service.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "张三", second["name"])
}
