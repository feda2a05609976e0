/*
 * @module service/conflict/detector_test
 * @description 冲突检测器单元测试，覆盖三路比对分流与未决冲突合并
 * @architecture 测试层 - 单元测试
 */

package conflict

import (
	"context"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"crmsync-service/testutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_NoChanges(t *testing.T) {
	detector := NewDetector(nil)

	result := detector.Detect(
		models.JSONB{"name": "张三", "email": "z@example.com"},
		models.JSONB{"name": "张三", "email": "z@example.com"},
		models.JSONB{"name": "张三", "email": "z@example.com"},
	)

	assert.False(t, result.HasConflict())
	assert.Empty(t, result.LocalChanges)
	assert.Empty(t, result.RemoteChanges)
	assert.Empty(t, result.ConvergedChanges)
}

func TestDetect_SingleSidedChanges(t *testing.T) {
	detector := NewDetector(nil)

	result := detector.Detect(
		models.JSONB{"name": "本地新值", "email": "z@example.com"},
		models.JSONB{"name": "基线", "email": "remote@example.com"},
		models.JSONB{"name": "基线", "email": "z@example.com"},
	)

	assert.False(t, result.HasConflict())
	assert.Equal(t, "本地新值", result.LocalChanges["name"])
	assert.Equal(t, "remote@example.com", result.RemoteChanges["email"])
}

func TestDetect_BothSidesDivergedIsConflict(t *testing.T) {
	detector := NewDetector(nil)

	result := detector.Detect(
		models.JSONB{"name": "本地值"},
		models.JSONB{"name": "远端值"},
		models.JSONB{"name": "基线"},
	)

	require.True(t, result.HasConflict())
	pair := result.ConflictFields["name"]
	assert.Equal(t, "本地值", pair.LocalValue)
	assert.Equal(t, "远端值", pair.RemoteValue)
}

func TestDetect_ConvergenceIsNotConflict(t *testing.T) {
	detector := NewDetector(nil)

	result := detector.Detect(
		models.JSONB{"name": "同一新值"},
		models.JSONB{"name": "同一新值"},
		models.JSONB{"name": "基线"},
	)

	assert.False(t, result.HasConflict())
	assert.Equal(t, "同一新值", result.ConvergedChanges["name"])
	assert.Empty(t, result.LocalChanges)
	assert.Empty(t, result.RemoteChanges)
}

func TestDetect_MissingKeysComparedAsNil(t *testing.T) {
	detector := NewDetector(nil)

	// 远端新增字段，本地与基线都没有
	result := detector.Detect(
		models.JSONB{},
		models.JSONB{"phone": "13800138000"},
		models.JSONB{},
	)
	assert.Equal(t, "13800138000", result.RemoteChanges["phone"])

	// 远端删除字段视为改成 nil，与本地编辑冲突
	result = detector.Detect(
		models.JSONB{"phone": "13900139000"},
		models.JSONB{},
		models.JSONB{"phone": "13800138000"},
	)
	require.True(t, result.HasConflict())
	assert.Equal(t, "13900139000", result.ConflictFields["phone"].LocalValue)
	assert.Nil(t, result.ConflictFields["phone"].RemoteValue)
}

func TestValuesEqual_TypeTolerance(t *testing.T) {
	// JSONB 往返会把整数变成 float64
	assert.True(t, valuesEqual(1, float64(1)))
	assert.True(t, valuesEqual(int64(42), 42.0))
	assert.False(t, valuesEqual(1, 2))
	assert.False(t, valuesEqual(1, "a"))

	// 同一时刻的不同时区表示相等
	assert.True(t, valuesEqual("2026-01-02T08:00:00+08:00", "2026-01-02T00:00:00Z"))
	assert.False(t, valuesEqual("2026-01-02T00:00:00Z", "2026-01-03T00:00:00Z"))

	assert.True(t, valuesEqual(nil, nil))
	assert.False(t, valuesEqual(nil, "x"))
	assert.True(t, valuesEqual(true, true))
	assert.False(t, valuesEqual(true, false))
}

func TestUpsertConflict_MergesIntoSingleOpenConflict(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	detector := NewDetector(testDB.DB)
	ctx := context.Background()

	first, err := detector.UpsertConflict(ctx, meta.EntityTypeContact, "c-1", models.ConflictFields{
		"name": {LocalValue: "本地名", RemoteValue: "远端名"},
	})
	require.NoError(t, err)

	// 同实体再次分歧：并入既有未决冲突而不是新建
	second, err := detector.UpsertConflict(ctx, meta.EntityTypeContact, "c-1", models.ConflictFields{
		"email": {LocalValue: "l@example.com", RemoteValue: "r@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var conflicts []models.SyncConflict
	testDB.DB.Find(&conflicts)
	require.Len(t, conflicts, 1)
	assert.Len(t, conflicts[0].Fields, 2)
	assert.Equal(t, "本地名", conflicts[0].Fields["name"].LocalValue)
	assert.Equal(t, "l@example.com", conflicts[0].Fields["email"].LocalValue)

	// 不同实体各自独立
	other, err := detector.UpsertConflict(ctx, meta.EntityTypeContact, "c-2", models.ConflictFields{
		"name": {LocalValue: "a", RemoteValue: "b"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}
