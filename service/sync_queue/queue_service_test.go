/*
 * @module service/sync_queue/queue_service_test
 * @description 同步队列存储服务单元测试
 * @architecture 测试层 - 单元测试
 */

package sync_queue

import (
	"context"
	"crmsync-service/service/audit"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"crmsync-service/testutil"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// QueueServiceTestSuite 队列存储服务测试套件
type QueueServiceTestSuite struct {
	suite.Suite
	testDB  *testutil.TestDB
	factory *testutil.TestDataFactory
	service *QueueService
}

// SetupSuite 设置测试套件
func (suite *QueueServiceTestSuite) SetupSuite() {
	suite.testDB = testutil.NewTestDB()
	suite.factory = testutil.NewTestDataFactory(suite.testDB.DB)
	suite.service = NewQueueService(suite.testDB.DB, audit.NewService(suite.testDB.DB))
}

// TearDownSuite 清理测试套件
func (suite *QueueServiceTestSuite) TearDownSuite() {
	suite.testDB.Close()
}

// SetupTest 设置每个测试
func (suite *QueueServiceTestSuite) SetupTest() {
	suite.testDB.CleanDB()
}

func (suite *QueueServiceTestSuite) TestEnqueue_CreatesPendingItem() {
	ctx := context.Background()

	item, err := suite.service.Enqueue(ctx, meta.EntityTypeContact, "c-1", meta.SyncDirectionInbound)

	suite.NoError(err)
	suite.NotEmpty(item.ID)
	suite.Equal(meta.QueueStatusPending, item.Status)
	suite.Equal(0, item.Attempts)
}

func (suite *QueueServiceTestSuite) TestEnqueue_IdempotentOnPending() {
	ctx := context.Background()

	first, err := suite.service.Enqueue(ctx, meta.EntityTypeContact, "c-1", meta.SyncDirectionInbound)
	suite.NoError(err)

	second, err := suite.service.Enqueue(ctx, meta.EntityTypeContact, "c-1", meta.SyncDirectionInbound)
	suite.NoError(err)
	suite.Equal(first.ID, second.ID)

	var count int64
	suite.testDB.DB.Model(&models.SyncQueueItem{}).Count(&count)
	suite.Equal(int64(1), count)
}

func (suite *QueueServiceTestSuite) TestEnqueue_RejectsDuplicateInFlight() {
	ctx := context.Background()

	suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionOutbound,
		func(item *models.SyncQueueItem) { item.Status = meta.QueueStatusProcessing })

	_, err := suite.service.Enqueue(ctx, meta.EntityTypeContact, "c-1", meta.SyncDirectionOutbound)
	suite.ErrorIs(err, ErrDuplicateInFlight)
}

func (suite *QueueServiceTestSuite) TestEnqueue_DifferentDirectionsAreIndependent() {
	ctx := context.Background()

	suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionInbound,
		func(item *models.SyncQueueItem) { item.Status = meta.QueueStatusProcessing })

	item, err := suite.service.Enqueue(ctx, meta.EntityTypeContact, "c-1", meta.SyncDirectionOutbound)
	suite.NoError(err)
	suite.Equal(meta.SyncDirectionOutbound, item.Direction)
}

func (suite *QueueServiceTestSuite) TestEnqueue_InvalidArguments() {
	ctx := context.Background()

	_, err := suite.service.Enqueue(ctx, "deal", "c-1", meta.SyncDirectionInbound)
	suite.Error(err)

	_, err = suite.service.Enqueue(ctx, meta.EntityTypeContact, "c-1", "sideways")
	suite.Error(err)
}

func (suite *QueueServiceTestSuite) TestClaimNext_OldestFirstAndExclusive() {
	ctx := context.Background()

	older := suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionInbound,
		func(item *models.SyncQueueItem) { item.CreatedAt = time.Now().Add(-2 * time.Minute) })
	newer := suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-2", meta.SyncDirectionInbound,
		func(item *models.SyncQueueItem) { item.CreatedAt = time.Now().Add(-time.Minute) })

	claimed, err := suite.service.ClaimNext(ctx, 1)
	suite.NoError(err)
	suite.Len(claimed, 1)
	suite.Equal(older.ID, claimed[0].ID)
	suite.Equal(meta.QueueStatusProcessing, claimed[0].Status)

	// 已认领的项不会被再次认领
	claimed, err = suite.service.ClaimNext(ctx, 10)
	suite.NoError(err)
	suite.Len(claimed, 1)
	suite.Equal(newer.ID, claimed[0].ID)
}

func (suite *QueueServiceTestSuite) TestClaimNext_SkipsBackoffNotDue() {
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionInbound,
		func(item *models.SyncQueueItem) { item.NextRetryAt = &future })

	claimed, err := suite.service.ClaimNext(ctx, 10)
	suite.NoError(err)
	suite.Empty(claimed)

	past := time.Now().Add(-time.Minute)
	suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-2", meta.SyncDirectionInbound,
		func(item *models.SyncQueueItem) { item.NextRetryAt = &past })

	claimed, err = suite.service.ClaimNext(ctx, 10)
	suite.NoError(err)
	suite.Len(claimed, 1)
	suite.Equal("c-2", claimed[0].EntityID)
}

func (suite *QueueServiceTestSuite) TestComplete_OnlyProcessingItems() {
	ctx := context.Background()

	item := suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionInbound,
		func(item *models.SyncQueueItem) { item.Status = meta.QueueStatusProcessing })

	suite.NoError(suite.service.Complete(ctx, item.ID))

	stored, err := suite.service.Get(ctx, item.ID)
	suite.NoError(err)
	suite.Equal(meta.QueueStatusCompleted, stored.Status)

	// 终态项不可再次完成
	suite.ErrorIs(suite.service.Complete(ctx, item.ID), ErrItemNotFound)
}

func (suite *QueueServiceTestSuite) TestFail_TransientBacksOffToPending() {
	ctx := context.Background()

	item := suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionOutbound,
		func(item *models.SyncQueueItem) { item.Status = meta.QueueStatusProcessing })

	err := suite.service.Fail(ctx, item.ID, errors.New("connection reset"))
	suite.NoError(err)

	stored, err := suite.service.Get(ctx, item.ID)
	suite.NoError(err)
	suite.Equal(meta.QueueStatusPending, stored.Status)
	suite.Equal(1, stored.Attempts)
	suite.NotNil(stored.NextRetryAt)
	suite.True(stored.NextRetryAt.After(time.Now()))
	suite.Equal("connection reset", stored.LastError)
}

func (suite *QueueServiceTestSuite) TestFail_PermanentGoesToFailed() {
	ctx := context.Background()

	item := suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionOutbound,
		func(item *models.SyncQueueItem) { item.Status = meta.QueueStatusProcessing })

	cause := &AdapterError{Op: "push", StatusCode: 422, Message: "远端拒绝请求", Transient: false}
	suite.NoError(suite.service.Fail(ctx, item.ID, cause))

	stored, err := suite.service.Get(ctx, item.ID)
	suite.NoError(err)
	suite.Equal(meta.QueueStatusFailed, stored.Status)
	suite.Equal(1, stored.Attempts)
}

func (suite *QueueServiceTestSuite) TestFail_MaxAttemptsExhausted() {
	ctx := context.Background()

	item := suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionOutbound,
		func(item *models.SyncQueueItem) {
			item.Status = meta.QueueStatusProcessing
			item.Attempts = suite.service.MaxAttempts() - 1
		})

	suite.NoError(suite.service.Fail(ctx, item.ID, errors.New("timeout")))

	stored, err := suite.service.Get(ctx, item.ID)
	suite.NoError(err)
	suite.Equal(meta.QueueStatusFailed, stored.Status)
	suite.Equal(suite.service.MaxAttempts(), stored.Attempts)
}

func (suite *QueueServiceTestSuite) TestRetry_FailedItemBackToPending() {
	ctx := context.Background()

	item := suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionOutbound,
		func(item *models.SyncQueueItem) {
			item.Status = meta.QueueStatusFailed
			item.Attempts = 5
		})

	retried, err := suite.service.Retry(ctx, item.ID, true, "admin")
	suite.NoError(err)
	suite.Equal(meta.QueueStatusPending, retried.Status)
	suite.Equal(0, retried.Attempts)
	suite.Nil(retried.NextRetryAt)

	// 重试动作产生审计记录
	var entries []models.SyncAuditLog
	suite.testDB.DB.Where("action = ?", meta.AuditActionQueueRetry).Find(&entries)
	suite.Len(entries, 1)
	suite.Equal("admin", entries[0].Actor)
	suite.Equal(item.ID, entries[0].QueueID)
}

func (suite *QueueServiceTestSuite) TestRetry_OnlyFailedItems() {
	ctx := context.Background()

	item := suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionOutbound)

	_, err := suite.service.Retry(ctx, item.ID, false, "admin")
	suite.ErrorIs(err, ErrNotRetryable)

	_, err = suite.service.Retry(ctx, "missing-id", false, "admin")
	suite.ErrorIs(err, ErrItemNotFound)
}

func (suite *QueueServiceTestSuite) TestGetStats() {
	ctx := context.Background()

	suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-1", meta.SyncDirectionInbound)
	suite.factory.CreateQueueItem(meta.EntityTypeContact, "c-2", meta.SyncDirectionOutbound,
		func(item *models.SyncQueueItem) { item.Status = meta.QueueStatusFailed })
	suite.factory.CreateQueueItem(meta.EntityTypeOrganization, "o-1", meta.SyncDirectionOutbound,
		func(item *models.SyncQueueItem) { item.Status = meta.QueueStatusCompleted })

	stats, err := suite.service.GetStats(ctx)
	suite.NoError(err)
	suite.Equal(int64(1), stats.PendingItems)
	suite.Equal(int64(1), stats.FailedItems)
	suite.Equal(int64(1), stats.CompletedItems)
	suite.Equal(int64(1), stats.InboundItems)
	suite.Equal(int64(2), stats.OutboundItems)
}

// TestQueueService 测试入口
func TestQueueService(t *testing.T) {
	suite.Run(t, new(QueueServiceTestSuite))
}

// TestBackoffDelay 验证退避时长按指数增长并封顶
func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoffDelay(1))
	assert.Equal(t, time.Minute, backoffDelay(2))
	assert.Equal(t, 2*time.Minute, backoffDelay(3))
	assert.Equal(t, time.Hour, backoffDelay(8))
	assert.Equal(t, time.Hour, backoffDelay(100))
}

// TestIsTransientError 验证错误分类，无法分类的错误按瞬时处理
func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(errors.New("unknown")))
	assert.True(t, IsTransientError(&AdapterError{Transient: true}))
	assert.False(t, IsTransientError(&AdapterError{Transient: false}))
}
