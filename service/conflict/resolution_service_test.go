/*
 * @module service/conflict/resolution_service_test
 * @description 解决协调器单元测试，覆盖自动解决的全有或全无、人工决策完整性与批量解决的逐项独立
 * @architecture 测试层 - 单元测试
 */

package conflict

import (
	"context"
	"crmsync-service/service/audit"
	"crmsync-service/service/meta"
	"crmsync-service/service/models"
	"crmsync-service/service/record"
	"crmsync-service/service/rules"
	"crmsync-service/testutil"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

// capturingEnqueuer 捕获外推入队调用的假入队器
type capturingEnqueuer struct {
	calls []string
}

func (e *capturingEnqueuer) Enqueue(ctx context.Context, entityType, entityID, direction string) (*models.SyncQueueItem, error) {
	e.calls = append(e.calls, entityType+":"+entityID+":"+direction)
	return &models.SyncQueueItem{EntityType: entityType, EntityID: entityID, Direction: direction}, nil
}

// failingRecordStore 写回胜出值时注入失败的存储装饰器
type failingRecordStore struct {
	record.Store
}

func (f *failingRecordStore) WriteFields(ctx context.Context, entityType, entityID string, fieldValues models.JSONB) error {
	return errors.New("写入失败")
}

func (f *failingRecordStore) WithTx(tx *gorm.DB) record.Store {
	return f
}

// ResolutionServiceTestSuite 解决协调器测试套件
type ResolutionServiceTestSuite struct {
	suite.Suite
	testDB      *testutil.TestDB
	factory     *testutil.TestDataFactory
	ruleService *rules.RuleService
	recordStore *record.Service
	enqueuer    *capturingEnqueuer
	service     *ResolutionService
}

// SetupSuite 设置测试套件
func (suite *ResolutionServiceTestSuite) SetupSuite() {
	suite.testDB = testutil.NewTestDB()
	suite.factory = testutil.NewTestDataFactory(suite.testDB.DB)
}

// TearDownSuite 清理测试套件
func (suite *ResolutionServiceTestSuite) TearDownSuite() {
	suite.testDB.Close()
}

// SetupTest 设置每个测试
func (suite *ResolutionServiceTestSuite) SetupTest() {
	suite.testDB.CleanDB()

	db := suite.testDB.DB
	suite.ruleService = rules.NewRuleService(db)
	suite.recordStore = record.NewService(db)
	suite.enqueuer = &capturingEnqueuer{}
	suite.service = NewResolutionService(db, suite.ruleService, suite.recordStore,
		audit.NewService(db), suite.enqueuer)
}

// createConflictWithRecord 创建实体记录及其双字段未决冲突
func (suite *ResolutionServiceTestSuite) createConflictWithRecord(entityID string) *models.SyncConflict {
	suite.factory.CreateEntityRecord(meta.EntityTypeContact, entityID, func(r *models.EntityRecord) {
		r.Fields = models.JSONB{"name": "本地名", "email": "local@example.com"}
		r.LastSynced = models.JSONB{"name": "基线名", "email": "base@example.com"}
	})
	return suite.factory.CreateConflict(meta.EntityTypeContact, entityID, func(c *models.SyncConflict) {
		c.Fields = models.ConflictFields{
			"name":  {LocalValue: "本地名", RemoteValue: "远端名"},
			"email": {LocalValue: "local@example.com", RemoteValue: "remote@example.com"},
		}
	})
}

func (suite *ResolutionServiceTestSuite) TestAutoResolve_AllFieldsCovered() {
	ctx := context.Background()

	suite.factory.CreateRule(meta.EntityTypeAny, nil, meta.ResolutionSourceRemote, 0)
	conflict := suite.createConflictWithRecord("c-1")

	outcome, err := suite.service.AutoResolve(ctx, conflict.ID)
	suite.NoError(err)
	suite.True(outcome.Resolved)

	resolved, err := suite.service.Get(ctx, conflict.ID)
	suite.NoError(err)
	suite.Equal(meta.ConflictStatusResolved, resolved.Status)
	suite.True(resolved.AutoResolved)
	suite.Equal(meta.SystemActor, resolved.ResolvedBy)
	suite.Equal(meta.ResolutionSourceRemote, resolved.ResolutionSource)
	suite.NotNil(resolved.ResolvedAt)

	// 远端胜出的字段写回本地并推进基线
	snapshot, err := suite.recordStore.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	suite.NoError(err)
	suite.Equal("远端名", snapshot["name"])
	suite.Equal("remote@example.com", snapshot["email"])

	baseline, err := suite.recordStore.ReadLastSynced(ctx, meta.EntityTypeContact, "c-1")
	suite.NoError(err)
	suite.Equal("远端名", baseline["name"])

	// 审计记录带有双侧取值
	var entries []models.SyncAuditLog
	suite.testDB.DB.Where("action = ?", meta.AuditActionAutoResolve).Find(&entries)
	suite.Require().Len(entries, 1)
	suite.Equal(conflict.ID, entries[0].ConflictID)
	suite.Equal(meta.SystemActor, entries[0].Actor)
}

func (suite *ResolutionServiceTestSuite) TestAutoResolve_AnyUndecidedFieldLeavesConflictOpen() {
	ctx := context.Background()

	// 只有 name 字段有规则覆盖，email 无规则
	suite.factory.CreateRule(meta.EntityTypeContact, testutil.StringPtr("name"), meta.ResolutionSourceRemote, 0)
	conflict := suite.createConflictWithRecord("c-1")

	outcome, err := suite.service.AutoResolve(ctx, conflict.ID)
	suite.NoError(err)
	suite.False(outcome.Resolved)
	suite.Contains(outcome.UndecidedFields, "email")

	// 全有或全无：任何字段都不应被单独解决
	open, err := suite.service.Get(ctx, conflict.ID)
	suite.NoError(err)
	suite.Equal(meta.ConflictStatusOpen, open.Status)
	suite.Len(open.Fields, 2)

	snapshot, err := suite.recordStore.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	suite.NoError(err)
	suite.Equal("本地名", snapshot["name"])
}

func (suite *ResolutionServiceTestSuite) TestAutoResolve_FieldRuleBeatsEntityRule() {
	ctx := context.Background()

	// 实体级规则顺序更靠前，但精确字段规则特异性更高
	suite.factory.CreateRule(meta.EntityTypeContact, nil, meta.ResolutionSourceLocal, 0)
	suite.factory.CreateRule(meta.EntityTypeContact, testutil.StringPtr("name"), meta.ResolutionSourceRemote, 1)
	suite.factory.CreateRule(meta.EntityTypeContact, testutil.StringPtr("email"), meta.ResolutionSourceRemote, 2)

	conflict := suite.createConflictWithRecord("c-1")

	outcome, err := suite.service.AutoResolve(ctx, conflict.ID)
	suite.NoError(err)
	suite.True(outcome.Resolved)

	snapshot, err := suite.recordStore.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	suite.NoError(err)
	suite.Equal("远端名", snapshot["name"])
	suite.Equal("remote@example.com", snapshot["email"])
}

func (suite *ResolutionServiceTestSuite) TestResolveManual_RequiresDecisionPerField() {
	ctx := context.Background()

	conflict := suite.createConflictWithRecord("c-1")

	_, err := suite.service.ResolveManual(ctx, conflict.ID,
		map[string]string{"name": meta.ResolutionSourceLocal}, "admin")
	suite.ErrorIs(err, ErrIncompleteResolution)

	open, err := suite.service.Get(ctx, conflict.ID)
	suite.NoError(err)
	suite.Equal(meta.ConflictStatusOpen, open.Status)
}

func (suite *ResolutionServiceTestSuite) TestResolveManual_MixedDecisions() {
	ctx := context.Background()

	conflict := suite.createConflictWithRecord("c-1")

	resolved, err := suite.service.ResolveManual(ctx, conflict.ID, map[string]string{
		"name":  meta.ResolutionSourceLocal,
		"email": meta.ResolutionSourceRemote,
	}, "admin")
	suite.NoError(err)
	suite.Equal(meta.ConflictStatusResolved, resolved.Status)
	suite.Equal(meta.ResolutionSourceMixed, resolved.ResolutionSource)
	suite.Equal("admin", resolved.ResolvedBy)
	suite.False(resolved.AutoResolved)

	// 远端胜出字段写回本地，本地胜出字段保持本地值
	snapshot, err := suite.recordStore.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	suite.NoError(err)
	suite.Equal("本地名", snapshot["name"])
	suite.Equal("remote@example.com", snapshot["email"])

	// 本地胜出触发纠正外推
	suite.Require().Len(suite.enqueuer.calls, 1)
	suite.Equal("contact:c-1:outbound", suite.enqueuer.calls[0])
}

func (suite *ResolutionServiceTestSuite) TestResolveManual_RejectsUnknownDecisionField() {
	ctx := context.Background()

	conflict := suite.createConflictWithRecord("c-1")

	_, err := suite.service.ResolveManual(ctx, conflict.ID, map[string]string{
		"name":  meta.ResolutionSourceRemote,
		"email": meta.ResolutionSourceRemote,
		"bogus": meta.ResolutionSourceRemote,
	}, "admin")
	suite.ErrorIs(err, ErrUnknownDecisionField)

	open, err := suite.service.Get(ctx, conflict.ID)
	suite.NoError(err)
	suite.Equal(meta.ConflictStatusOpen, open.Status)

	// 未知字段不得写入本地快照
	snapshot, err := suite.recordStore.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	suite.NoError(err)
	_, exists := snapshot["bogus"]
	suite.False(exists)
	suite.Equal("本地名", snapshot["name"])
}

func (suite *ResolutionServiceTestSuite) TestResolveManual_WriteFailureLeavesConflictOpen() {
	ctx := context.Background()

	conflict := suite.createConflictWithRecord("c-1")

	failing := NewResolutionService(suite.testDB.DB, suite.ruleService,
		&failingRecordStore{Store: suite.recordStore}, audit.NewService(suite.testDB.DB), suite.enqueuer)

	decisions := map[string]string{
		"name":  meta.ResolutionSourceRemote,
		"email": meta.ResolutionSourceRemote,
	}
	_, err := failing.ResolveManual(ctx, conflict.ID, decisions, "admin")
	suite.Error(err)

	// 写回失败整体回滚：冲突保持 open，无审计残留，本地值未动
	open, err := suite.service.Get(ctx, conflict.ID)
	suite.NoError(err)
	suite.Equal(meta.ConflictStatusOpen, open.Status)

	var auditCount int64
	suite.testDB.DB.Model(&models.SyncAuditLog{}).Count(&auditCount)
	suite.Equal(int64(0), auditCount)

	snapshot, err := suite.recordStore.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	suite.NoError(err)
	suite.Equal("本地名", snapshot["name"])

	// 故障排除后可重新解决
	resolved, err := suite.service.ResolveManual(ctx, conflict.ID, decisions, "admin")
	suite.NoError(err)
	suite.Equal(meta.ConflictStatusResolved, resolved.Status)

	snapshot, err = suite.recordStore.ReadSnapshot(ctx, meta.EntityTypeContact, "c-1")
	suite.NoError(err)
	suite.Equal("远端名", snapshot["name"])
}

func (suite *ResolutionServiceTestSuite) TestResolveManual_ResolvedIsTerminal() {
	ctx := context.Background()

	conflict := suite.createConflictWithRecord("c-1")

	_, err := suite.service.ResolveManual(ctx, conflict.ID, map[string]string{
		"name":  meta.ResolutionSourceRemote,
		"email": meta.ResolutionSourceRemote,
	}, "admin")
	suite.NoError(err)

	_, err = suite.service.ResolveManual(ctx, conflict.ID, map[string]string{
		"name":  meta.ResolutionSourceLocal,
		"email": meta.ResolutionSourceLocal,
	}, "admin")
	suite.ErrorIs(err, ErrConflictResolved)
}

func (suite *ResolutionServiceTestSuite) TestResolveManual_RejectsInvalidSource() {
	ctx := context.Background()

	conflict := suite.createConflictWithRecord("c-1")

	_, err := suite.service.ResolveManual(ctx, conflict.ID, map[string]string{
		"name":  "upstream",
		"email": meta.ResolutionSourceRemote,
	}, "admin")
	suite.Error(err)
}

func (suite *ResolutionServiceTestSuite) TestBulkResolve_PerItemIndependence() {
	ctx := context.Background()

	first := suite.createConflictWithRecord("c-1")
	second := suite.createConflictWithRecord("c-2")

	// 预先解决第二个冲突，批量中应报告失败而不中断
	_, err := suite.service.ResolveManual(ctx, second.ID, map[string]string{
		"name":  meta.ResolutionSourceRemote,
		"email": meta.ResolutionSourceRemote,
	}, "admin")
	suite.Require().NoError(err)

	outcome, err := suite.service.BulkResolve(ctx,
		[]string{first.ID, second.ID, "missing-id"}, meta.ResolutionSourceRemote, "admin")
	suite.NoError(err)

	suite.Equal([]string{first.ID}, outcome.Resolved)
	suite.Len(outcome.Failed, 2)

	resolved, err := suite.service.Get(ctx, first.ID)
	suite.NoError(err)
	suite.Equal(meta.ConflictStatusResolved, resolved.Status)
	suite.Equal(meta.ResolutionSourceRemote, resolved.ResolutionSource)
}

func (suite *ResolutionServiceTestSuite) TestBulkResolve_RejectsInvalidSource() {
	ctx := context.Background()

	_, err := suite.service.BulkResolve(ctx, []string{"any"}, "mixed", "admin")
	suite.Error(err)
}

func (suite *ResolutionServiceTestSuite) TestGetStats() {
	ctx := context.Background()

	suite.createConflictWithRecord("c-1")
	suite.factory.CreateConflict(meta.EntityTypeOrganization, "o-1")

	resolved := suite.createConflictWithRecord("c-2")
	_, err := suite.service.ResolveManual(ctx, resolved.ID, map[string]string{
		"name":  meta.ResolutionSourceRemote,
		"email": meta.ResolutionSourceRemote,
	}, "admin")
	suite.Require().NoError(err)

	stats, err := suite.service.GetStats(ctx)
	suite.NoError(err)
	suite.Equal(int64(2), stats.OpenTotal)
	suite.Equal(int64(1), stats.OpenContacts)
	suite.Equal(int64(1), stats.OpenOrganizations)
	suite.Equal(int64(1), stats.ResolvedTotal)
	suite.Equal(int64(0), stats.AutoResolvedTotal)
}

// TestResolutionService 测试入口
func TestResolutionService(t *testing.T) {
	suite.Run(t, new(ResolutionServiceTestSuite))
}
