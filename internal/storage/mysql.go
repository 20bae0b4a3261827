package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"talent-match-go/internal/config"
	"talent-match-go/internal/storage/models"
	"talent-match-go/internal/types"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("talent-match-go/storage/mysql")

// ErrCandidateNotFound is returned for updates on a candidate that
// was never stored.
var ErrCandidateNotFound = errors.New("storage: candidate not found")

// ErrJobNotFound is returned when the referenced job does not exist.
var ErrJobNotFound = errors.New("storage: job not found")

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

type gormSpanKey struct{}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// ErrRecordNotFound 是业务逻辑正常情况的一部分，不应作为错误处理
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Warn
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	tracingPlugin := NewGormTracingPlugin(cfg.Database)
	if err := db.Use(tracingPlugin); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)

	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	if err := silentDB.AutoMigrate(
		&models.Job{},
		&models.Candidate{},
		&models.OutboxMessage{},
	); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// GetJob 获取岗位并转换为领域类型
func (m *MySQL) GetJob(ctx context.Context, jobID string) (*types.JobProfile, error) {
	var job models.Job
	err := m.db.WithContext(ctx).First(&job, "job_id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("查询岗位 %s 失败: %w", jobID, err)
	}
	return jobModelToProfile(&job)
}

// UpsertJob 创建或更新岗位，job_id为空时生成新的UUID写回profile
func (m *MySQL) UpsertJob(ctx context.Context, profile *types.JobProfile) error {
	if profile.JobID == "" {
		profile.JobID = uuid.NewString()
	}
	job, err := jobProfileToModel(profile)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"job_title", "job_description_text", "skills_required_json",
			"experience_required", "requirements_json",
		}),
	}).Create(job).Error
}

// GetCandidate 获取单个候选人记录
func (m *MySQL) GetCandidate(ctx context.Context, jobID, fileName string) (*models.Candidate, error) {
	var candidate models.Candidate
	err := m.db.WithContext(ctx).
		First(&candidate, "job_id = ? AND file_name = ?", jobID, fileName).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrCandidateNotFound, jobID, fileName)
		}
		return nil, fmt.Errorf("查询候选人 %s/%s 失败: %w", jobID, fileName, err)
	}
	return &candidate, nil
}

// ListCandidates 列出岗位下的所有候选人，按匹配分数降序
func (m *MySQL) ListCandidates(ctx context.Context, jobID string) ([]models.Candidate, error) {
	var candidates []models.Candidate
	err := m.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("match_percentage DESC").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("查询岗位 %s 的候选人失败: %w", jobID, err)
	}
	return candidates, nil
}

// UpsertCandidateResume 登记候选人的解析简历，(job_id, file_name) 冲突时覆盖
func (m *MySQL) UpsertCandidateResume(ctx context.Context, jobID string, resume types.ResumeProfile) error {
	skillsJSON, err := json.Marshal(resume.KeySkills)
	if err != nil {
		return fmt.Errorf("序列化技能列表失败: %w", err)
	}
	resumeJSON, err := json.Marshal(resume)
	if err != nil {
		return fmt.Errorf("序列化简历失败: %w", err)
	}

	candidate := models.Candidate{
		JobID:      jobID,
		FileName:   resume.FileName,
		Name:       resume.Name,
		Email:      resume.Email,
		SkillsJSON: skillsJSON,
		ResumeJSON: resumeJSON,
		Status:     string(types.StatusMatched),
	}

	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}, {Name: "file_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "email", "skills_json", "resume_json",
		}),
	}).Create(&candidate).Error
}

// SaveMatchResult 写入一次评估结果，重复评估时覆盖旧结果
func (m *MySQL) SaveMatchResult(ctx context.Context, jobID string, resume types.ResumeProfile, result *types.MatchResult) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.SaveMatchResult",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.sql.table", "candidates"),
		attribute.String("job.id", jobID),
	)

	skillsJSON, err := json.Marshal(resume.KeySkills)
	if err != nil {
		return fmt.Errorf("序列化技能列表失败: %w", err)
	}
	resumeJSON, err := json.Marshal(resume)
	if err != nil {
		return fmt.Errorf("序列化简历失败: %w", err)
	}
	detailsJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化评估结果失败: %w", err)
	}

	pct := result.MatchPercentage
	evaluatedAt := time.Unix(result.EvaluatedAt, 0)
	candidate := models.Candidate{
		JobID:            jobID,
		FileName:         resume.FileName,
		Name:             resume.Name,
		Email:            resume.Email,
		SkillsJSON:       skillsJSON,
		ResumeJSON:       resumeJSON,
		MatchPercentage:  &pct,
		MatchDetailsJSON: detailsJSON,
		EvaluatedAt:      &evaluatedAt,
		Status:           string(types.StatusMatched),
	}
	if result.Ranking > 0 {
		ranking := result.Ranking
		candidate.Ranking = &ranking
	}

	err = m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}, {Name: "file_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "email", "skills_json", "resume_json",
			"match_percentage", "match_details_json", "ranking", "evaluated_at",
		}),
	}).Create(&candidate).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("保存评估结果失败: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SaveMatchResults 批量写入评估结果
func (m *MySQL) SaveMatchResults(ctx context.Context, jobID string, resumes map[string]types.ResumeProfile, results []types.MatchResult) error {
	for i := range results {
		resume, ok := resumes[results[i].FileName]
		if !ok {
			continue
		}
		if err := m.SaveMatchResult(ctx, jobID, resume, &results[i]); err != nil {
			return err
		}
	}
	return nil
}

// UpdateTracking 更新候选人的招聘阶段，记录不存在时返回 ErrCandidateNotFound
func (m *MySQL) UpdateTracking(ctx context.Context, jobID, fileName string, tracking types.Tracking) error {
	updates := map[string]interface{}{
		"status":         string(tracking.Status),
		"last_updated":   tracking.LastUpdated,
		"updated_by":     tracking.UpdatedBy,
		"rate_confirmed": tracking.RateConfirmed,
		"interview_date": tracking.InterviewDate,
		"notes":          tracking.Notes,
	}

	tx := m.db.WithContext(ctx).Model(&models.Candidate{}).
		Where("job_id = ? AND file_name = ?", jobID, fileName).
		Updates(updates)
	if tx.Error != nil {
		return fmt.Errorf("更新候选人状态失败: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrCandidateNotFound, jobID, fileName)
	}
	return nil
}

// EnqueueOutboxMessage 在调用方事务外登记一条待发布消息
func (m *MySQL) EnqueueOutboxMessage(ctx context.Context, msg *models.OutboxMessage) error {
	return m.db.WithContext(ctx).Create(msg).Error
}

// CandidateToDomain 将存储模型转换为领域类型
func CandidateToDomain(c *models.Candidate) (types.Candidate, error) {
	candidate := types.Candidate{
		JobID:    c.JobID,
		FileName: c.FileName,
		Name:     c.Name,
		Email:    c.Email,
	}

	if len(c.SkillsJSON) > 0 {
		if err := json.Unmarshal(c.SkillsJSON, &candidate.Skills); err != nil {
			return candidate, fmt.Errorf("候选人 %s 技能反序列化失败: %w", c.FileName, err)
		}
	}
	if len(c.ResumeJSON) > 0 {
		if err := json.Unmarshal(c.ResumeJSON, &candidate.Resume); err != nil {
			return candidate, fmt.Errorf("候选人 %s 简历反序列化失败: %w", c.FileName, err)
		}
	}
	if len(c.MatchDetailsJSON) > 0 {
		var match types.MatchResult
		if err := json.Unmarshal(c.MatchDetailsJSON, &match); err != nil {
			return candidate, fmt.Errorf("候选人 %s 评估结果反序列化失败: %w", c.FileName, err)
		}
		candidate.Match = &match
	}

	if c.Status != "" {
		tracking := types.Tracking{
			Status:        types.CandidateStatus(c.Status).Normalize(),
			UpdatedBy:     c.UpdatedBy,
			RateConfirmed: c.RateConfirmed,
			InterviewDate: c.InterviewDate,
			Notes:         c.Notes,
		}
		if c.LastUpdated != nil {
			tracking.LastUpdated = *c.LastUpdated
		}
		candidate.Tracking = &tracking
	}

	return candidate, nil
}

func jobModelToProfile(job *models.Job) (*types.JobProfile, error) {
	profile := &types.JobProfile{
		JobID:       job.JobID,
		Title:       job.JobTitle,
		Description: job.JobDescriptionText,
		Experience:  job.ExperienceRequired,
	}
	if len(job.SkillsRequiredJSON) > 0 {
		if err := json.Unmarshal(job.SkillsRequiredJSON, &profile.SkillsRequired); err != nil {
			return nil, fmt.Errorf("岗位 %s 技能反序列化失败: %w", job.JobID, err)
		}
	}
	if len(job.RequirementsJSON) > 0 {
		if err := json.Unmarshal(job.RequirementsJSON, &profile.Requirements); err != nil {
			return nil, fmt.Errorf("岗位 %s 要求反序列化失败: %w", job.JobID, err)
		}
	}
	return profile, nil
}

func jobProfileToModel(profile *types.JobProfile) (*models.Job, error) {
	skillsJSON, err := json.Marshal(profile.SkillsRequired)
	if err != nil {
		return nil, fmt.Errorf("序列化岗位技能失败: %w", err)
	}
	requirementsJSON, err := json.Marshal(profile.Requirements)
	if err != nil {
		return nil, fmt.Errorf("序列化岗位要求失败: %w", err)
	}
	return &models.Job{
		JobID:              profile.JobID,
		JobTitle:           profile.Title,
		JobDescriptionText: profile.Description,
		SkillsRequiredJSON: skillsJSON,
		ExperienceRequired: profile.Experience,
		RequirementsJSON:   requirementsJSON,
	}, nil
}
