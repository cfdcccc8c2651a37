// Package adapters はアラートとルール設定の永続化、通知チャネル、指標の入出力を実装します。
package adapters

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ai_memory/internal/feature/alerts/domain/entity"
	"ai_memory/internal/feature/alerts/usecase"
)

// AlertModel は alerts テーブルの行です。
type AlertModel struct {
	ID        string         `gorm:"primaryKey;size:64"`
	Level     string         `gorm:"size:16;not null;index"`
	Rule      string         `gorm:"size:64;not null;index"`
	Message   string         `gorm:"type:text;not null"`
	Metadata  map[string]any `gorm:"serializer:json"`
	FiredAt   time.Time      `gorm:"not null;index"`
}

func (AlertModel) TableName() string { return "alerts" }

// AlertRuleConfigModel は alert_rule_configs テーブルの行です。
type AlertRuleConfigModel struct {
	ID              string `gorm:"primaryKey;size:64"`
	Name            string `gorm:"size:128;not null"`
	Description     string `gorm:"type:text"`
	Enabled         bool   `gorm:"not null"`
	CooldownSeconds int64  `gorm:"not null"`
	ConfigJSON      string `gorm:"type:text"`
	UpdatedAt       time.Time
}

func (AlertRuleConfigModel) TableName() string { return "alert_rule_configs" }

type alertGorm struct {
	db *gorm.DB
}

var _ usecase.AlertRepository = (*alertGorm)(nil)

// NewAlertGorm は指定されたgorm.DB接続でalertGormの新しいインスタンスを生成します。
func NewAlertGorm(db *gorm.DB) *alertGorm {
	return &alertGorm{db: db}
}

func toAlert(m AlertModel) entity.Alert {
	return entity.Alert{
		ID:        m.ID,
		Level:     entity.Level(m.Level),
		Rule:      m.Rule,
		Message:   m.Message,
		Timestamp: m.FiredAt,
		Metadata:  m.Metadata,
	}
}

func (r *alertGorm) Save(ctx context.Context, a entity.Alert) error {
	row := AlertModel{
		ID:        a.ID,
		Level:     string(a.Level),
		Rule:      a.Rule,
		Message:   a.Message,
		Metadata:  a.Metadata,
		FiredAt:   a.Timestamp.UTC(),
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *alertGorm) filtered(ctx context.Context, q entity.Query) *gorm.DB {
	tx := r.db.WithContext(ctx).Model(&AlertModel{})
	if q.Level != "" {
		tx = tx.Where("level = ?", string(q.Level))
	}
	if q.Rule != "" {
		tx = tx.Where("rule = ?", q.Rule)
	}
	return tx
}

// Query は新しい順にページングして返します。
func (r *alertGorm) Query(ctx context.Context, q entity.Query) ([]entity.Alert, int64, error) {
	var total int64
	if err := r.filtered(ctx, q).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []AlertModel
	err := r.filtered(ctx, q).
		Order("fired_at DESC").
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	out := make([]entity.Alert, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAlert(row))
	}
	return out, total, nil
}

func (r *alertGorm) Since(ctx context.Context, t time.Time) ([]entity.Alert, error) {
	var rows []AlertModel
	err := r.db.WithContext(ctx).
		Where("fired_at >= ?", t.UTC()).
		Order("fired_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]entity.Alert, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAlert(row))
	}
	return out, nil
}

func (r *alertGorm) CountByLevel(ctx context.Context) (map[entity.Level]int64, error) {
	var rows []struct {
		Level string
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&AlertModel{}).
		Select("level, COUNT(*) AS count").
		Group("level").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[entity.Level]int64, len(rows))
	for _, row := range rows {
		out[entity.Level(row.Level)] = row.Count
	}
	return out, nil
}

func (r *alertGorm) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&AlertModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return usecase.ErrAlertNotFound
	}
	return nil
}

type ruleConfigGorm struct {
	db *gorm.DB
}

var _ usecase.RuleConfigRepository = (*ruleConfigGorm)(nil)

// NewRuleConfigGorm は指定されたgorm.DB接続でruleConfigGormの新しいインスタンスを生成します。
func NewRuleConfigGorm(db *gorm.DB) *ruleConfigGorm {
	return &ruleConfigGorm{db: db}
}

func fromRuleConfig(c entity.RuleConfig) AlertRuleConfigModel {
	return AlertRuleConfigModel{
		ID:              c.ID,
		Name:            c.Name,
		Description:     c.Description,
		Enabled:         c.Enabled,
		CooldownSeconds: int64(c.Cooldown / time.Second),
		ConfigJSON:      string(c.Config),
		UpdatedAt:       c.UpdatedAt,
	}
}

// Seed は未登録のルールだけを挿入します。
func (r *ruleConfigGorm) Seed(ctx context.Context, defaults []entity.RuleConfig) error {
	if len(defaults) == 0 {
		return nil
	}
	rows := make([]AlertRuleConfigModel, 0, len(defaults))
	for _, d := range defaults {
		rows = append(rows, fromRuleConfig(d))
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (r *ruleConfigGorm) List(ctx context.Context) ([]entity.RuleConfig, error) {
	var rows []AlertRuleConfigModel
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]entity.RuleConfig, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.RuleConfig{
			ID:          row.ID,
			Name:        row.Name,
			Description: row.Description,
			Enabled:     row.Enabled,
			Cooldown:    time.Duration(row.CooldownSeconds) * time.Second,
			Config:      []byte(row.ConfigJSON),
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return out, nil
}

func (r *ruleConfigGorm) Save(ctx context.Context, c entity.RuleConfig) error {
	row := fromRuleConfig(c)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "enabled", "cooldown_seconds", "config_json", "updated_at"}),
	}).Create(&row).Error
}
