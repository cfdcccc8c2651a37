package adapters

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/feature/memory/usecase"
)

// EndUserModel は end_users テーブルの行です。
type EndUserModel struct {
	ID             uint      `gorm:"primaryKey"`
	UserIdentifier string    `gorm:"size:255;uniqueIndex;not null"`
	LastActive     time.Time `gorm:"index"`
	CreatedAt      time.Time
}

func (EndUserModel) TableName() string { return "end_users" }

// endUserGorm はEndUserRepositoryインターフェースのGORM実装です。
type endUserGorm struct {
	db *gorm.DB
}

var _ usecase.EndUserRepository = (*endUserGorm)(nil)

// NewEndUserGorm は指定されたgorm.DB接続でendUserGormの新しいインスタンスを生成します。
func NewEndUserGorm(db *gorm.DB) *endUserGorm {
	return &endUserGorm{db: db}
}

// Upsert はエンドユーザーを作成し、既に存在する場合は最終活動時刻だけを更新します。
func (r *endUserGorm) Upsert(ctx context.Context, identifier string, at time.Time) error {
	row := EndUserModel{UserIdentifier: identifier, LastActive: at, CreatedAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_identifier"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_active"}),
	}).Create(&row).Error
}

// List は最終活動時刻の新しい順に返します。
func (r *endUserGorm) List(ctx context.Context) ([]entity.EndUser, error) {
	var rows []EndUserModel
	if err := r.db.WithContext(ctx).Order("last_active DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	users := make([]entity.EndUser, 0, len(rows))
	for _, row := range rows {
		users = append(users, entity.EndUser{
			ID:             row.ID,
			UserIdentifier: row.UserIdentifier,
			LastActive:     row.LastActive,
			CreatedAt:      row.CreatedAt,
		})
	}
	return users, nil
}
