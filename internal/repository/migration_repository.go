package repository

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"token-mint-service/internal/domain"
)

// SchemaMigrationModel はschema_migrationsテーブルの行を表す。
type SchemaMigrationModel struct {
	Version   string    `gorm:"column:version;primaryKey;type:varchar(14)"`
	AppliedAt time.Time `gorm:"column:applied_at;not null;autoCreateTime"`
}

func (SchemaMigrationModel) TableName() string {
	return "schema_migrations"
}

// MigrationRepository はマイグレーション適用履歴のデータアクセスを提供する。
type MigrationRepository struct {
	db *gorm.DB
}

// NewMigrationRepository は新しいMigrationRepositoryを生成する。
func NewMigrationRepository(db *gorm.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

// FindAllApplied は適用済みバージョンの一覧をバージョン昇順で返す。
func (r *MigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var rows []SchemaMigrationModel
	if err := r.db.WithContext(ctx).Order("version ASC").Find(&rows).Error; err != nil {
		slog.ErrorContext(ctx, "failed to list migration history",
			"operation", "find_all_applied",
			"error", err,
		)
		return nil, err
	}

	history := make([]*domain.Migration, len(rows))
	for i := range rows {
		appliedAt := rows[i].AppliedAt
		history[i] = &domain.Migration{
			Version:   rows[i].Version,
			Status:    domain.MigrationStatusApplied,
			AppliedAt: &appliedAt,
		}
	}
	return history, nil
}

// RecordMigration はバージョンを適用済みとして記録する。
func (r *MigrationRepository) RecordMigration(ctx context.Context, version string) error {
	row := &SchemaMigrationModel{Version: version}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record migration history",
			"operation", "record_migration",
			"version", version,
			"error", err,
		)
		return err
	}
	return nil
}

// IsMigrationApplied はバージョンが適用済みかどうかを返す。
func (r *MigrationRepository) IsMigrationApplied(ctx context.Context, version string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SchemaMigrationModel{}).
		Where("version = ?", version).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to look up migration history",
			"operation", "is_migration_applied",
			"version", version,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}
