package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"token-mint-service/internal/domain"
)

// CreationAttemptModel はgorm用のモデル定義。
type CreationAttemptModel struct {
	ID            string    `gorm:"type:char(36);primaryKey"`
	MintAddress   string    `gorm:"type:varchar(64);not null;index:idx_attempt_mint_address"`
	Requester     string    `gorm:"type:varchar(64);not null"`
	Mode          string    `gorm:"type:enum('simple','project');not null"`
	Step          string    `gorm:"type:enum('config','pool');not null;default:'config'"`
	ConfigAddress string    `gorm:"type:varchar(64);not null;default:''"`
	Status        string    `gorm:"type:varchar(32);not null;default:'preparing';index:idx_attempt_status"`
	CreatedAt     time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (CreationAttemptModel) TableName() string {
	return "creation_attempts"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *CreationAttemptModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *CreationAttemptModel) toDomain() *domain.CreationAttempt {
	return &domain.CreationAttempt{
		ID:            m.ID,
		MintAddress:   m.MintAddress,
		Requester:     m.Requester,
		Mode:          domain.AttemptMode(m.Mode),
		Step:          domain.AttemptStep(m.Step),
		ConfigAddress: m.ConfigAddress,
		Status:        domain.AttemptStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// AttemptRepository は作成試行のデータアクセスを提供する。
type AttemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository は新しいAttemptRepositoryを生成する。
func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Create は新しい作成試行を保存する。
func (r *AttemptRepository) Create(ctx context.Context, attempt *domain.CreationAttempt) error {
	model := &CreationAttemptModel{
		ID:            attempt.ID,
		MintAddress:   attempt.MintAddress,
		Requester:     attempt.Requester,
		Mode:          string(attempt.Mode),
		Step:          string(attempt.Step),
		ConfigAddress: attempt.ConfigAddress,
		Status:        string(attempt.Status),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create attempt",
			"operation", "create",
			"mint_address", attempt.MintAddress,
			"error", err,
		)
		return err
	}
	attempt.ID = model.ID
	attempt.CreatedAt = model.CreatedAt
	attempt.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID は指定された作成試行を取得する。存在しない場合はnilを返す。
func (r *AttemptRepository) FindByID(ctx context.Context, id string) (*domain.CreationAttempt, error) {
	var model CreationAttemptModel
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find attempt",
			"operation", "find_by_id",
			"attempt_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// UpdateStatus は作成試行のステータスを更新する。
func (r *AttemptRepository) UpdateStatus(ctx context.Context, id string, status domain.AttemptStatus) error {
	err := r.db.WithContext(ctx).
		Model(&CreationAttemptModel{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update attempt status",
			"operation", "update_status",
			"attempt_id", id,
			"status", status,
			"error", err,
		)
		return err
	}
	return nil
}

// AdvanceToPool は設定ステップの確定を記録し、プールステップへ進める。
func (r *AttemptRepository) AdvanceToPool(ctx context.Context, id string, configAddress string) error {
	err := r.db.WithContext(ctx).
		Model(&CreationAttemptModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"step":           string(domain.AttemptStepPool),
			"config_address": configAddress,
			"status":         string(domain.AttemptStatusPreparing),
		}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to advance attempt to pool step",
			"operation", "advance_to_pool",
			"attempt_id", id,
			"error", err,
		)
		return err
	}
	return nil
}
