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

// MintLeaseModel はgorm用のモデル定義。
type MintLeaseModel struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	MintAddress string    `gorm:"type:varchar(64);not null;index:idx_lease_mint_address"`
	Requester   string    `gorm:"type:varchar(64);not null;index:idx_lease_requester"`
	Status      string    `gorm:"type:enum('active','released','consumed','expired');not null;default:'active';index:idx_lease_status"`
	CreatedAt   time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"type:datetime(6);not null;index:idx_lease_expires_at"`
	UpdatedAt   time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (MintLeaseModel) TableName() string {
	return "mint_leases"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *MintLeaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *MintLeaseModel) toDomain() *domain.MintLease {
	return &domain.MintLease{
		ID:          m.ID,
		MintAddress: m.MintAddress,
		Requester:   m.Requester,
		Status:      domain.LeaseStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// LeaseRepository はリースのデータアクセスを提供する。
type LeaseRepository struct {
	db *gorm.DB
}

// NewLeaseRepository は新しいLeaseRepositoryを生成する。
func NewLeaseRepository(db *gorm.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// Create は新しいリースを保存する。
func (r *LeaseRepository) Create(ctx context.Context, lease *domain.MintLease) error {
	model := &MintLeaseModel{
		ID:          lease.ID,
		MintAddress: lease.MintAddress,
		Requester:   lease.Requester,
		Status:      string(lease.Status),
		ExpiresAt:   lease.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create lease",
			"operation", "create",
			"mint_address", lease.MintAddress,
			"requester", lease.Requester,
			"error", err,
		)
		return err
	}
	lease.ID = model.ID
	lease.CreatedAt = model.CreatedAt
	lease.UpdatedAt = model.UpdatedAt
	return nil
}

// FindActiveByMintAddress は指定されたミントアドレスの有効リースを取得する。
// 存在しない場合はnilを返す。
func (r *LeaseRepository) FindActiveByMintAddress(ctx context.Context, mintAddress string) (*domain.MintLease, error) {
	var model MintLeaseModel
	err := r.db.WithContext(ctx).
		Where("mint_address = ? AND status = ?", mintAddress, string(domain.LeaseStatusActive)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find active lease",
			"operation", "find_active_by_mint_address",
			"mint_address", mintAddress,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// UpdateStatusIf はステータスガード付きでリースの状態を遷移させる。
// 遷移できた場合はtrueを返す。期限切れリースの二重回収はここで無害化される。
func (r *LeaseRepository) UpdateStatusIf(ctx context.Context, id string, from, to domain.LeaseStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&MintLeaseModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to update lease status",
			"operation", "update_status_if",
			"lease_id", id,
			"from", from,
			"to", to,
			"error", result.Error,
		)
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ExtendExpiry は有効リースの期限を延長する。二段階フローでステップを跨ぐ際に使う。
func (r *LeaseRepository) ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&MintLeaseModel{}).
		Where("id = ? AND status = ?", id, string(domain.LeaseStatusActive)).
		Update("expires_at", expiresAt)
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to extend lease expiry",
			"operation", "extend_expiry",
			"lease_id", id,
			"error", result.Error,
		)
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindExpiredActive は期限切れのまま残っている有効リースを取得する。定期回収で使う。
func (r *LeaseRepository) FindExpiredActive(ctx context.Context, now time.Time) ([]*domain.MintLease, error) {
	var models []MintLeaseModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", string(domain.LeaseStatusActive), now).
		Order("expires_at ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find expired leases",
			"operation", "find_expired_active",
			"error", err,
		)
		return nil, err
	}

	leases := make([]*domain.MintLease, len(models))
	for i, m := range models {
		leases[i] = m.toDomain()
	}
	return leases, nil
}
