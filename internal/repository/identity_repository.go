// Package repository はデータアクセス層の実装を提供する。
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

// claimAttempts は空きIDの奪い合いに負けた場合の再選択回数。
const claimAttempts = 3

// MintIdentityModel はgorm用のモデル定義。
type MintIdentityModel struct {
	ID                  string    `gorm:"type:char(36);primaryKey"`
	MintAddress         string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_mint_address"`
	PublicKey           []byte    `gorm:"type:blob;not null"`
	EncryptedPrivateKey []byte    `gorm:"type:blob;not null"`
	Status              string    `gorm:"type:enum('available','leased','used');not null;default:'available';index:idx_identity_status"`
	CreatedAt           time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (MintIdentityModel) TableName() string {
	return "mint_identities"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *MintIdentityModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *MintIdentityModel) toDomain() *domain.MintIdentity {
	return &domain.MintIdentity{
		ID:                  m.ID,
		MintAddress:         m.MintAddress,
		PublicKey:           m.PublicKey,
		EncryptedPrivateKey: m.EncryptedPrivateKey,
		Status:              domain.IdentityStatus(m.Status),
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

// IdentityRepository はミントIDのデータアクセスを提供する。
type IdentityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository は新しいIdentityRepositoryを生成する。
func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create は新しいミントIDを保存する。
func (r *IdentityRepository) Create(ctx context.Context, identity *domain.MintIdentity) error {
	model := &MintIdentityModel{
		ID:                  identity.ID,
		MintAddress:         identity.MintAddress,
		PublicKey:           identity.PublicKey,
		EncryptedPrivateKey: identity.EncryptedPrivateKey,
		Status:              string(identity.Status),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create mint identity",
			"operation", "create",
			"mint_address", identity.MintAddress,
			"error", err,
		)
		return err
	}
	// gormで設定された値をドメインエンティティに反映
	identity.ID = model.ID
	identity.CreatedAt = model.CreatedAt
	identity.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByMintAddress は指定されたミントアドレスのIDを取得する。存在しない場合はnilを返す。
func (r *IdentityRepository) FindByMintAddress(ctx context.Context, mintAddress string) (*domain.MintIdentity, error) {
	var model MintIdentityModel
	err := r.db.WithContext(ctx).
		Where("mint_address = ?", mintAddress).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find mint identity",
			"operation", "find_by_mint_address",
			"mint_address", mintAddress,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// ClaimAvailable はavailableなIDを1件選択してleasedに遷移させる。
// ステータスガード付きUPDATEのaffected rowsで排他を取るため、同一IDを
// 同時に確保できるのは常に1リクエストのみ。空きがない場合はnilを返す。
func (r *IdentityRepository) ClaimAvailable(ctx context.Context) (*domain.MintIdentity, error) {
	for i := 0; i < claimAttempts; i++ {
		var model MintIdentityModel
		err := r.db.WithContext(ctx).
			Where("status = ?", string(domain.IdentityStatusAvailable)).
			Order("created_at ASC").
			First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			slog.ErrorContext(ctx, "failed to select available identity",
				"operation", "claim_available",
				"error", err,
			)
			return nil, err
		}

		result := r.db.WithContext(ctx).
			Model(&MintIdentityModel{}).
			Where("id = ? AND status = ?", model.ID, string(domain.IdentityStatusAvailable)).
			Update("status", string(domain.IdentityStatusLeased))
		if result.Error != nil {
			slog.ErrorContext(ctx, "failed to claim identity",
				"operation", "claim_available",
				"mint_address", model.MintAddress,
				"error", result.Error,
			)
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			model.Status = string(domain.IdentityStatusLeased)
			return model.toDomain(), nil
		}
		// 他のリクエストに先を越されたため再選択
	}
	return nil, nil
}

// UpdateStatusIf はステータスガード付きでIDの状態を遷移させる。
// 遷移できた場合はtrueを返す。0件更新は呼び出し側で冪等に扱う。
func (r *IdentityRepository) UpdateStatusIf(ctx context.Context, mintAddress string, from, to domain.IdentityStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&MintIdentityModel{}).
		Where("mint_address = ? AND status = ?", mintAddress, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to update identity status",
			"operation", "update_status_if",
			"mint_address", mintAddress,
			"from", from,
			"to", to,
			"error", result.Error,
		)
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CountByStatus はステータスごとの件数を取得する。
func (r *IdentityRepository) CountByStatus(ctx context.Context) (map[domain.IdentityStatus]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&MintIdentityModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count identities by status",
			"operation", "count_by_status",
			"error", err,
		)
		return nil, err
	}

	counts := map[domain.IdentityStatus]int64{
		domain.IdentityStatusAvailable: 0,
		domain.IdentityStatusLeased:    0,
		domain.IdentityStatusUsed:      0,
	}
	for _, r := range rows {
		counts[domain.IdentityStatus(r.Status)] = r.Count
	}
	return counts, nil
}
