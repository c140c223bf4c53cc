// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr-tron/base58"

	"token-mint-service/internal/domain"
)

// IdentityRepository はミントIDデータアクセスのインターフェース。
type IdentityRepository interface {
	Create(ctx context.Context, identity *domain.MintIdentity) error
	FindByMintAddress(ctx context.Context, mintAddress string) (*domain.MintIdentity, error)
	ClaimAvailable(ctx context.Context) (*domain.MintIdentity, error)
	UpdateStatusIf(ctx context.Context, mintAddress string, from, to domain.IdentityStatus) (bool, error)
	CountByStatus(ctx context.Context) (map[domain.IdentityStatus]int64, error)
}

// LeaseRepository はリースデータアクセスのインターフェース。
type LeaseRepository interface {
	Create(ctx context.Context, lease *domain.MintLease) error
	FindActiveByMintAddress(ctx context.Context, mintAddress string) (*domain.MintLease, error)
	UpdateStatusIf(ctx context.Context, id string, from, to domain.LeaseStatus) (bool, error)
	ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) (bool, error)
	FindExpiredActive(ctx context.Context, now time.Time) ([]*domain.MintLease, error)
}

// KMSClient は秘密鍵の封緘/開封のインターフェース。
type KMSClient interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// MetricsRecorder はプール運用メトリクスの記録先。
type MetricsRecorder interface {
	RecordLeaseOutcome(outcome string)
	RecordSubmitOutcome(outcome string)
	SetPoolSize(status string, count int64)
}

// nopMetrics は何も記録しないMetricsRecorder。
type nopMetrics struct{}

func (nopMetrics) RecordLeaseOutcome(string)  {}
func (nopMetrics) RecordSubmitOutcome(string) {}
func (nopMetrics) SetPoolSize(string, int64)  {}

// NopMetrics はメトリクスを無効化する場合に使うMetricsRecorder。
var NopMetrics MetricsRecorder = nopMetrics{}

// PoolService はミントIDプールのビジネスロジックを提供する。
// lease/release/markUsedの排他はステータスガード付きUPDATEで取り、
// 同一IDへの操作は直列化され、別IDへの操作は互いに干渉しない。
type PoolService struct {
	identities    IdentityRepository
	leases        LeaseRepository
	kms           KMSClient
	metrics       MetricsRecorder
	signingWindow time.Duration
	leaseGrace    time.Duration
}

// NewPoolService は新しいPoolServiceを生成する。
func NewPoolService(identities IdentityRepository, leases LeaseRepository, kms KMSClient, metrics MetricsRecorder, signingWindow, leaseGrace time.Duration) *PoolService {
	if metrics == nil {
		metrics = NopMetrics
	}
	return &PoolService{
		identities:    identities,
		leases:        leases,
		kms:           kms,
		metrics:       metrics,
		signingWindow: signingWindow,
		leaseGrace:    leaseGrace,
	}
}

// Generate は新しいミントキーペアを生成し、KMSで封緘してプールに追加する。
func (s *PoolService) Generate(ctx context.Context, count int) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be positive", domain.ErrInvalidRequest)
	}

	addresses := make([]string, 0, count)
	for i := 0; i < count; i++ {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return addresses, fmt.Errorf("generating keypair: %w", err)
		}

		encrypted, err := s.kms.Encrypt(ctx, priv)
		if err != nil {
			return addresses, fmt.Errorf("sealing private key: %w", err)
		}

		identity := &domain.MintIdentity{
			MintAddress:         base58.Encode(pub),
			PublicKey:           append([]byte(nil), pub...),
			EncryptedPrivateKey: encrypted,
			Status:              domain.IdentityStatusAvailable,
		}
		if err := s.identities.Create(ctx, identity); err != nil {
			return addresses, fmt.Errorf("creating identity: %w", err)
		}
		addresses = append(addresses, identity.MintAddress)
	}
	return addresses, nil
}

// Lease はavailableなミントIDを1件確保し、TTL付きの有効リースを作成する。
func (s *PoolService) Lease(ctx context.Context, requester string) (*domain.LeasedIdentity, error) {
	identity, err := s.identities.ClaimAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("claiming identity: %w", err)
	}
	if identity == nil {
		s.metrics.RecordLeaseOutcome("exhausted")
		return nil, domain.ErrPoolExhausted
	}

	lease := &domain.MintLease{
		MintAddress: identity.MintAddress,
		Requester:   requester,
		Status:      domain.LeaseStatusActive,
		ExpiresAt:   time.Now().Add(s.signingWindow + s.leaseGrace),
	}
	if err := s.leases.Create(ctx, lease); err != nil {
		// リース記録に失敗した場合はIDを取り戻す
		if _, revertErr := s.identities.UpdateStatusIf(ctx, identity.MintAddress, domain.IdentityStatusLeased, domain.IdentityStatusAvailable); revertErr != nil {
			slog.ErrorContext(ctx, "failed to revert claimed identity",
				"mint_address", identity.MintAddress,
				"error", revertErr,
			)
		}
		return nil, fmt.Errorf("creating lease: %w", err)
	}

	s.metrics.RecordLeaseOutcome("leased")
	return &domain.LeasedIdentity{
		MintAddress: identity.MintAddress,
		PublicKey:   identity.PublicKey,
		LeaseID:     lease.ID,
		ExpiresAt:   lease.ExpiresAt,
	}, nil
}

// Release はリースを解放してミントIDをavailableへ戻す。
// 解放済み・消費済みのIDに対しては何もせず成功を返す（クリーンアップ側は投機的に呼んでよい）。
func (s *PoolService) Release(ctx context.Context, mintAddress string) error {
	identity, err := s.identities.FindByMintAddress(ctx, mintAddress)
	if err != nil {
		return fmt.Errorf("finding identity: %w", err)
	}
	if identity == nil {
		return domain.ErrIdentityNotFound
	}
	if identity.Status == domain.IdentityStatusAvailable || identity.Status == domain.IdentityStatusUsed {
		// 既に解決済み。二重解放は無害。
		return nil
	}

	lease, err := s.leases.FindActiveByMintAddress(ctx, mintAddress)
	if err != nil {
		return fmt.Errorf("finding active lease: %w", err)
	}
	outcome := "released"
	if lease != nil {
		to := domain.LeaseStatusReleased
		if lease.Expired(time.Now()) {
			to = domain.LeaseStatusExpired
			outcome = "expired"
		}
		// 0件更新は他経路で解決済みのため成功扱い
		if _, err := s.leases.UpdateStatusIf(ctx, lease.ID, domain.LeaseStatusActive, to); err != nil {
			return fmt.Errorf("resolving lease: %w", err)
		}
	}

	if _, err := s.identities.UpdateStatusIf(ctx, mintAddress, domain.IdentityStatusLeased, domain.IdentityStatusAvailable); err != nil {
		return fmt.Errorf("releasing identity: %w", err)
	}
	s.metrics.RecordLeaseOutcome(outcome)
	return nil
}

// MarkUsed はオンチェーン確定後にミントIDを消費済みへ遷移させる。不可逆。
func (s *PoolService) MarkUsed(ctx context.Context, mintAddress string) error {
	identity, err := s.identities.FindByMintAddress(ctx, mintAddress)
	if err != nil {
		return fmt.Errorf("finding identity: %w", err)
	}
	if identity == nil {
		return domain.ErrIdentityNotFound
	}
	if identity.Status == domain.IdentityStatusUsed {
		return nil
	}
	if identity.Status != domain.IdentityStatusLeased {
		return fmt.Errorf("%w: identity %s is %s", domain.ErrLeaseNotFound, mintAddress, identity.Status)
	}

	ok, err := s.identities.UpdateStatusIf(ctx, mintAddress, domain.IdentityStatusLeased, domain.IdentityStatusUsed)
	if err != nil {
		return fmt.Errorf("marking identity used: %w", err)
	}
	if !ok {
		// 競合した場合は最終状態を確認する
		current, err := s.identities.FindByMintAddress(ctx, mintAddress)
		if err != nil {
			return fmt.Errorf("re-checking identity: %w", err)
		}
		if current == nil || current.Status != domain.IdentityStatusUsed {
			return fmt.Errorf("%w: identity %s left leased state", domain.ErrLeaseNotFound, mintAddress)
		}
		return nil
	}

	lease, err := s.leases.FindActiveByMintAddress(ctx, mintAddress)
	if err != nil {
		return fmt.Errorf("finding active lease: %w", err)
	}
	if lease != nil {
		if _, err := s.leases.UpdateStatusIf(ctx, lease.ID, domain.LeaseStatusActive, domain.LeaseStatusConsumed); err != nil {
			return fmt.Errorf("consuming lease: %w", err)
		}
	}
	s.metrics.RecordLeaseOutcome("consumed")
	return nil
}

// Identity は指定されたミントアドレスのIDを取得する。
func (s *PoolService) Identity(ctx context.Context, mintAddress string) (*domain.MintIdentity, error) {
	identity, err := s.identities.FindByMintAddress(ctx, mintAddress)
	if err != nil {
		return nil, fmt.Errorf("finding identity: %w", err)
	}
	if identity == nil {
		return nil, domain.ErrIdentityNotFound
	}
	return identity, nil
}

// RequireActiveLease は有効リースを取得する。期限切れを見つけた場合は
// その場で回収（遅延回収）した上でErrLeaseExpiredを返す。
func (s *PoolService) RequireActiveLease(ctx context.Context, mintAddress string) (*domain.MintLease, error) {
	lease, err := s.leases.FindActiveByMintAddress(ctx, mintAddress)
	if err != nil {
		return nil, fmt.Errorf("finding active lease: %w", err)
	}
	if lease == nil {
		return nil, domain.ErrLeaseNotFound
	}
	if lease.Expired(time.Now()) {
		if ok, err := s.leases.UpdateStatusIf(ctx, lease.ID, domain.LeaseStatusActive, domain.LeaseStatusExpired); err == nil && ok {
			if _, err := s.identities.UpdateStatusIf(ctx, mintAddress, domain.IdentityStatusLeased, domain.IdentityStatusAvailable); err != nil {
				slog.ErrorContext(ctx, "failed to release identity for expired lease",
					"mint_address", mintAddress,
					"error", err,
				)
			}
			s.metrics.RecordLeaseOutcome("expired")
		}
		return nil, domain.ErrLeaseExpired
	}
	return lease, nil
}

// ExtendLease は有効リースの期限を署名ウィンドウ1回分延長する。
// 二段階フローで設定確定後にプールステップへ進む際に使う。
func (s *PoolService) ExtendLease(ctx context.Context, mintAddress string) (time.Time, error) {
	lease, err := s.RequireActiveLease(ctx, mintAddress)
	if err != nil {
		return time.Time{}, err
	}
	expiresAt := time.Now().Add(s.signingWindow + s.leaseGrace)
	if _, err := s.leases.ExtendExpiry(ctx, lease.ID, expiresAt); err != nil {
		return time.Time{}, fmt.Errorf("extending lease: %w", err)
	}
	return expiresAt, nil
}

// Unseal はKMSで封緘された秘密鍵を開封する。秘密鍵はネットワーク境界を越えない。
func (s *PoolService) Unseal(ctx context.Context, identity *domain.MintIdentity) (ed25519.PrivateKey, error) {
	plain, err := s.kms.Decrypt(ctx, identity.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("unsealing private key: %w", err)
	}
	if len(plain) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: unexpected private key size %d", domain.ErrMalformedPayload, len(plain))
	}
	return ed25519.PrivateKey(plain), nil
}

// ReclaimExpired は期限切れのまま残った有効リースを回収し、IDをプールへ戻す。
// 呼び戻しの来ないクライアントに対する最終防衛線で、定期スイープから呼ばれる。
func (s *PoolService) ReclaimExpired(ctx context.Context) (int, error) {
	expired, err := s.leases.FindExpiredActive(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("finding expired leases: %w", err)
	}

	reclaimed := 0
	for _, lease := range expired {
		ok, err := s.leases.UpdateStatusIf(ctx, lease.ID, domain.LeaseStatusActive, domain.LeaseStatusExpired)
		if err != nil {
			return reclaimed, fmt.Errorf("expiring lease %s: %w", lease.ID, err)
		}
		if !ok {
			// 遅延回収と競合した。既に解決済み。
			continue
		}
		if _, err := s.identities.UpdateStatusIf(ctx, lease.MintAddress, domain.IdentityStatusLeased, domain.IdentityStatusAvailable); err != nil {
			return reclaimed, fmt.Errorf("releasing identity %s: %w", lease.MintAddress, err)
		}
		s.metrics.RecordLeaseOutcome("expired")
		slog.InfoContext(ctx, "reclaimed expired lease",
			"lease_id", lease.ID,
			"mint_address", lease.MintAddress,
			"requester", lease.Requester,
			"expired_at", lease.ExpiresAt,
		)
		reclaimed++
	}
	return reclaimed, nil
}

// Counts はプールのステータス別件数を取得し、メトリクスゲージを更新する。
func (s *PoolService) Counts(ctx context.Context) (map[domain.IdentityStatus]int64, error) {
	counts, err := s.identities.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting identities: %w", err)
	}
	for status, count := range counts {
		s.metrics.SetPoolSize(string(status), count)
	}
	return counts, nil
}
