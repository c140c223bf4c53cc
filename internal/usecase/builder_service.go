package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"token-mint-service/internal/domain"
)

const (
	maxTokenNameLength   = 32
	maxTokenSymbolLength = 10
)

// BlockhashProvider は直近ブロックハッシュの取得先。
type BlockhashProvider interface {
	LatestBlockhash(ctx context.Context) ([]byte, error)
}

// BuilderService は未署名トランザクションの構築を提供する。
// 構築されたペイロードはリース済みミントIDを参照し、署名者は
// 手数料支払者（クライアント）、ミント（サーバー）の順で並ぶ。
type BuilderService struct {
	blockhash BlockhashProvider
}

// NewBuilderService は新しいBuilderServiceを生成する。
func NewBuilderService(blockhash BlockhashProvider) *BuilderService {
	return &BuilderService{blockhash: blockhash}
}

// instruction は命令ペイロードのシリアライズ形式。
type instruction struct {
	Type        string `json:"type"`
	Mint        string `json:"mint"`
	Config      string `json:"config,omitempty"`
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	MetadataURI string `json:"metadata_uri,omitempty"`
	Decimals    uint8  `json:"decimals,omitempty"`
	FeeTierBPS  uint32 `json:"fee_tier_bps,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
}

// validateParams は作成パラメータを検証し、クライアント署名者の公開鍵を返す。
func validateParams(params domain.CreationParams) ([]byte, error) {
	if params.Name == "" || len(params.Name) > maxTokenNameLength {
		return nil, fmt.Errorf("%w: name is required and must be at most %d characters", domain.ErrInvalidRequest, maxTokenNameLength)
	}
	if params.Symbol == "" || len(params.Symbol) > maxTokenSymbolLength {
		return nil, fmt.Errorf("%w: symbol is required and must be at most %d characters", domain.ErrInvalidRequest, maxTokenSymbolLength)
	}
	if params.Creator == "" {
		return nil, fmt.Errorf("%w: creator is required", domain.ErrInvalidRequest)
	}
	creatorKey, err := base58.Decode(params.Creator)
	if err != nil || len(creatorKey) != domain.PublicKeySize {
		return nil, fmt.Errorf("%w: creator must be a base58 ed25519 public key", domain.ErrInvalidRequest)
	}
	return creatorKey, nil
}

// ValidateParams は作成パラメータのみを検証する。リース取得前の事前検証に使う。
func (s *BuilderService) ValidateParams(params domain.CreationParams) error {
	_, err := validateParams(params)
	return err
}

// validateLease はリースが有効であることを確認する。
// 期限切れリースに対してトランザクションを黙って構築することはない。
func validateLease(lease *domain.MintLease) error {
	if lease == nil || lease.Status != domain.LeaseStatusActive {
		return fmt.Errorf("%w: lease is not active", domain.ErrInvalidRequest)
	}
	if lease.Expired(time.Now()) {
		return fmt.Errorf("%w: lease already expired", domain.ErrInvalidRequest)
	}
	return nil
}

// buildPayload は署名者と命令から1件のペイロードを構築する。
func (s *BuilderService) buildPayload(ctx context.Context, name string, signerKeys [][]byte, instr instruction) (*domain.Payload, error) {
	blockhash, err := s.blockhash.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching latest blockhash: %w", err)
	}

	instrBytes, err := json.Marshal(instr)
	if err != nil {
		return nil, fmt.Errorf("encoding instruction: %w", err)
	}

	msg := &domain.TxMessage{
		Blockhash:    blockhash,
		SignerKeys:   signerKeys,
		Instructions: instrBytes,
	}
	message, err := msg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return &domain.Payload{Name: name, Message: message}, nil
}

// BuildSimple は単一トランザクション作成用のペイロードを1件構築する。
// 全作成命令をひとつのトランザクションに詰める。
func (s *BuilderService) BuildSimple(ctx context.Context, lease *domain.MintLease, mintPublicKey []byte, params domain.CreationParams) (*domain.Payload, error) {
	creatorKey, err := validateParams(params)
	if err != nil {
		return nil, err
	}
	if err := validateLease(lease); err != nil {
		return nil, err
	}

	return s.buildPayload(ctx, "create_token", [][]byte{creatorKey, mintPublicKey}, instruction{
		Type:        "create_token",
		Mint:        base58.Encode(mintPublicKey),
		Name:        params.Name,
		Symbol:      params.Symbol,
		MetadataURI: params.MetadataURI,
		Decimals:    params.Decimals,
		Amount:      params.InitialBuy,
	})
}

// BuildConfig はプロジェクト作成の設定ステップ用ペイロードを1件構築する。
// 再利用可能な設定オブジェクトの確立のみを行い、最終的なプールパラメータは参照しない。
func (s *BuilderService) BuildConfig(ctx context.Context, lease *domain.MintLease, mintPublicKey []byte, params domain.CreationParams) (*domain.Payload, error) {
	creatorKey, err := validateParams(params)
	if err != nil {
		return nil, err
	}
	if err := validateLease(lease); err != nil {
		return nil, err
	}

	return s.buildPayload(ctx, "config", [][]byte{creatorKey, mintPublicKey}, instruction{
		Type:       "create_config",
		Mint:       base58.Encode(mintPublicKey),
		FeeTierBPS: params.FeeTierBPS,
	})
}

// BuildPool は確定済みの設定を参照するプールステップのペイロードバッチを構築する。
// バッチの順序（プール初期化→初回購入）は送信順序としてそのまま保持される。
func (s *BuilderService) BuildPool(ctx context.Context, lease *domain.MintLease, mintPublicKey []byte, configAddress string, params domain.CreationParams) ([]domain.Payload, error) {
	creatorKey, err := validateParams(params)
	if err != nil {
		return nil, err
	}
	if configAddress == "" {
		return nil, fmt.Errorf("%w: config address is required", domain.ErrInvalidRequest)
	}
	if err := validateLease(lease); err != nil {
		return nil, err
	}

	signers := [][]byte{creatorKey, mintPublicKey}
	mintAddress := base58.Encode(mintPublicKey)

	poolInit, err := s.buildPayload(ctx, "pool_init", signers, instruction{
		Type:        "create_pool",
		Mint:        mintAddress,
		Config:      configAddress,
		Name:        params.Name,
		Symbol:      params.Symbol,
		MetadataURI: params.MetadataURI,
		Decimals:    params.Decimals,
	})
	if err != nil {
		return nil, err
	}

	payloads := []domain.Payload{*poolInit}
	if params.InitialBuy > 0 {
		initialBuy, err := s.buildPayload(ctx, "initial_buy", signers, instruction{
			Type:   "initial_buy",
			Mint:   mintAddress,
			Config: configAddress,
			Amount: params.InitialBuy,
		})
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, *initialBuy)
	}
	return payloads, nil
}
