// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// IdentityStatus はミントIDのステータスを表す。
type IdentityStatus string

const (
	// IdentityStatusAvailable はリース可能なミントIDを表す。
	IdentityStatusAvailable IdentityStatus = "available"
	// IdentityStatusLeased はリース中のミントIDを表す。
	IdentityStatusLeased IdentityStatus = "leased"
	// IdentityStatusUsed はオンチェーンで消費済みのミントIDを表す。一度usedになったIDは二度とリースされない。
	IdentityStatusUsed IdentityStatus = "used"
)

// MintIdentity はミントキーペアのエンティティを表す。
// 秘密鍵はKMSで暗号化された状態でのみ保持し、対署名の直前にのみ復号する。
type MintIdentity struct {
	ID                  string
	MintAddress         string // Base58エンコードされた公開鍵
	PublicKey           []byte // Ed25519公開鍵（32バイト）
	EncryptedPrivateKey []byte // KMSで暗号化されたEd25519秘密鍵
	Status              IdentityStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LeasedIdentity はリース結果を表す（秘密鍵材料を含まない）。
type LeasedIdentity struct {
	MintAddress string
	PublicKey   []byte
	LeaseID     string
	ExpiresAt   time.Time
}
