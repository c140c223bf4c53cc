package domain

import "time"

// AttemptMode はトークン作成のモードを表す。
type AttemptMode string

const (
	// AttemptModeSimple は単一トランザクションによる作成を表す。
	AttemptModeSimple AttemptMode = "simple"
	// AttemptModeProject は設定→プールの二段階作成を表す。
	AttemptModeProject AttemptMode = "project"
)

// AttemptStep は二段階フローの現在ステップを表す。
type AttemptStep string

const (
	// AttemptStepConfig は設定トランザクションのステップを表す。
	AttemptStepConfig AttemptStep = "config"
	// AttemptStepPool はプールトランザクションのステップを表す。設定確定後にのみ到達する。
	AttemptStepPool AttemptStep = "pool"
)

// AttemptStatus は作成試行のステータスを表す。
type AttemptStatus string

const (
	AttemptStatusPreparing         AttemptStatus = "preparing"
	AttemptStatusAwaitingSignature AttemptStatus = "awaiting_signature"
	AttemptStatusSubmitting        AttemptStatus = "submitting"
	AttemptStatusConfirmed         AttemptStatus = "confirmed"
	AttemptStatusFailed            AttemptStatus = "failed"
	AttemptStatusCancelled         AttemptStatus = "cancelled"
)

// Terminal はステータスが終端かどうかを返す。
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptStatusConfirmed, AttemptStatusFailed, AttemptStatusCancelled:
		return true
	}
	return false
}

// CreationAttempt はトークン作成試行を表す。
// 試行は自身のリースを排他的に所有し、終端遷移では必ずリースを解決する。
type CreationAttempt struct {
	ID            string
	MintAddress   string
	Requester     string
	Mode          AttemptMode
	Step          AttemptStep
	ConfigAddress string // 設定ステップ確定後に設定される。未確定の間は空文字列。
	Status        AttemptStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
