package domain

import "errors"

var (
	// ErrPoolExhausted はリース可能なミントIDが残っていない場合のエラー。
	ErrPoolExhausted = errors.New("mint identity pool exhausted")

	// ErrIdentityNotFound は指定されたミントアドレスのIDが存在しない場合のエラー。
	ErrIdentityNotFound = errors.New("mint identity not found")

	// ErrIdentityUsed は消費済みのミントIDに対する操作のエラー。
	ErrIdentityUsed = errors.New("mint identity already used")

	// ErrLeaseNotFound は有効なリースが存在しない場合のエラー。
	ErrLeaseNotFound = errors.New("lease not found")

	// ErrLeaseExpired はリースのTTLが超過している場合のエラー。
	ErrLeaseExpired = errors.New("lease expired")

	// ErrAttemptNotFound は指定された作成試行が存在しない場合のエラー。
	ErrAttemptNotFound = errors.New("creation attempt not found")

	// ErrSessionExpired は署名ウィンドウの期限切れ後に署名が到着した場合のエラー。
	// 期限後の署名は破棄され、再リースからのやり直しを促す。
	ErrSessionExpired = errors.New("signing session expired")

	// ErrInvalidRequest は作成パラメータの不足・不正のエラー。リース取得前に拒否される。
	ErrInvalidRequest = errors.New("invalid request")

	// ErrConfigNotConfirmed は設定トランザクション確定前にプールステップへ進もうとした場合のエラー。
	ErrConfigNotConfirmed = errors.New("config transaction not confirmed")

	// ErrMalformedPayload はペイロードのワイヤ形式が不正な場合のエラー。
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrSignatureInvalid はクライアント署名の検証に失敗した場合のエラー。
	ErrSignatureInvalid = errors.New("invalid signature")

	// ErrBlockhashExpired はトランザクションの有効期間が送信前に失効した場合のエラー。
	// リースを解放した上で、新しいリースからの再試行を促す。
	ErrBlockhashExpired = errors.New("blockhash expired")

	// ErrSubmitRejected はネットワークがトランザクションを拒否した場合のエラー。
	ErrSubmitRejected = errors.New("transaction rejected by network")

	// ErrAmbiguousSubmit は送信結果が不確定な場合のエラー。
	// 着地済みの可能性があるため、リースは自動解放されない。
	ErrAmbiguousSubmit = errors.New("ambiguous submission outcome")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
