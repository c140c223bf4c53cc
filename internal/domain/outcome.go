package domain

// SubmitOutcome は送信結果の分類を表す。
type SubmitOutcome string

const (
	// SubmitConfirmed はオンチェーンでの確定を観測したことを表す。
	SubmitConfirmed SubmitOutcome = "confirmed"
	// SubmitBlockhashExpired はトランザクションの有効期間が取り込み前に失効したことを表す。
	// 署名タイムアウトとは別物で、構築から送信の間に発生する。
	SubmitBlockhashExpired SubmitOutcome = "blockhash_expired"
	// SubmitNetworkRejected はネットワークがキャンセル以外の理由で拒否したことを表す。
	SubmitNetworkRejected SubmitOutcome = "network_rejected"
	// SubmitAmbiguous は着地したかどうかをエラーから判定できないことを表す。
	SubmitAmbiguous SubmitOutcome = "ambiguous"
)

// SubmitResult は1件のトランザクション送信の分類済み結果を表す。
type SubmitResult struct {
	Outcome   SubmitOutcome
	Signature string // トランザクション識別子（先頭署名のBase58表現）
	Detail    string // プロバイダ由来の補足メッセージ
}
