package domain

import "strings"

// SignalOutcome はウォレットプロバイダ由来のシグナルの分類結果を表す。
type SignalOutcome string

const (
	// SignalRejected は利用者による明示的な署名拒否を表す。システムエラーではない。
	SignalRejected SignalOutcome = "rejected"
	// SignalTimeout はクライアント側の署名タイムアウトを表す。再試行可能。
	SignalTimeout SignalOutcome = "timeout"
	// SignalNetworkError はネットワーク起因の失敗を表す。
	SignalNetworkError SignalOutcome = "network_error"
	// SignalUnknown は分類できないシグナルを表す。
	SignalUnknown SignalOutcome = "unknown"
)

// signalCodes は既知のプロバイダ数値コードの対応表。
// EIP-1193系: 4001=利用者拒否, 4900/4901=切断。JSON-RPC系: -32603=内部エラー, -32003=拒否。
var signalCodes = map[int]SignalOutcome{
	4001:   SignalRejected,
	-32003: SignalRejected,
	4900:   SignalNetworkError,
	4901:   SignalNetworkError,
	-32603: SignalNetworkError,
	-32005: SignalNetworkError,
}

// signalSubstrings はメッセージ文字列の部分一致による対応表。上から順に評価する。
var signalSubstrings = []struct {
	substr  string
	outcome SignalOutcome
}{
	{"user rejected", SignalRejected},
	{"user denied", SignalRejected},
	{"rejected the request", SignalRejected},
	{"user cancel", SignalRejected},
	{"cancelled by user", SignalRejected},
	{"declined", SignalRejected},
	{"timed out", SignalTimeout},
	{"timeout", SignalTimeout},
	{"deadline exceeded", SignalTimeout},
	{"network error", SignalNetworkError},
	{"failed to fetch", SignalNetworkError},
	{"connection refused", SignalNetworkError},
	{"disconnected", SignalNetworkError},
}

// ClassifySignal はプロバイダ固有のシグナル（数値コードとメッセージ）を列挙型に分類する。
// 数値コードの一致を優先し、次にメッセージの部分一致を評価する。
func ClassifySignal(code int, message string) SignalOutcome {
	if outcome, ok := signalCodes[code]; ok {
		return outcome
	}
	lower := strings.ToLower(message)
	for _, entry := range signalSubstrings {
		if strings.Contains(lower, entry.substr) {
			return entry.outcome
		}
	}
	return SignalUnknown
}
