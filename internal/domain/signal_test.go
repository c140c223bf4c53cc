package domain

import "testing"

func TestClassifySignal(t *testing.T) {
	cases := []struct {
		name    string
		code    int
		message string
		want    SignalOutcome
	}{
		{"eip1193 user rejection", 4001, "", SignalRejected},
		{"jsonrpc rejection", -32003, "", SignalRejected},
		{"disconnected code", 4900, "", SignalNetworkError},
		{"chain disconnected code", 4901, "", SignalNetworkError},
		{"internal error code", -32603, "", SignalNetworkError},
		{"rate limited code", -32005, "", SignalNetworkError},
		{"user rejected message", 0, "User rejected the request.", SignalRejected},
		{"user denied message", 0, "MetaMask Tx Signature: User denied transaction signature.", SignalRejected},
		{"cancelled message", 0, "Transaction cancelled by user", SignalRejected},
		{"declined message", 0, "signing declined", SignalRejected},
		{"timeout message", 0, "request timed out after 30s", SignalTimeout},
		{"deadline message", 0, "context deadline exceeded", SignalTimeout},
		{"network message", 0, "Network Error: failed to reach wallet", SignalNetworkError},
		{"fetch message", 0, "TypeError: Failed to fetch", SignalNetworkError},
		{"unknown code and message", 12345, "something odd happened", SignalUnknown},
		{"empty", 0, "", SignalUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySignal(tc.code, tc.message); got != tc.want {
				t.Errorf("ClassifySignal(%d, %q) = %s, want %s", tc.code, tc.message, got, tc.want)
			}
		})
	}
}

func TestClassifySignal_CodeTakesPrecedence(t *testing.T) {
	// 数値コードが既知ならメッセージの内容は見ない
	if got := ClassifySignal(4001, "network error"); got != SignalRejected {
		t.Errorf("want rejected, got %s", got)
	}
}
