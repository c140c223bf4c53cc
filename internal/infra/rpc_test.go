package infra

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"token-mint-service/internal/domain"
)

// rpcStub はチェーンノードのJSON-RPC応答を台本化したテストサーバー。
// getSignatureStatusesは呼び出し順に応答を返し、尽きたら最後の応答を繰り返す。
type rpcStub struct {
	mu          sync.Mutex
	sendResp    string
	statusResps []string
	statusCalls int
}

func (s *rpcStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode rpc request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "sendTransaction":
			io.WriteString(w, s.sendResp)
		case "getSignatureStatuses":
			s.mu.Lock()
			i := s.statusCalls
			if i >= len(s.statusResps) {
				i = len(s.statusResps) - 1
			}
			s.statusCalls++
			resp := s.statusResps[i]
			s.mu.Unlock()
			io.WriteString(w, resp)
		default:
			t.Errorf("unexpected rpc method %q", req.Method)
		}
	}
}

const (
	sendAccepted    = `{"jsonrpc":"2.0","id":1,"result":"sig-1"}`
	statusNotFound  = `{"jsonrpc":"2.0","id":1,"result":{"value":[null]}}`
	statusProcessed = `{"jsonrpc":"2.0","id":1,"result":{"value":[{"confirmationStatus":"processed","err":null}]}}`
	statusConfirmed = `{"jsonrpc":"2.0","id":1,"result":{"value":[{"confirmationStatus":"confirmed","err":null}]}}`
	statusFailed    = `{"jsonrpc":"2.0","id":1,"result":{"value":[{"confirmationStatus":"confirmed","err":{"InstructionError":[0,{"Custom":1}]}}]}}`
)

// newTestRPCClient は短い確認ウィンドウを持つテスト用クライアントを作る。
func newTestRPCClient(endpoint string, confirmTimeout time.Duration) *RPCClient {
	return &RPCClient{
		endpoint:       endpoint,
		httpClient:     &http.Client{Timeout: time.Second},
		confirmTimeout: confirmTimeout,
		pollInterval:   time.Millisecond,
	}
}

func TestRPCClient_Submit_ConfirmedAfterObservation(t *testing.T) {
	stub := &rpcStub{
		sendResp:    sendAccepted,
		statusResps: []string{statusNotFound, statusProcessed, statusConfirmed},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client := newTestRPCClient(srv.URL, time.Second)
	result, err := client.Submit(context.Background(), []byte("signed-tx"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// 受理直後ではなく、着地を観測してから確定になる
	if result.Outcome != domain.SubmitConfirmed {
		t.Errorf("want confirmed, got %s (%s)", result.Outcome, result.Detail)
	}
	if result.Signature != "sig-1" {
		t.Errorf("want signature sig-1, got %s", result.Signature)
	}
	if stub.statusCalls < 3 {
		t.Errorf("want at least 3 status polls, got %d", stub.statusCalls)
	}
}

func TestRPCClient_Submit_AcceptedButNeverObserved(t *testing.T) {
	stub := &rpcStub{
		sendResp:    sendAccepted,
		statusResps: []string{statusNotFound},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	// 受理されたが確認ウィンドウ内に一度も観測されない場合、破棄と判断する
	client := newTestRPCClient(srv.URL, 20*time.Millisecond)
	result, err := client.Submit(context.Background(), []byte("signed-tx"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Outcome != domain.SubmitBlockhashExpired {
		t.Errorf("want blockhash_expired, got %s", result.Outcome)
	}
}

func TestRPCClient_Submit_ProcessedButUnconfirmedIsAmbiguous(t *testing.T) {
	stub := &rpcStub{
		sendResp:    sendAccepted,
		statusResps: []string{statusProcessed},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	// 処理は観測済みのままウィンドウが尽きた。着地し得るため不確定とする
	client := newTestRPCClient(srv.URL, 20*time.Millisecond)
	result, err := client.Submit(context.Background(), []byte("signed-tx"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Outcome != domain.SubmitAmbiguous {
		t.Errorf("want ambiguous, got %s", result.Outcome)
	}
}

func TestRPCClient_Submit_OnChainFailureRejected(t *testing.T) {
	stub := &rpcStub{
		sendResp:    sendAccepted,
		statusResps: []string{statusFailed},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client := newTestRPCClient(srv.URL, time.Second)
	result, err := client.Submit(context.Background(), []byte("signed-tx"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Outcome != domain.SubmitNetworkRejected {
		t.Errorf("want network_rejected, got %s", result.Outcome)
	}
}

func TestRPCClient_Submit_NodeErrorClassifiedWithoutPolling(t *testing.T) {
	stub := &rpcStub{
		sendResp:    `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Blockhash not found"}}`,
		statusResps: []string{statusNotFound},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client := newTestRPCClient(srv.URL, time.Second)
	result, err := client.Submit(context.Background(), []byte("signed-tx"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Outcome != domain.SubmitBlockhashExpired {
		t.Errorf("want blockhash_expired, got %s", result.Outcome)
	}
	if stub.statusCalls != 0 {
		t.Errorf("rejected transaction must not be polled, got %d polls", stub.statusCalls)
	}
}

func TestRPCClient_SignatureStatus(t *testing.T) {
	stub := &rpcStub{
		statusResps: []string{statusConfirmed, statusNotFound},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client := newTestRPCClient(srv.URL, time.Second)
	outcome, err := client.SignatureStatus(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("SignatureStatus failed: %v", err)
	}
	if outcome != domain.SubmitConfirmed {
		t.Errorf("want confirmed, got %s", outcome)
	}

	// 履歴に見つからない署名は着地していないと判断する
	outcome, err = client.SignatureStatus(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("SignatureStatus failed: %v", err)
	}
	if outcome != domain.SubmitNetworkRejected {
		t.Errorf("want network_rejected, got %s", outcome)
	}
}
