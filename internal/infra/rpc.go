package infra

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"token-mint-service/config"
	"token-mint-service/internal/domain"
)

// RPCClient はチェーンノードのJSON-RPCエンドポイントへのクライアント。
// 送信結果はノードのエラー応答から送信結果分類（確定・ブロックハッシュ失効・
// 拒否・不確定）へ変換して返す。ノードの受理は確定とは区別し、署名ステータスの
// 照会で着地を観測できた場合にのみ確定として扱う。
type RPCClient struct {
	endpoint       string
	httpClient     *http.Client
	confirmTimeout time.Duration
	pollInterval   time.Duration
	requestID      atomic.Int64
}

// NewRPCClient は新しいRPCClientを生成する。
func NewRPCClient(cfg *config.Config) *RPCClient {
	return &RPCClient{
		endpoint: cfg.RPCEndpoint,
		httpClient: &http.Client{
			Timeout: cfg.SubmitTimeout,
		},
		confirmTimeout: cfg.SubmitTimeout,
		pollInterval:   cfg.ConfirmPollInterval,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call はJSON-RPCリクエストを1件発行する。
func (c *RPCClient) call(ctx context.Context, method string, params []any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calling %s: unexpected status %d", method, resp.StatusCode)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	return &parsed, nil
}

// LatestBlockhash は直近のブロックハッシュを取得する。
func (c *RPCClient) LatestBlockhash(ctx context.Context) ([]byte, error) {
	resp, err := c.call(ctx, "getLatestBlockhash", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("getLatestBlockhash: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}

	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decoding blockhash: %w", err)
	}

	hash, err := base58.Decode(result.Value.Blockhash)
	if err != nil || len(hash) != domain.BlockhashSize {
		return nil, fmt.Errorf("invalid blockhash %q", result.Value.Blockhash)
	}
	return hash, nil
}

// Submit は全署名済みトランザクションを送信し、結果を分類して返す。
// ノードと疎通できなかった場合のみエラーを返す。エラー応答が返った場合は
// その内容から分類したSubmitResultを返す（エラーとしては扱わない）。
// ノードが受理した場合も即座には確定とせず、着地を観測できるまでポーリングする。
func (c *RPCClient) Submit(ctx context.Context, rawTx []byte) (*domain.SubmitResult, error) {
	encoded := base64.StdEncoding.EncodeToString(rawTx)
	resp, err := c.call(ctx, "sendTransaction", []any{encoded, map[string]any{"encoding": "base64"}})
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return &domain.SubmitResult{
			Outcome: classifySubmitError(resp.Error),
			Detail:  resp.Error.Message,
		}, nil
	}

	var signature string
	if err := json.Unmarshal(resp.Result, &signature); err != nil {
		return nil, fmt.Errorf("decoding transaction signature: %w", err)
	}

	outcome, detail := c.awaitConfirmation(ctx, signature)
	return &domain.SubmitResult{
		Outcome:   outcome,
		Signature: signature,
		Detail:    detail,
	}, nil
}

// awaitConfirmation は受理済みトランザクションの着地を確認ウィンドウ内で
// ポーリングする。ウィンドウ内に一度も観測できなければブロックハッシュ失効で
// 破棄されたと判断し、処理を観測したまま確定に至らなかった場合は不確定とする。
func (c *RPCClient) awaitConfirmation(ctx context.Context, signature string) (domain.SubmitOutcome, string) {
	deadline := time.Now().Add(c.confirmTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	queried := false
	observed := false
	for {
		status, err := c.queryStatus(ctx, signature)
		if err == nil {
			queried = true
			if status != nil {
				if status.Err != nil {
					return domain.SubmitNetworkRejected, "transaction failed on chain"
				}
				switch status.ConfirmationStatus {
				case "confirmed", "finalized":
					return domain.SubmitConfirmed, ""
				}
				// "processed": 着地したが未確定。引き続き待つ。
				observed = true
			}
		}

		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return domain.SubmitAmbiguous, "confirmation interrupted: " + ctx.Err().Error()
		case <-ticker.C:
		}
	}

	if observed || !queried {
		// 処理は観測済み（または照会自体が通らなかった）。着地の有無を断定できない。
		return domain.SubmitAmbiguous, "confirmation window elapsed"
	}
	// 受理後ウィンドウ内に一度も観測されなかった。破棄されたと判断する。
	return domain.SubmitBlockhashExpired, "transaction not observed within confirmation window"
}

// signatureStatusValue はgetSignatureStatusesの1件分の応答。
type signatureStatusValue struct {
	ConfirmationStatus string `json:"confirmationStatus"`
	Err                any    `json:"err"`
}

// queryStatus は署名ステータスを1回照会する。履歴に存在しない場合はnilを返す。
func (c *RPCClient) queryStatus(ctx context.Context, signature string) (*signatureStatusValue, error) {
	resp, err := c.call(ctx, "getSignatureStatuses", []any{[]string{signature}, map[string]any{"searchTransactionHistory": true}})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("getSignatureStatuses: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}

	var result struct {
		Value []*signatureStatusValue `json:"value"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decoding signature statuses: %w", err)
	}
	if len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

// SignatureStatus は署名の着地状況を照会する。不確定な送信結果の照合に使う。
func (c *RPCClient) SignatureStatus(ctx context.Context, signature string) (domain.SubmitOutcome, error) {
	status, err := c.queryStatus(ctx, signature)
	if err != nil {
		return domain.SubmitAmbiguous, err
	}
	if status == nil {
		// 履歴に見つからない。着地していないと判断する。
		return domain.SubmitNetworkRejected, nil
	}
	if status.Err != nil {
		return domain.SubmitNetworkRejected, nil
	}
	return domain.SubmitConfirmed, nil
}

// classifySubmitError はノードのエラー応答を送信結果へ分類する。
func classifySubmitError(rpcErr *rpcError) domain.SubmitOutcome {
	msg := strings.ToLower(rpcErr.Message)
	switch {
	case strings.Contains(msg, "blockhash not found"),
		strings.Contains(msg, "blockhash expired"):
		return domain.SubmitBlockhashExpired
	case strings.Contains(msg, "already been processed"),
		strings.Contains(msg, "already processed"):
		// 再送などで同一トランザクションが先に着地していた可能性がある
		return domain.SubmitAmbiguous
	default:
		return domain.SubmitNetworkRejected
	}
}
