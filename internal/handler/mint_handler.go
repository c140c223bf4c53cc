// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"token-mint-service/internal/domain"
	"token-mint-service/internal/middleware"
	"token-mint-service/internal/usecase"
	"token-mint-service/pkg/httputil"
)

var attemptIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// MintHandler はトークン作成プロトコルのHTTPハンドラを提供する。
type MintHandler struct {
	coordinator *usecase.Coordinator
	pool        *usecase.PoolService
}

// NewMintHandler は新しいMintHandlerを生成する。
func NewMintHandler(coordinator *usecase.Coordinator, pool *usecase.PoolService) *MintHandler {
	return &MintHandler{
		coordinator: coordinator,
		pool:        pool,
	}
}

func validateAttemptID(attemptID string) error {
	if attemptID == "" || len(attemptID) > 64 {
		return domain.ErrInvalidRequest
	}
	if !attemptIDRegex.MatchString(attemptID) {
		return domain.ErrInvalidRequest
	}
	return nil
}

// PayloadResponse は未署名ペイロード1件のレスポンス形式。
type PayloadResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"` // base64
}

// PrepareResponse は署名待ちペイロード払い出しのレスポンス形式。
type PrepareResponse struct {
	AttemptID   string            `json:"attempt_id"`
	MintAddress string            `json:"mint_address"`
	Step        string            `json:"step"`
	Payloads    []PayloadResponse `json:"payloads"`
	ExpiresAt   string            `json:"expires_at"`
}

// SubmitResponse は署名済みペイロード提出のレスポンス形式。
type SubmitResponse struct {
	AttemptID     string   `json:"attempt_id"`
	MintAddress   string   `json:"mint_address"`
	Step          string   `json:"step"`
	Status        string   `json:"status"`
	ConfigAddress string   `json:"config_address,omitempty"`
	Signatures    []string `json:"signatures"`
}

// ReleaseResponse はキャンセル処理のレスポンス形式。
type ReleaseResponse struct {
	AttemptID string `json:"attempt_id"`
	Outcome   string `json:"outcome"`
}

// PoolStatusResponse はプール占有状況のレスポンス形式。
type PoolStatusResponse struct {
	Available int64 `json:"available"`
	Leased    int64 `json:"leased"`
	Used      int64 `json:"used"`
}

func toPrepareResponse(result *usecase.PrepareResult) PrepareResponse {
	payloads := make([]PayloadResponse, len(result.Payloads))
	for i, p := range result.Payloads {
		payloads[i] = PayloadResponse{
			Name:    p.Name,
			Message: base64.StdEncoding.EncodeToString(p.Message),
		}
	}
	return PrepareResponse{
		AttemptID:   result.AttemptID,
		MintAddress: result.MintAddress,
		Step:        string(result.Step),
		Payloads:    payloads,
		ExpiresAt:   result.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// writeServiceError はドメインエラーをHTTPエラーレスポンスへ変換する。
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrMalformedPayload):
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrSignatureInvalid):
		httputil.Error(w, http.StatusBadRequest, "SIGNATURE_INVALID", err.Error())
	case errors.Is(err, domain.ErrPoolExhausted):
		httputil.Error(w, http.StatusServiceUnavailable, "POOL_EXHAUSTED", "no mint identity is currently available")
	case errors.Is(err, domain.ErrAttemptNotFound), errors.Is(err, domain.ErrIdentityNotFound), errors.Is(err, domain.ErrLeaseNotFound):
		httputil.Error(w, http.StatusNotFound, "NOT_FOUND", "attempt not found")
	case errors.Is(err, domain.ErrSessionExpired), errors.Is(err, domain.ErrLeaseExpired):
		httputil.Error(w, http.StatusGone, "EXPIRED", "signing window has elapsed")
	case errors.Is(err, domain.ErrConfigNotConfirmed):
		httputil.Error(w, http.StatusConflict, "CONFIG_NOT_CONFIRMED", "config transaction has not been confirmed")
	case errors.Is(err, domain.ErrBlockhashExpired):
		httputil.Error(w, http.StatusConflict, "BLOCKHASH_EXPIRED", "transaction blockhash has expired")
	case errors.Is(err, domain.ErrAmbiguousSubmit):
		httputil.Error(w, http.StatusConflict, "AMBIGUOUS", "submission outcome could not be determined")
	case errors.Is(err, domain.ErrSubmitRejected):
		httputil.Error(w, http.StatusBadGateway, "NETWORK_REJECTED", "transaction was rejected by the network")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// PrepareRequest は作成開始のリクエスト形式。
type PrepareRequest struct {
	Requester string                `json:"requester"`
	Mode      string                `json:"mode"`
	Params    domain.CreationParams `json:"params"`
}

// Prepare は作成試行を開始し、署名すべき未署名ペイロードを払い出す。
func (h *MintHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	result, err := h.coordinator.Prepare(r.Context(), req.Requester, domain.AttemptMode(req.Mode), req.Params)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "PREPARE", "", req.Requester, "FAILED")
		writeServiceError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "PREPARE", result.MintAddress, req.Requester, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, toPrepareResponse(result))
}

// PreparePoolRequest はプールステップ開始のリクエスト形式。
type PreparePoolRequest struct {
	Params domain.CreationParams `json:"params"`
}

// PreparePool は設定確定後のプールステップのペイロードバッチを払い出す。
func (h *MintHandler) PreparePool(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attempt_id")
	if err := validateAttemptID(attemptID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid attempt ID format")
		return
	}

	var req PreparePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	result, err := h.coordinator.PreparePool(r.Context(), attemptID, req.Params)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "PREPARE_POOL", "", "", "FAILED")
		writeServiceError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "PREPARE_POOL", result.MintAddress, "", "SUCCESS")
	httputil.JSON(w, http.StatusCreated, toPrepareResponse(result))
}

// SubmitRequest は署名済みペイロード提出のリクエスト形式。
type SubmitRequest struct {
	SignedPayloads []string `json:"signed_payloads"` // base64、構築順
}

// Submit はクライアント署名済みペイロードを受け取り、対署名・送信を行う。
func (h *MintHandler) Submit(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attempt_id")
	if err := validateAttemptID(attemptID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid attempt ID format")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if len(req.SignedPayloads) == 0 {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "signed_payloads is required")
		return
	}

	rawTxs := make([][]byte, len(req.SignedPayloads))
	for i, encoded := range req.SignedPayloads {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "signed payload must be base64 encoded")
			return
		}
		rawTxs[i] = raw
	}

	summary, err := h.coordinator.Submit(r.Context(), attemptID, rawTxs)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "SUBMIT", "", "", "FAILED")
		writeServiceError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "SUBMIT", summary.MintAddress, "", "SUCCESS")
	httputil.JSON(w, http.StatusOK, SubmitResponse{
		AttemptID:     summary.AttemptID,
		MintAddress:   summary.MintAddress,
		Step:          string(summary.Step),
		Status:        string(summary.Status),
		ConfigAddress: summary.ConfigAddress,
		Signatures:    summary.Signatures,
	})
}

// ReleaseRequest はキャンセル通知のリクエスト形式。
type ReleaseRequest struct {
	SignalCode    int    `json:"signal_code,omitempty"`
	SignalMessage string `json:"signal_message,omitempty"`
}

// Release は利用者起点のキャンセルを処理し、リースを解放する。
func (h *MintHandler) Release(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attempt_id")
	if err := validateAttemptID(attemptID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid attempt ID format")
		return
	}

	var req ReleaseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
			return
		}
	}

	outcome, err := h.coordinator.Cancel(r.Context(), attemptID, req.SignalCode, req.SignalMessage)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "RELEASE", "", "", "FAILED")
		writeServiceError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "RELEASE", "", "", "SUCCESS")
	httputil.JSON(w, http.StatusOK, ReleaseResponse{
		AttemptID: attemptID,
		Outcome:   string(outcome),
	})
}

// PoolStatus はプールのステータス別占有数を返す。
func (h *MintHandler) PoolStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.pool.Counts(r.Context())
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, PoolStatusResponse{
		Available: counts[domain.IdentityStatusAvailable],
		Leased:    counts[domain.IdentityStatusLeased],
		Used:      counts[domain.IdentityStatusUsed],
	})
}
