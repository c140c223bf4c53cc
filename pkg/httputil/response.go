// Package httputil はHTTPレスポンス書き出しの補助関数を提供する。
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse は構造化エラーの共通形式。codeは機械可読な識別子。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON はボディをJSONとして書き出す。dataがnilの場合はステータスのみ返す。
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// ステータス行は送信済みなので、ここでは記録するしかない
		slog.Error("failed to encode response body", "error", err)
	}
}

// Error は構造化エラーレスポンスを書き出す。
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorResponse{Code: code, Message: message})
}
