// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// WriteAuditLog はミント操作1件の監査ログを出力する。
// 操作の成否はリース・IDの状態遷移と突き合わせられるよう、ミントアドレスを必ず含める。
func WriteAuditLog(ctx context.Context, operation, mintAddress, requester, result string) {
	slog.InfoContext(ctx, "mint operation completed",
		"operation", operation,
		"mint_address", mintAddress,
		"requester", requester,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
