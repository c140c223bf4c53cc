package infra

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"

	"token-mint-service/config"
)

// TraceHandler はアクティブスパンのトレースIDをログレコードへ埋め込むslogハンドラ。
// Cloud Logging連携用のフィールドも併せて付与する。
type TraceHandler struct {
	inner     slog.Handler
	projectID string
	enabled   bool
}

// NewTraceHandler は新しいTraceHandlerを生成する。
func NewTraceHandler(inner slog.Handler, cfg *config.Config) *TraceHandler {
	return &TraceHandler{
		inner:     inner,
		projectID: cfg.GoogleCloudProject,
		enabled:   cfg.OtelEnabled,
	}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.enabled {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(h.traceAttrs(sc)...)
		}
	}
	return h.inner.Handle(ctx, r)
}

// traceAttrs はスパンコンテキストからログ属性を組み立てる。
func (h *TraceHandler) traceAttrs(sc trace.SpanContext) []slog.Attr {
	traceID := sc.TraceID().String()
	spanID := sc.SpanID().String()

	attrs := []slog.Attr{
		slog.String("trace", traceID),
		slog.String("spanId", spanID),
		slog.Bool("traceSampled", sc.IsSampled()),
	}
	if h.projectID != "" {
		// Cloud Loggingがトレースとログを突き合わせるための予約フィールド
		attrs = append(attrs,
			slog.String("logging.googleapis.com/trace", "projects/"+h.projectID+"/traces/"+traceID),
			slog.String("logging.googleapis.com/spanId", spanID),
		)
	}
	return attrs
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	return &clone
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	return &clone
}

// SetupLogger はトレース連携付きのJSONロガーをプロセス全体の既定に設定する。
func SetupLogger(cfg *config.Config, level slog.Level) {
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(NewTraceHandler(base, cfg)))
}
