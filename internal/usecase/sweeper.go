package usecase

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper は期限切れリースを定期的に回収するバックグラウンドタスク。
// 遅延回収（次の操作時のチェック）を補完し、二度と呼び戻してこない
// クライアントにIDを占有され続けないことを保証する。
type Sweeper struct {
	pool     *PoolService
	interval time.Duration
}

// NewSweeper は新しいSweeperを生成する。
func NewSweeper(pool *PoolService, interval time.Duration) *Sweeper {
	return &Sweeper{
		pool:     pool,
		interval: interval,
	}
}

// Run はコンテキストがキャンセルされるまで定期回収を実行する。
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("lease sweeper stopped")
			return
		case <-ticker.C:
			reclaimed, err := s.pool.ReclaimExpired(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "lease sweep failed", "error", err)
				continue
			}
			if reclaimed > 0 {
				slog.InfoContext(ctx, "lease sweep completed", "reclaimed", reclaimed)
			}
			// プール占有ゲージも周期更新する
			if _, err := s.pool.Counts(ctx); err != nil {
				slog.ErrorContext(ctx, "pool gauge refresh failed", "error", err)
			}
		}
	}
}
