package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// cleanupTimeout はベストエフォート解放1回あたりの上限時間。
const cleanupTimeout = 5 * time.Second

// IdentityReleaser はクリーンアップ対象のリース解放先。
type IdentityReleaser interface {
	Release(ctx context.Context, mintAddress string) error
}

// CleanupDispatcher は非成功経路でのリース解放を一元的に行う。
// ベストエフォートであり、解放の失敗はログに残すだけで呼び出し元へは伝播しない
// （この時点で元の操作は既に失敗・放棄されている）。
// 試行回数を記録するため、結果を捨てても解放が試みられたことはテストで検証できる。
type CleanupDispatcher struct {
	releaser IdentityReleaser

	mu       sync.Mutex
	attempts map[string]int
	failures int
}

// NewCleanupDispatcher は新しいCleanupDispatcherを生成する。
func NewCleanupDispatcher(releaser IdentityReleaser) *CleanupDispatcher {
	return &CleanupDispatcher{
		releaser: releaser,
		attempts: make(map[string]int),
	}
}

// Release はリース解放をベストエフォートで試みる。エラーは返さない。
// releaseは冪等であるため、重複したキャンセル信号（タイムアウトと遅延した
// 拒否イベントの両方など）による二重呼び出しは安全。
func (d *CleanupDispatcher) Release(mintAddress string) {
	d.mu.Lock()
	d.attempts[mintAddress]++
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := d.releaser.Release(ctx, mintAddress); err != nil {
		d.mu.Lock()
		d.failures++
		d.mu.Unlock()
		slog.Error("best-effort lease release failed",
			"operation", "cleanup_release",
			"mint_address", mintAddress,
			"error", err,
		)
	}
}

// Attempts は指定ミントアドレスに対する解放試行回数を返す。
func (d *CleanupDispatcher) Attempts(mintAddress string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[mintAddress]
}

// Failures は失敗した解放試行の総数を返す。
func (d *CleanupDispatcher) Failures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures
}
