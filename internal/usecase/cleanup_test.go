package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// failingReleaser は指定回数だけ失敗するIdentityReleaser。
type failingReleaser struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *failingReleaser) Release(ctx context.Context, mintAddress string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return errors.New("database unavailable")
	}
	return nil
}

func TestCleanupDispatcher_Release(t *testing.T) {
	releaser := &failingReleaser{}
	d := NewCleanupDispatcher(releaser)

	d.Release("mint-addr-1")
	d.Release("mint-addr-1")

	if d.Attempts("mint-addr-1") != 2 {
		t.Errorf("want 2 attempts, got %d", d.Attempts("mint-addr-1"))
	}
	if d.Failures() != 0 {
		t.Errorf("want 0 failures, got %d", d.Failures())
	}
}

func TestCleanupDispatcher_FailureDoesNotPropagate(t *testing.T) {
	releaser := &failingReleaser{failures: 1}
	d := NewCleanupDispatcher(releaser)

	// 解放の失敗は呼び出し元に伝播せず、記録されるだけ
	d.Release("mint-addr-1")
	if d.Failures() != 1 {
		t.Errorf("want 1 failure, got %d", d.Failures())
	}

	d.Release("mint-addr-1")
	if d.Failures() != 1 {
		t.Errorf("want 1 failure after successful retry, got %d", d.Failures())
	}
	if d.Attempts("mint-addr-1") != 2 {
		t.Errorf("want 2 attempts, got %d", d.Attempts("mint-addr-1"))
	}
}
