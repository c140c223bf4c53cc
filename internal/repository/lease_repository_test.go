package repository

import (
	"context"
	"testing"
	"time"

	"token-mint-service/internal/domain"
)

func TestLeaseRepository_CreateAndFindActive(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewLeaseRepository(db)

	lease := &domain.MintLease{
		MintAddress: "mint-addr-1",
		Requester:   "creator-1",
		Status:      domain.LeaseStatusActive,
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	if err := repo.Create(ctx, lease); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if lease.ID == "" {
		t.Error("expected ID to be generated, got empty")
	}

	found, err := repo.FindActiveByMintAddress(ctx, "mint-addr-1")
	if err != nil {
		t.Fatalf("FindActiveByMintAddress failed: %v", err)
	}
	if found == nil {
		t.Fatal("expected active lease, got nil")
	}
	if found.Requester != "creator-1" {
		t.Errorf("want requester creator-1, got %s", found.Requester)
	}

	// 有効リースのないアドレスはnil
	missing, err := repo.FindActiveByMintAddress(ctx, "mint-addr-2")
	if err != nil {
		t.Fatalf("FindActiveByMintAddress failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for address without active lease")
	}
}

func TestLeaseRepository_UpdateStatusIf(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewLeaseRepository(db)

	lease := &domain.MintLease{
		MintAddress: "mint-addr-1",
		Requester:   "creator-1",
		Status:      domain.LeaseStatusActive,
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	if err := repo.Create(ctx, lease); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ok, err := repo.UpdateStatusIf(ctx, lease.ID, domain.LeaseStatusActive, domain.LeaseStatusReleased)
	if err != nil {
		t.Fatalf("UpdateStatusIf failed: %v", err)
	}
	if !ok {
		t.Error("expected transition to succeed")
	}

	// 解放済みリースへの二重回収は0件更新で無害化される
	ok, err = repo.UpdateStatusIf(ctx, lease.ID, domain.LeaseStatusActive, domain.LeaseStatusExpired)
	if err != nil {
		t.Fatalf("UpdateStatusIf failed: %v", err)
	}
	if ok {
		t.Error("expected resolved lease to affect 0 rows")
	}

	// 解放後は有効リースとして見えない
	found, err := repo.FindActiveByMintAddress(ctx, "mint-addr-1")
	if err != nil {
		t.Fatalf("FindActiveByMintAddress failed: %v", err)
	}
	if found != nil {
		t.Error("released lease must not be returned as active")
	}
}

func TestLeaseRepository_ExtendExpiry(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewLeaseRepository(db)

	lease := &domain.MintLease{
		MintAddress: "mint-addr-1",
		Requester:   "creator-1",
		Status:      domain.LeaseStatusActive,
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	if err := repo.Create(ctx, lease); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	extended := time.Now().Add(5 * time.Minute)
	ok, err := repo.ExtendExpiry(ctx, lease.ID, extended)
	if err != nil {
		t.Fatalf("ExtendExpiry failed: %v", err)
	}
	if !ok {
		t.Error("expected extension to succeed")
	}

	// 有効でないリースは延長できない
	if _, err := repo.UpdateStatusIf(ctx, lease.ID, domain.LeaseStatusActive, domain.LeaseStatusConsumed); err != nil {
		t.Fatalf("UpdateStatusIf failed: %v", err)
	}
	ok, err = repo.ExtendExpiry(ctx, lease.ID, time.Now().Add(10*time.Minute))
	if err != nil {
		t.Fatalf("ExtendExpiry failed: %v", err)
	}
	if ok {
		t.Error("consumed lease must not be extendable")
	}
}

func TestLeaseRepository_FindExpiredActive(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewLeaseRepository(db)

	now := time.Now()
	expired := &domain.MintLease{
		MintAddress: "mint-addr-1",
		Requester:   "creator-1",
		Status:      domain.LeaseStatusActive,
		ExpiresAt:   now.Add(-time.Minute),
	}
	alive := &domain.MintLease{
		MintAddress: "mint-addr-2",
		Requester:   "creator-2",
		Status:      domain.LeaseStatusActive,
		ExpiresAt:   now.Add(time.Minute),
	}
	for _, l := range []*domain.MintLease{expired, alive} {
		if err := repo.Create(ctx, l); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	leases, err := repo.FindExpiredActive(ctx, now)
	if err != nil {
		t.Fatalf("FindExpiredActive failed: %v", err)
	}
	if len(leases) != 1 {
		t.Fatalf("want 1 expired lease, got %d", len(leases))
	}
	if leases[0].MintAddress != "mint-addr-1" {
		t.Errorf("want mint-addr-1, got %s", leases[0].MintAddress)
	}
}
