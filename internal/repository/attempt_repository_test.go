package repository

import (
	"context"
	"testing"

	"token-mint-service/internal/domain"
)

func TestAttemptRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)

	attempt := &domain.CreationAttempt{
		MintAddress: "mint-addr-1",
		Requester:   "creator-1",
		Mode:        domain.AttemptModeProject,
		Step:        domain.AttemptStepConfig,
		Status:      domain.AttemptStatusAwaitingSignature,
	}
	if err := repo.Create(ctx, attempt); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if attempt.ID == "" {
		t.Error("expected ID to be generated, got empty")
	}

	found, err := repo.FindByID(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found == nil {
		t.Fatal("expected attempt, got nil")
	}
	if found.Mode != domain.AttemptModeProject {
		t.Errorf("want mode project, got %s", found.Mode)
	}
	if found.Step != domain.AttemptStepConfig {
		t.Errorf("want step config, got %s", found.Step)
	}

	missing, err := repo.FindByID(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing attempt")
	}
}

func TestAttemptRepository_AdvanceToPool(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)

	attempt := &domain.CreationAttempt{
		MintAddress: "mint-addr-1",
		Requester:   "creator-1",
		Mode:        domain.AttemptModeProject,
		Step:        domain.AttemptStepConfig,
		Status:      domain.AttemptStatusSubmitting,
	}
	if err := repo.Create(ctx, attempt); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.AdvanceToPool(ctx, attempt.ID, "config-addr-1"); err != nil {
		t.Fatalf("AdvanceToPool failed: %v", err)
	}

	found, err := repo.FindByID(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found.Step != domain.AttemptStepPool {
		t.Errorf("want step pool, got %s", found.Step)
	}
	if found.ConfigAddress != "config-addr-1" {
		t.Errorf("want config address config-addr-1, got %s", found.ConfigAddress)
	}
	if found.Status != domain.AttemptStatusPreparing {
		t.Errorf("want status preparing, got %s", found.Status)
	}
}

func TestAttemptRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewAttemptRepository(db)

	attempt := &domain.CreationAttempt{
		MintAddress: "mint-addr-1",
		Requester:   "creator-1",
		Mode:        domain.AttemptModeSimple,
		Step:        domain.AttemptStepConfig,
		Status:      domain.AttemptStatusSubmitting,
	}
	if err := repo.Create(ctx, attempt); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.UpdateStatus(ctx, attempt.ID, domain.AttemptStatusConfirmed); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	found, err := repo.FindByID(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found.Status != domain.AttemptStatusConfirmed {
		t.Errorf("want status confirmed, got %s", found.Status)
	}
}
