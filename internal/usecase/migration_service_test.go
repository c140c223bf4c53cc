package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"token-mint-service/internal/domain"
)

// mockMigrationRepository は適用履歴をメモリ上で管理するモック。
type mockMigrationRepository struct {
	applied map[string]*domain.Migration
}

func newMockMigrationRepository() *mockMigrationRepository {
	return &mockMigrationRepository{applied: make(map[string]*domain.Migration)}
}

func (m *mockMigrationRepository) markApplied(versions ...string) {
	now := time.Now()
	for _, v := range versions {
		m.applied[v] = &domain.Migration{
			Version:   v,
			Status:    domain.MigrationStatusApplied,
			AppliedAt: &now,
		}
	}
}

func (m *mockMigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var result []*domain.Migration
	for _, migration := range m.applied {
		result = append(result, migration)
	}
	return result, nil
}

func (m *mockMigrationRepository) RecordMigration(ctx context.Context, version string) error {
	m.markApplied(version)
	return nil
}

func (m *mockMigrationRepository) IsMigrationApplied(ctx context.Context, version string) (bool, error) {
	_, ok := m.applied[version]
	return ok, nil
}

// writeMigrationFiles はテスト用のmigrationsディレクトリを組み立てる。
func writeMigrationFiles(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "migrations")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create migrations dir: %v", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write migration file %s: %v", name, err)
		}
	}
	return dir
}

func defaultMigrationFiles(t *testing.T) string {
	t.Helper()
	return writeMigrationFiles(t, map[string]string{
		"001_create_identities.sql": "CREATE TABLE identities (mint_address TEXT PRIMARY KEY);",
		"002_create_leases.sql":     "CREATE TABLE leases (id TEXT PRIMARY KEY);",
		"003_create_attempts.sql":   "CREATE TABLE attempts (id TEXT PRIMARY KEY);",
	})
}

func openMigrationTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// 履歴テーブルはサービス側がensureするので、素のDBから始める
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

func TestMigrationService_ApplyMigrations(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)
	repo := newMockMigrationRepository()
	service := NewMigrationService(repo, db, defaultMigrationFiles(t))

	applied, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if applied != 3 {
		t.Errorf("want 3 migrations applied, got %d", applied)
	}

	for _, table := range []string{"schema_migrations", "identities", "leases", "attempts"} {
		var count int64
		if err := db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count).Error; err != nil {
			t.Fatalf("failed to inspect table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s was not created", table)
		}
	}

	// 履歴テーブルにもバージョンが記録される
	var recorded int64
	if err := db.Raw("SELECT COUNT(*) FROM schema_migrations").Scan(&recorded).Error; err != nil {
		t.Fatalf("failed to count history rows: %v", err)
	}
	if recorded != 3 {
		t.Errorf("want 3 history rows, got %d", recorded)
	}
}

func TestMigrationService_ApplyMigrations_SkipsApplied(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)
	repo := newMockMigrationRepository()
	repo.markApplied("001", "002")
	service := NewMigrationService(repo, db, defaultMigrationFiles(t))

	applied, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("want 1 migration applied, got %d", applied)
	}
}

func TestMigrationService_ApplyMigrations_InvalidSQL(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)
	repo := newMockMigrationRepository()
	dir := writeMigrationFiles(t, map[string]string{
		"001_broken.sql": "THIS IS NOT SQL;",
	})
	service := NewMigrationService(repo, db, dir)

	if _, err := service.ApplyMigrations(ctx); err == nil {
		t.Fatal("expected error for invalid SQL")
	}
	// 失敗したバージョンは履歴に残らない
	if applied, _ := repo.IsMigrationApplied(ctx, "001"); applied {
		t.Error("failed migration must not be recorded as applied")
	}
}

func TestMigrationService_ApplyMigrations_RejectsBadFilename(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)
	dir := writeMigrationFiles(t, map[string]string{
		"noversion.sql": "CREATE TABLE x (id INT);",
	})
	service := NewMigrationService(newMockMigrationRepository(), db, dir)

	if _, err := service.ApplyMigrations(ctx); err == nil {
		t.Fatal("expected error for filename without version prefix")
	}
}

func TestMigrationService_GetMigrationStatus(t *testing.T) {
	ctx := context.Background()
	db := openMigrationTestDB(t)
	repo := newMockMigrationRepository()
	repo.markApplied("001")
	service := NewMigrationService(repo, db, defaultMigrationFiles(t))

	migrations, err := service.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("want 3 migrations, got %d", len(migrations))
	}

	want := map[string]domain.MigrationStatus{
		"001": domain.MigrationStatusApplied,
		"002": domain.MigrationStatusPending,
		"003": domain.MigrationStatusPending,
	}
	for _, migration := range migrations {
		status, ok := want[migration.Version]
		if !ok {
			t.Errorf("unexpected version %s", migration.Version)
			continue
		}
		if migration.Status != status {
			t.Errorf("version %s: want status %s, got %s", migration.Version, status, migration.Status)
		}
		if migration.Applied() != (status == domain.MigrationStatusApplied) {
			t.Errorf("version %s: Applied() disagrees with status", migration.Version)
		}
	}
}
