package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/gorm"

	"token-mint-service/internal/domain"
)

// MigrationRepository はマイグレーション適用履歴へのアクセスを提供する。
type MigrationRepository interface {
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	RecordMigration(ctx context.Context, version string) error
	IsMigrationApplied(ctx context.Context, version string) (bool, error)
}

// MigrationService はSQLファイルベースのスキーママイグレーションを実行する。
// migrationsDir直下の {version}_{name}.sql をバージョン昇順に適用し、
// 適用済みバージョンをschema_migrationsに記録する。
type MigrationService struct {
	repo          MigrationRepository
	db            *gorm.DB
	migrationsDir string
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(repo MigrationRepository, db *gorm.DB, migrationsDir string) *MigrationService {
	return &MigrationService{
		repo:          repo,
		db:            db,
		migrationsDir: migrationsDir,
	}
}

// ensureHistoryTable は履歴テーブルがなければ作成する。初回実行を特別扱いしないため。
func (s *MigrationService) ensureHistoryTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(14) PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if err := s.db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}
	return nil
}

// loadMigrationFiles はmigrationsDir直下の.sqlファイルをバージョン昇順で列挙する。
func (s *MigrationService) loadMigrationFiles() ([]*domain.Migration, error) {
	entries, err := os.ReadDir(s.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []*domain.Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := splitMigrationFilename(entry.Name())
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, &domain.Migration{
			Version:  version,
			Name:     name,
			FilePath: filepath.Join(s.migrationsDir, entry.Name()),
			Status:   domain.MigrationStatusPending,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// splitMigrationFilename は {version}_{name}.sql 形式のファイル名を分解する。
func splitMigrationFilename(filename string) (version, name string, err error) {
	base := strings.TrimSuffix(filename, ".sql")
	version, name, found := strings.Cut(base, "_")
	if !found || version == "" || name == "" {
		return "", "", fmt.Errorf("%w: %s (expected {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filename)
	}
	return version, name, nil
}

// ApplyMigrations は未適用のマイグレーションをバージョン順に適用し、適用件数を返す。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	if err := s.ensureHistoryTable(ctx); err != nil {
		return 0, err
	}

	migrations, err := s.loadMigrationFiles()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load migration files",
			"operation", "apply_migrations",
			"dir", s.migrationsDir,
			"error", err,
		)
		return 0, err
	}

	applied := 0
	for _, migration := range migrations {
		done, err := s.repo.IsMigrationApplied(ctx, migration.Version)
		if err != nil {
			return applied, fmt.Errorf("failed to check migration status: %w", err)
		}
		if done {
			continue
		}

		if err := s.applyOne(ctx, migration); err != nil {
			slog.ErrorContext(ctx, "migration aborted",
				"operation", "apply_migrations",
				"version", migration.Version,
				"error", err,
			)
			return applied, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, migration.Version, err)
		}
		slog.InfoContext(ctx, "migration applied",
			"version", migration.Version,
			"name", migration.Name,
		)
		applied++
	}

	return applied, nil
}

// applyOne はマイグレーション1件をSQL実行と履歴記録の単一トランザクションで適用する。
func (s *MigrationService) applyOne(ctx context.Context, migration *domain.Migration) error {
	sqlBytes, err := os.ReadFile(migration.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", migration.FilePath, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(string(sqlBytes)).Error; err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
		// 履歴記録はSQL実行と同じトランザクションに入れる
		if err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version).Error; err != nil {
			return fmt.Errorf("failed to record migration history: %w", err)
		}
		return nil
	})
}

// GetMigrationStatus はファイル一覧と適用履歴を突き合わせた現在の状態を返す。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	if err := s.ensureHistoryTable(ctx); err != nil {
		return nil, err
	}

	migrations, err := s.loadMigrationFiles()
	if err != nil {
		return nil, err
	}

	history, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch migration history",
			"operation", "migration_status",
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch migration history: %w", err)
	}

	appliedAt := make(map[string]*domain.Migration, len(history))
	for _, record := range history {
		appliedAt[record.Version] = record
	}
	for _, migration := range migrations {
		if record, ok := appliedAt[migration.Version]; ok {
			migration.Status = domain.MigrationStatusApplied
			migration.AppliedAt = record.AppliedAt
		}
	}
	return migrations, nil
}
