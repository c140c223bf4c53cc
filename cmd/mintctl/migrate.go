package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"token-mint-service/config"
	"token-mint-service/internal/infra"
	"token-mint-service/internal/repository"
	"token-mint-service/internal/usecase"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
	Long:  "Manage database schema migrations for the token mint service",
}

// newMigrationService はDB接続とmigrationsディレクトリの解決をまとめて行う。
func newMigrationService() (*usecase.MigrationService, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	db, err := infra.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "./migrations"
	}
	absDir, err := filepath.Abs(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations directory: %w", err)
	}

	return usecase.NewMigrationService(repository.NewMigrationRepository(db), db, absDir), nil
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Long:  "Apply all pending migrations to the database in version order",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newMigrationService()
		if err != nil {
			return err
		}

		applied, err := service.ApplyMigrations(context.Background())
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		if applied == 0 {
			fmt.Println("No pending migrations.")
		} else {
			fmt.Printf("Applied %d migration(s) successfully.\n", applied)
		}
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  "Show the applied/pending status of every migration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newMigrationService()
		if err != nil {
			return err
		}

		migrations, err := service.GetMigrationStatus(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
		fmt.Fprintln(w, "-------\t----\t------\t----------")
		for _, migration := range migrations {
			appliedAt := "-"
			if migration.Applied() && migration.AppliedAt != nil {
				appliedAt = migration.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", migration.Version, migration.Name, migration.Status, appliedAt)
		}
		return w.Flush()
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}
