// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"token-mint-service/config"
	"token-mint-service/internal/infra"
	"token-mint-service/internal/repository"
	"token-mint-service/internal/usecase"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "mintctl",
		Short: "Token Mint Service CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("MINTCTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set MINTCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(poolCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mintctl version %s\n", version)
		},
	}
}

// generateCmd はミントIDの補充コマンド。APIを経由せず、DBとKMSへ直接接続する。
func generateCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate mint identities into the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}

			ctx := context.Background()
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL environment variable is required")
			}

			db, err := infra.NewDB(cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}

			kmsClient, err := infra.NewKMSClient(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to init KMS client: %w", err)
			}
			defer kmsClient.Close()

			pool := usecase.NewPoolService(
				repository.NewIdentityRepository(db),
				repository.NewLeaseRepository(db),
				kmsClient,
				nil,
				cfg.SigningWindow,
				cfg.LeaseGrace,
			)

			addresses, err := pool.Generate(ctx, count)
			if err != nil {
				return fmt.Errorf("generating identities: %w", err)
			}

			if output == "json" {
				encoded, err := json.Marshal(map[string]any{"generated": len(addresses), "addresses": addresses})
				if err != nil {
					return fmt.Errorf("encoding output: %w", err)
				}
				fmt.Println(string(encoded))
			} else {
				fmt.Printf("Generated %d mint identities.\n", len(addresses))
				for _, addr := range addresses {
					fmt.Println(addr)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "Number of identities to generate")
	return cmd
}

// poolCmd はプール占有状況の取得コマンド。
func poolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show pool occupancy by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set MINTCTL_API_URL)")
			}

			url := fmt.Sprintf("%s/v1/mints/pool", apiURL)
			resp, err := httpClient.Get(url)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result struct {
					Available int64 `json:"available"`
					Leased    int64 `json:"leased"`
					Used      int64 `json:"used"`
				}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("%-12s %d\n", "AVAILABLE", result.Available)
				fmt.Printf("%-12s %d\n", "LEASED", result.Leased)
				fmt.Printf("%-12s %d\n", "USED", result.Used)
			}
			return nil
		},
	}
}

// releaseCmd は作成試行のキャンセルコマンド。
func releaseCmd() *cobra.Command {
	var attemptID string
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Cancel an attempt and release its lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			if attemptID == "" {
				return fmt.Errorf("--attempt is required")
			}
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set MINTCTL_API_URL)")
			}

			url := fmt.Sprintf("%s/v1/mints/%s/release", apiURL, attemptID)
			resp, err := httpClient.Post(url, "application/json", nil)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result map[string]interface{}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Released attempt %q (outcome: %v)\n", attemptID, result["outcome"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&attemptID, "attempt", "", "Attempt ID (required)")
	cmd.MarkFlagRequired("attempt")
	return cmd
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
