// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseURL        string
	KMSKeyName         string
	GoogleCloudProject string
	LogLevel           string

	// チェーンRPC設定
	RPCEndpoint         string
	SubmitTimeout       time.Duration
	ConfirmPollInterval time.Duration // 受理後の着地確認ポーリング周期

	// リース設定
	SigningWindow time.Duration // クライアントが署名を返すまでの猶予
	LeaseGrace    time.Duration // ネットワーク遅延に対する安全マージン
	SweepInterval time.Duration // 期限切れリース回収の周期

	// OpenTelemetry設定
	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),

		RPCEndpoint:         getEnv("RPC_ENDPOINT", "http://localhost:8899"),
		SubmitTimeout:       getEnvSeconds("SUBMIT_TIMEOUT_SECONDS", 60),
		ConfirmPollInterval: getEnvSeconds("CONFIRM_POLL_INTERVAL_SECONDS", 2),

		SigningWindow: getEnvSeconds("SIGNING_WINDOW_SECONDS", 45),
		LeaseGrace:    getEnvSeconds("LEASE_GRACE_SECONDS", 15),
		SweepInterval: getEnvSeconds("SWEEP_INTERVAL_SECONDS", 30),

		OtelEnabled:      getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "token-mint-service"),
		OtelSamplingRate: getEnvFloat("OTEL_SAMPLING_RATE", 0.1),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}
