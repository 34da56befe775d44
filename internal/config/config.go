// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 管理画面ログイン設定
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // json または console

	// 永続化設定
	DatabaseURL string // ジョブレコード用 PostgreSQL DSN
	StorageDir  string // インポート/エクスポートファイルの保存先
	MaxFileSize int64  // アップロードファイルの最大サイズ（バイト）

	// ジョブ/キュー設定
	QueueRedisURL          string // Asynq用Redis接続URL
	CacheRedisURL          string // ステータスキャッシュ用Redis接続URL
	StatusCacheTTLMinutes  int    // ワーカーが書き込むステータスの有効期限（分）
	RunWorkers             bool   // 同一プロセスでワーカーを起動するか
	WorkerConcurrency      int    // ワーカーの同時実行数
	ImportDryRunFirstTime  bool   // インポートジョブ作成直後はドライランで投入する
	ImportExportModelsFile string // インポート対象モデル設定(JSON)のパス
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	queueURL := getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0")

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DatabaseURL: getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=postgres port=5432 sslmode=disable"),
		StorageDir:  getEnv("STORAGE_DIR", filepath.Join(os.TempDir(), "import-export-admin")),
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 52428800), // 50MB

		QueueRedisURL: queueURL,
		// 未指定ならキューと同じ Redis を使う
		CacheRedisURL:          getEnv("CACHE_REDIS_URL", queueURL),
		StatusCacheTTLMinutes:  getEnvAsInt("STATUS_CACHE_TTL_MINUTES", 60),
		RunWorkers:             getEnvAsBool("RUN_WORKERS", true),
		WorkerConcurrency:      getEnvAsInt("WORKER_CONCURRENCY", 4),
		ImportDryRunFirstTime:  getEnvAsBool("IMPORT_DRY_RUN_FIRST_TIME", true),
		ImportExportModelsFile: getEnv("IMPORT_EXPORT_MODELS_FILE", "import_export_models.json"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
