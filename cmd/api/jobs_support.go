package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yourusername/import-export-admin/internal/admin"
	"github.com/yourusername/import-export-admin/internal/config"
	"github.com/yourusername/import-export-admin/internal/jobs"
	"github.com/yourusername/import-export-admin/internal/registry"
	"github.com/yourusername/import-export-admin/internal/storage"
)

const sqlitePrefix = "sqlite://"

// application は起動時に組み立てるコンポーネントをまとめます。
type application struct {
	db      *gorm.DB
	cache   *redis.Client
	manager *jobs.Manager
	site    *admin.Site
}

func (a *application) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func setupApp(cfg *config.Config, zl *zap.Logger) (*application, error) {
	ctx := context.Background()
	app := &application{}

	db, err := openDatabase(cfg.DatabaseURL, zl)
	if err != nil {
		return nil, err
	}
	app.db = db

	store := jobs.NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		app.Close()
		return nil, err
	}

	modelSettings, err := loadModels(cfg.ImportExportModelsFile, zl)
	if err != nil {
		app.Close()
		return nil, err
	}
	reg := registry.New()
	for name, settings := range modelSettings {
		if err := reg.Register(name, settings); err != nil {
			app.Close()
			return nil, err
		}
	}

	files, err := storage.NewLocal(cfg.StorageDir)
	if err != nil {
		app.Close()
		return nil, err
	}

	opt, err := redis.ParseURL(cfg.CacheRedisURL)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("invalid CACHE_REDIS_URL: %w", err)
	}
	app.cache = redis.NewClient(opt)
	ttl := time.Duration(cfg.StatusCacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	status := jobs.NewStatusCache(app.cache, ttl, zl)

	// ワーカーを動かさないプロセスではキュー投入だけを行う
	var runner jobs.Runner
	if cfg.RunWorkers {
		runner = jobs.NewWorker(store, status, files, reg, zl)
	}
	manager, err := jobs.NewManager(cfg, runner, zl)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.manager = manager
	scheduler := jobs.NewScheduler(store, manager, cfg.ImportDryRunFirstTime, zl)

	site := admin.NewSite(zl)
	jobDeps := admin.JobDeps{
		Store:       store,
		Status:      status,
		Scheduler:   scheduler,
		Files:       files,
		Registry:    reg,
		MaxFileSize: cfg.MaxFileSize,
		Logger:      zl,
	}
	if err := site.Register(admin.NewImportJobAdmin(jobDeps, modelSettings)); err != nil {
		app.Close()
		return nil, err
	}
	if err := site.Register(admin.NewExportJobAdmin(jobDeps)); err != nil {
		app.Close()
		return nil, err
	}
	exportDeps := admin.ExportDeps{DB: db, Registry: reg, Store: store, Scheduler: scheduler, Logger: zl}
	for _, name := range reg.Names() {
		settings, _ := reg.ByName(name)
		if err := site.Register(admin.NewTableAdmin(settings, exportDeps)); err != nil {
			app.Close()
			return nil, err
		}
	}
	app.site = site

	zl.Info("application ready",
		zap.Int("models", len(modelSettings)),
		zap.Bool("workers", cfg.RunWorkers),
		zap.String("storage", cfg.StorageDir),
	)
	return app, nil
}

// openDatabase は DSN に応じて PostgreSQL か SQLite を開きます。SQLite は sqlite:// で指定します。
func openDatabase(dsn string, zl *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(zl.Named("gorm")), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// loadModels はモデル設定を読み込みます。ファイルがなければ空の設定で起動します。
func loadModels(path string, zl *zap.Logger) (map[string]registry.ModelSettings, error) {
	models, err := config.LoadModels(path)
	if errors.Is(err, os.ErrNotExist) {
		zl.Warn("models file not found, no models are importable", zap.String("path", path))
		return map[string]registry.ModelSettings{}, nil
	}
	return models, err
}
