// Package main は管理画面 API サーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/import-export-admin/internal/admin"
	"github.com/yourusername/import-export-admin/internal/auth"
	"github.com/yourusername/import-export-admin/internal/config"
	"github.com/yourusername/import-export-admin/internal/logger"
	"github.com/yourusername/import-export-admin/internal/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	app, err := setupApp(cfg, zl)
	if err != nil {
		zl.Fatal("failed to set up application", zap.Error(err))
	}
	defer app.Close()

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "Location", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, app.site, zl)

	if cfg.RunWorkers {
		app.manager.StartWorkers()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		zl.Info("starting API server", zap.String("addr", srv.Addr), zap.String("mode", cfg.GinMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("failed to shut down server", zap.Error(err))
	}
	if err := app.manager.Shutdown(ctx); err != nil {
		zl.Error("failed to shut down job manager", zap.Error(err))
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "import-export-admin",
		"version": "0.1.0",
	})
}

// setupRoutes は認証と管理画面の配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, site *admin.Site, zl *zap.Logger) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	authManager := auth.NewManager(cfg, zl)

	authRoutes := router.Group("/auth")
	{
		// ログイン時はセッション未生成なので CSRF 検証は不要
		authRoutes.POST("/login", authManager.Login)
		authRoutes.GET("/session", authManager.RequireLogin(), authManager.Session)
		authRoutes.POST("/logout",
			authManager.RequireLogin(),
			authManager.VerifyCSRF(),
			authManager.Logout,
		)
	}

	protected := router.Group(admin.Prefix)
	protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
	site.Mount(protected)
}
