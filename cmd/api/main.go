// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/lyntro/internal/auth"
	"github.com/yourusername/lyntro/internal/cart"
	"github.com/yourusername/lyntro/internal/catalog"
	"github.com/yourusername/lyntro/internal/config"
	"github.com/yourusername/lyntro/internal/jobs"
	"github.com/yourusername/lyntro/internal/messages"
	"github.com/yourusername/lyntro/internal/store"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// データベース接続とマイグレーション
	db, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Redis接続（閲覧数カウンタ用）
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()

	views := catalog.NewViewCounter(rdb)

	// バックグラウンドジョブの起動
	jobManager, err := jobs.NewManager(cfg, db, views, log.Default())
	if err != nil {
		log.Fatalf("Failed to init job manager: %v", err)
	}
	jobManager.StartWorkers()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = jobManager.Shutdown(shutdownCtx)
	}()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, db, views, jobManager)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "lyntro-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと各ハンドラーの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, db *store.Store, views *catalog.ViewCounter, jobManager *jobs.Manager) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(cfg, db, db, log.Default())
	catalogHandler := catalog.NewHandler(cfg, db, views, log.Default())
	cartHandler := cart.NewHandler(db, jobManager, log.Default())
	messageHandler := messages.NewHandler(cfg, db, log.Default())

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// 未ログインのクライアントはまずここでトークンを取得する
			authRoutes.GET("/csrf", authManager.CSRFToken)

			// ログイン・登録も含めて、更新系はすべて CSRF 検証の対象
			authRoutes.POST("/register", authManager.VerifyCSRF(), authManager.Register)
			authRoutes.POST("/login", authManager.VerifyCSRF(), authManager.Login)

			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
			authRoutes.GET("/me", authManager.RequireLogin(), authManager.Me)
			authRoutes.POST("/profile",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.UpdateProfile,
			)
			authRoutes.POST("/password",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.ChangePassword,
			)
		}

		// 商品閲覧はログイン不要
		productRoutes := api.Group("/products")
		{
			productRoutes.GET("", catalogHandler.List)
			productRoutes.GET("/featured", catalogHandler.Featured)
			productRoutes.GET("/categories", catalogHandler.Categories)
			productRoutes.GET("/:id", catalogHandler.Detail)

			sellerRoutes := productRoutes.Group("")
			sellerRoutes.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
			{
				sellerRoutes.POST("", catalogHandler.Create)
				sellerRoutes.POST("/:id/update", catalogHandler.Update)
				sellerRoutes.POST("/:id/delete", catalogHandler.Delete)
			}
		}
		api.GET("/my-products", authManager.RequireLogin(), catalogHandler.Mine)

		cartRoutes := api.Group("/cart")
		cartRoutes.Use(authManager.RequireLogin())
		{
			cartRoutes.GET("", cartHandler.Get)

			mutating := cartRoutes.Group("")
			mutating.Use(authManager.VerifyCSRF())
			{
				mutating.POST("/add", cartHandler.Add)
				mutating.POST("/update", cartHandler.Update)
				mutating.POST("/remove", cartHandler.Remove)
				mutating.POST("/clear", cartHandler.Clear)
				mutating.POST("/checkout", cartHandler.Checkout)
			}
		}
		api.GET("/orders", authManager.RequireLogin(), cartHandler.Orders)

		messageRoutes := api.Group("/messages")
		messageRoutes.Use(authManager.RequireLogin())
		{
			messageRoutes.GET("/conversations", messageHandler.Conversations)
			messageRoutes.GET("/conversation", messageHandler.Conversation)
			messageRoutes.GET("/unread_count", messageHandler.UnreadCount)

			mutating := messageRoutes.Group("")
			mutating.Use(authManager.VerifyCSRF())
			{
				mutating.POST("/send", messageHandler.Send)
				mutating.POST("/mark_read", messageHandler.MarkRead)
				mutating.POST("/delete", messageHandler.Delete)
			}
		}
	}
}
