package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"couple-sync-backend/pkg/config"
	"couple-sync-backend/pkg/database"
	"couple-sync-backend/pkg/handlers"
	customMiddleware "couple-sync-backend/pkg/middleware"
	"couple-sync-backend/pkg/pairing"
	"couple-sync-backend/pkg/utils"
)

// Handler 是Vercel函数的入口点
// 这个函数实现了"单体路由模式"，将所有API端点集中在一个Chi路由器中管理
func Handler(w http.ResponseWriter, r *http.Request) {
	// 加载配置
	cfg := config.GetCached()

	// 验证配置
	if err := cfg.Validate(); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+err.Error())
		return
	}

	// 获取数据库连接（冷启动后跨调用复用）
	db := database.GetDatabase(database.DatabaseConfig{
		UseLocalDB:  cfg.UseLocalDB,
		PostgresDSN: cfg.PostgresDSN,
		SupabaseURL: cfg.SupabaseURL,
		SupabaseKey: cfg.SupabaseKey,
		Debug:       cfg.Debug,
	})
	// 注意：连接由连接池管理，无需手动关闭

	// 创建Chi路由器
	router := chi.NewRouter()

	// 设置全局中间件
	setupMiddleware(router, cfg)

	// 设置路由
	setupRoutes(router, cfg, db)

	// 将请求传递给Chi路由器处理
	router.ServeHTTP(w, r)
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, cfg *config.Config) {
	// 基础中间件
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.Logger(cfg))
	router.Use(customMiddleware.Recovery(cfg))

	// CORS中间件
	router.Use(customMiddleware.CORS(cfg))

	// 超时中间件（Vercel函数有时间限制）
	router.Use(middleware.Timeout(25 * time.Second)) // 留5秒缓冲

	// 压缩中间件
	router.Use(middleware.Compress(5))

	// 请求体限制与Content-Type校验
	router.Use(customMiddleware.MaxBodySize(1 << 20)) // 1MB
	router.Use(customMiddleware.ContentTypeJSON)

	// 开发环境额外中间件
	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, cfg *config.Config, db database.DatabaseInterface) {
	// 创建服务与处理器
	svc := pairing.NewService(db)
	systemHandler := handlers.NewSystemHandler(cfg, db)
	couplesHandler := handlers.NewCouplesHandler(cfg, svc)
	invitationsHandler := handlers.NewInvitationsHandler(cfg, svc, couplesHandler)
	journalHandler := handlers.NewJournalHandler(cfg, db, svc, couplesHandler)
	datePlansHandler := handlers.NewDatePlansHandler(cfg, db, svc, couplesHandler)

	// 健康检查端点
	router.Get("/", systemHandler.HealthCheck)

	// 数据库连接池状态端点（调试用）
	if cfg.IsDevelopment() {
		router.Group(func(r chi.Router) {
			r.Use(customMiddleware.ValidateAPIKey(cfg.InternalAPIKey))
			r.Get("/debug/db-pool", systemHandler.DBPoolStats)
		})
	}

	// API路由组
	router.Route("/api", func(r chi.Router) {
		// 开发环境便捷签发token（生产环境token由外部登录服务签发）
		if cfg.IsDevelopment() {
			r.Post("/auth/dev-token", systemHandler.DevToken)
			r.Post("/auth/refresh", systemHandler.RefreshToken)
		}

		// 需要认证的路由
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.AuthMiddleware(cfg))

			// 配对
			r.Route("/couples", func(r chi.Router) {
				r.Post("/", couplesHandler.HandleCoupleAction)
				r.Get("/status", couplesHandler.GetStatus)
			})

			// 邀请码
			r.Route("/invitations", func(r chi.Router) {
				r.Post("/", invitationsHandler.CreateInvitation)
				r.Get("/active", invitationsHandler.GetActiveInvitation)
				r.Post("/redeem", invitationsHandler.RedeemInvitation)
			})

			// 共同日记
			r.Route("/journal", func(r chi.Router) {
				r.Get("/", journalHandler.ListEntries)
				r.Post("/", journalHandler.CreateEntry)
				r.Get("/{id}", journalHandler.GetEntry)
				r.Put("/{id}", journalHandler.UpdateEntry)
				r.Delete("/{id}", journalHandler.DeleteEntry)
			})

			// 约会计划
			r.Route("/dates", func(r chi.Router) {
				r.Get("/", datePlansHandler.ListPlans)
				r.Post("/", datePlansHandler.CreatePlan)
				r.Get("/{id}", datePlansHandler.GetPlan)
				r.Put("/{id}", datePlansHandler.UpdatePlan)
				r.Delete("/{id}", datePlansHandler.DeletePlan)
			})
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
