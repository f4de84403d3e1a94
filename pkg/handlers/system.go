package handlers

import (
	"net/http"
	"strings"
	"time"

	"couple-sync-backend/pkg/config"
	"couple-sync-backend/pkg/database"
	"couple-sync-backend/pkg/utils"
)

// SystemHandler 健康检查与调试接口
type SystemHandler struct {
	config *config.Config
	db     database.DatabaseInterface
}

func NewSystemHandler(cfg *config.Config, db database.DatabaseInterface) *SystemHandler {
	return &SystemHandler{config: cfg, db: db}
}

// GET /
func (h *SystemHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"
	if err := h.db.HealthCheck(); err != nil {
		status = "degraded"
		dbStatus = err.Error()
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     "couple-sync-backend",
		"status":      status,
		"database":    dbStatus,
		"environment": h.config.Environment,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

// GET /debug/db-pool
// 仅开发环境或携带内部密钥时可用。
func (h *SystemHandler) DBPoolStats(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccessResponse(w, database.GetConnectionStats())
}

// POST /api/auth/dev-token
// 开发环境便捷接口：为任意subject签发token，方便前端联调。
// 生产环境由外部登录服务签发token，此接口不注册。
func (h *SystemHandler) DevToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
		Email   string `json:"email"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		utils.WriteValidationErrorResponse(w, "Subject required", "subject must not be empty")
		return
	}

	jwtService := utils.NewJWTService(h.config.JWTSecret)
	accessToken, refreshToken, expiresAt, err := jwtService.GenerateTokenPair(req.Subject, req.Email)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to generate token")
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_at":    expiresAt,
	})
}

// POST /api/auth/refresh
// 用 refresh token 换新的 access token。与 dev-token 配套，仅开发环境注册。
func (h *SystemHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		utils.WriteValidationErrorResponse(w, "Refresh token required", "refresh_token must not be empty")
		return
	}

	jwtService := utils.NewJWTService(h.config.JWTSecret)
	accessToken, expiresAt, err := jwtService.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid refresh token")
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"access_token": accessToken,
		"expires_at":   expiresAt,
	})
}
