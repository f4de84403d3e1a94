package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"couple-sync-backend/pkg/config"
	"couple-sync-backend/pkg/utils"
)

// ContextKey 用于在context中存储用户信息的键
type ContextKey string

const (
	IdentityContextKey ContextKey = "identity"
)

// Identity 已认证的外部身份（来自登录服务签发的token）
// Account resolution against the store happens later, in the handler layer.
type Identity struct {
	Subject string
	Email   string
}

// AuthMiddleware JWT认证中间件
// Token validation is delegated to utils.JWTService so the whole app has
// exactly one parse path.
func AuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	jwtService := utils.NewJWTService(cfg.JWTSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 从Authorization头获取token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.WriteUnauthorizedResponse(w, "Missing authorization header")
				return
			}

			// 检查Bearer前缀
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				utils.WriteUnauthorizedResponse(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				if cfg.Debug {
					fmt.Printf("❌ Auth middleware: token rejected: %v\n", err)
				}
				utils.WriteUnauthorizedResponse(w, "Invalid token")
				return
			}

			// 只接受access token
			if claims.Type != "access" {
				utils.WriteUnauthorizedResponse(w, "Invalid token type")
				return
			}

			identity := &Identity{
				Subject: claims.Subject,
				Email:   claims.Email,
			}

			if cfg.Debug {
				fmt.Printf("✅ Auth middleware: authenticated subject %s\n", identity.Subject)
			}

			ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentityFromContext 从context中获取已认证身份
func GetIdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(*Identity)
	return identity, ok
}

// RequireIdentity 要求请求必须已认证的辅助函数
func RequireIdentity(ctx context.Context) (*Identity, error) {
	identity, ok := GetIdentityFromContext(ctx)
	if !ok || identity == nil || identity.Subject == "" {
		return nil, fmt.Errorf("request not authenticated")
	}
	return identity, nil
}
