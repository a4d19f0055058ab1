package security

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	utils "livecast/pkg/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	// InternalTokenHeader carries the shared secret on ingest callbacks.
	InternalTokenHeader = "X-Internal-Token"

	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"
	ContextClaims   = "user_claims"
)

// SecurityConfig holds security middleware configuration
type SecurityConfig struct {
	AllowedOrigins []string
	CSPDirectives  string
}

// DefaultSecurityConfig returns production-ready security settings
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		AllowedOrigins: []string{},
		CSPDirectives:  "default-src 'self'; img-src 'self' data: https:; media-src 'self' blob:; connect-src 'self' ws: wss:; frame-ancestors 'none';",
	}
}

func SetupSecurityMiddleware(e *echo.Echo, config *Config, securityConfig *SecurityConfig) {
	if securityConfig == nil {
		securityConfig = DefaultSecurityConfig()
	}

	allowedOrigins := config.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = securityConfig.AllowedOrigins
	}

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: securityConfig.CSPDirectives,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return uuid.New().String()
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1 << 10,
		LogLevel:  1,
	}))
}

// LoggingMiddleware logs request and response with structured logging
func LoggingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()

		err := next(c)

		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if ae, ok := err.(*utils.AppError); ok {
				status = ae.Code
			} else {
				status = http.StatusInternalServerError
			}
		}

		utils.WithFields(map[string]interface{}{
			"method":     req.Method,
			"path":       req.URL.Path,
			"status":     status,
			"duration":   time.Since(start).String(),
			"ip":         c.RealIP(),
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		}).Info("Request completed")

		return err
	}
}

// AuthenticationMiddleware requires a valid access token and sets user context
func AuthenticationMiddleware(tokenManager *TokenManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}

			token, ok := ExtractToken(c, false)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
			}

			result, err := tokenManager.ValidateToken(token)
			if err != nil {
				utils.Logger.Errorf("Token validation error: %v", err)
				return echo.NewHTTPError(http.StatusInternalServerError, "Token validation failed")
			}
			if !result.Valid {
				if result.Expired {
					return echo.NewHTTPError(http.StatusUnauthorized, "Token has expired")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			SetClaims(c, result.Claims)
			return next(c)
		}
	}
}

// SetClaims stores the identity fields handlers read back.
func SetClaims(c echo.Context, claims *TokenClaims) {
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextUsername, claims.Username)
	c.Set(ContextRole, claims.Role)
	c.Set(ContextClaims, claims)
}

// RequireRole rejects callers whose token role is not in roles.
// Must run after AuthenticationMiddleware.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(ContextRole).(Role)
			for _, r := range roles {
				if role == r {
					return next(c)
				}
			}
			utils.Logger.Warnf("Role %s denied on %s", role, c.Request().URL.Path)
			return utils.ErrAccessDenied
		}
	}
}

// InternalTokenMiddleware guards endpoints called by the ingest process.
func InternalTokenMiddleware(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			provided := strings.TrimSpace(c.Request().Header.Get(InternalTokenHeader))
			if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				utils.Logger.Warnf("Rejected internal call from %s to %s", c.RealIP(), c.Request().URL.Path)
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid internal token")
			}
			return next(c)
		}
	}
}

// UserIDFromContext returns the authenticated user's id.
func UserIDFromContext(c echo.Context) (uuid.UUID, bool) {
	id, ok := c.Get(ContextUserID).(uuid.UUID)
	return id, ok
}

// RoleFromContext returns the role carried by the token.
func RoleFromContext(c echo.Context) Role {
	role, _ := c.Get(ContextRole).(Role)
	return role
}
