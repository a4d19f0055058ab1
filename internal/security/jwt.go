package security

import (
	"errors"
	"fmt"
	"time"

	"livecast/configs"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config holds the token settings shared by the HTTP API and the chat socket.
type Config struct {
	JWTSecret           string
	Issuer              string
	AccessTokenDuration time.Duration
	AllowedOrigins      []string
	InternalToken       string
}

// NewConfig builds the security settings from the application config.
func NewConfig(appConfig *configs.Config) *Config {
	return &Config{
		JWTSecret:      appConfig.JWT.Secret,
		Issuer:         appConfig.JWT.Issuer,
		AllowedOrigins: appConfig.Chat.AllowedOrigins,
		InternalToken:  appConfig.Ingest.InternalToken,
	}
}

type TokenManager struct {
	config *Config
}

type TokenClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	TokenType string    `json:"token_type"`
	jwt.RegisteredClaims
}

type TokenValidationResult struct {
	Valid   bool
	Claims  *TokenClaims
	Error   error
	Expired bool
}

func NewTokenManager(config *Config) *TokenManager {
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = 15 * time.Minute
	}
	return &TokenManager{config: config}
}

// GenerateAccessToken signs an access token. Issuance proper belongs to the
// account service; this exists for tooling and tests.
func (tm *TokenManager) GenerateAccessToken(userID uuid.UUID, username string, role Role) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		UserID:    userID,
		Username:  username,
		Role:      role,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.config.AccessTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tm.config.Issuer,
			Subject:   userID.String(),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString([]byte(tm.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (tm *TokenManager) ValidateToken(tokenString string) (*TokenValidationResult, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.config.JWTSecret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return &TokenValidationResult{
				Valid:   false,
				Expired: true,
				Error:   errors.New("token has expired"),
			}, nil
		}
		return &TokenValidationResult{
			Valid: false,
			Error: fmt.Errorf("invalid token: %w", err),
		}, nil
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return &TokenValidationResult{
			Valid: false,
			Error: errors.New("invalid token claims"),
		}, nil
	}

	if tm.config.Issuer != "" && claims.Issuer != tm.config.Issuer {
		return &TokenValidationResult{
			Valid: false,
			Error: errors.New("invalid token issuer"),
		}, nil
	}
	if claims.TokenType != "access" {
		return &TokenValidationResult{
			Valid: false,
			Error: errors.New("invalid token type"),
		}, nil
	}
	claims.Role = ParseRole(string(claims.Role))

	return &TokenValidationResult{
		Valid:  true,
		Claims: claims,
	}, nil
}
