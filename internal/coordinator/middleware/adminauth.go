package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AdminAuth validates HS256 bearer tokens on the operator surface.
type AdminAuth struct {
	secret []byte
	issuer string
}

// NewAdminAuth creates the validator. An empty secret disables the operator
// surface entirely rather than leaving it open.
func NewAdminAuth(secret, issuer string) *AdminAuth {
	return &AdminAuth{secret: []byte(secret), issuer: issuer}
}

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken mints an operator token. Used by the bootstrap CLI.
func (a *AdminAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", appErr.New(appErr.TokenGenerationFailed).WithMessage("admin secret not configured")
	}
	now := time.Now()
	claims := adminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", appErr.Wrap(err, appErr.TokenGenerationFailed)
	}
	return signed, nil
}

func (a *AdminAuth) validate(raw string) error {
	if len(a.secret) == 0 || raw == "" {
		return appErr.New(appErr.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &adminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return appErr.New(appErr.TokenExpired)
		}
		return appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*adminClaims)
	if !ok || !parsed.Valid {
		return appErr.New(appErr.TokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return appErr.New(appErr.TokenInvalid)
	}
	if !strings.EqualFold(claims.Role, "admin") {
		return appErr.New(appErr.Forbidden)
	}
	return nil
}

// AdminAuthMiddleware protects operator routes with bearer token validation.
func AdminAuthMiddleware(auth *AdminAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		if err := auth.validate(token); err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
