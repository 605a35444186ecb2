package middleware

import (
	"context"
	"strings"

	pkgerrors "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDContextKey   = "user_id"
	userRoleContextKey = "user_role"
)

// Claims carries the identity embedded in access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 access tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for the given shared secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates a token string and returns its claims.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("missing bearer token")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pkgerrors.New(pkgerrors.TokenInvalid)
		}
		return v.secret, nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "expired") {
			return nil, pkgerrors.Wrap(err, pkgerrors.TokenExpired)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.TokenInvalid)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims, nil
}

// AuthPolicy restricts a route group to the listed roles. Empty Roles
// means any authenticated user.
type AuthPolicy struct {
	Roles []string
}

// AuthMiddleware enforces JWT validation and role checks for protected routes.
func AuthMiddleware(verifier *TokenVerifier, policy AuthPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "token verifier unavailable")
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		claims, err := verifier.Verify(token)
		if err != nil {
			response.AbortWithErrorCode(c, pkgerrors.GetCode(err), err.Error())
			return
		}

		if len(policy.Roles) > 0 && !hasRole(claims.Role, policy.Roles) {
			response.AbortWithErrorCode(c, pkgerrors.RoleNotAllowed, "insufficient role")
			return
		}

		c.Set(userIDContextKey, claims.UserID)
		c.Set(userRoleContextKey, claims.Role)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, claims.UserID)
		ctx = context.WithValue(ctx, contextkey.UserRole, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
