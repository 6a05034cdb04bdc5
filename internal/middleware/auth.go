package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"session-guard/internal/model"
	"session-guard/pkg/apierror"
)

type contextKey string

const operatorClaimsContextKey contextKey = "operator_claims"

var OperatorRoles = []string{"operator", "admin"}

type operatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware guards the operator surface with HS256 bearer tokens.
type AuthMiddleware struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

func (m *AuthMiddleware) ValidateToken(tokenString string) (*model.OperatorClaims, error) {
	claims := &operatorClaims{}
	token, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}

	return &model.OperatorClaims{Subject: claims.Subject, Role: claims.Role, TokenID: claims.ID}, nil
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			writeJSONError(w, apierror.Unauthorized("missing or invalid authorization header"))
			return
		}

		claims, err := m.ValidateToken(strings.TrimSpace(header[7:]))
		if err != nil {
			writeJSONError(w, apierror.Unauthorized("invalid or expired token"))
			return
		}

		ctx := context.WithValue(r.Context(), operatorClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) RequireRoles(allowedRoles ...string) func(http.Handler) http.Handler {
	roleSet := map[string]struct{}{}
	for _, role := range allowedRoles {
		roleSet[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeJSONError(w, apierror.Unauthorized("authentication required"))
				return
			}

			if _, exists := roleSet[strings.ToLower(claims.Role)]; !exists {
				writeJSONError(w, apierror.Forbidden("insufficient permissions"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireOperator is RequireAuth followed by a role check for operator or
// admin.
func (m *AuthMiddleware) RequireOperator(next http.Handler) http.Handler {
	return m.RequireAuth(m.RequireRoles(OperatorRoles...)(next))
}

func ClaimsFromContext(ctx context.Context) (*model.OperatorClaims, bool) {
	claims, ok := ctx.Value(operatorClaimsContextKey).(*model.OperatorClaims)
	return claims, ok
}

// IssueOperatorToken signs a token accepted by RequireOperator.
func IssueOperatorToken(secret string, subject string, role string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("%w: empty signing secret", model.ErrInvalidInput)
	}
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%w: empty subject", model.ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := time.Now()
	claims := operatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
