package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"collie-procedures-backend/pkg/domain"

	"github.com/golang-jwt/jwt/v5"
)

type actorKey struct{}

// WithActor guarda el actor autenticado en el contexto.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom devuelve el actor del contexto o el valor cero.
func ActorFrom(ctx context.Context) domain.Actor {
	a, _ := ctx.Value(actorKey{}).(domain.Actor)
	return a
}

// Claims son los claims esperados en el bearer token. Subject es el ID del
// trabajador.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// TokenValidator valida tokens HS256 firmados con un secreto compartido.
type TokenValidator struct {
	secret []byte
	issuer string
}

// NewTokenValidator crea el validador. issuer vacío no verifica el emisor.
func NewTokenValidator(secret []byte, issuer string) (*TokenValidator, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	return &TokenValidator{secret: secret, issuer: issuer}, nil
}

// Validate parsea y valida el token.
func (v *TokenValidator) Validate(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Issue firma un token para workerID. Lo usan las pruebas y la herramienta
// de desarrollo local.
func (v *TokenValidator) Issue(workerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   workerID,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// publicPaths no requieren autenticación.
var publicPaths = []string{"/health"}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// authMiddleware exige un bearer token válido. Sin validador rechaza todo.
func authMiddleware(validator *TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "Missing Authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeUnauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if validator == nil {
				writeUnauthorized(w, r, "Authentication not configured")
				return
			}
			claims, err := validator.Validate(parts[1])
			if err != nil {
				writeUnauthorized(w, r, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				writeUnauthorized(w, r, "Token subject is required")
				return
			}
			ctx := WithActor(r.Context(), domain.Actor{ID: claims.Subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
