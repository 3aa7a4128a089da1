package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dreschagin/visual-regression/pkg/logger"
)

var ErrUnauthorized = errors.New("unauthorized")

// AuthConfig статический bearer token и/или JWT (HS256).
// Если задан JWTSecret, токены проверяются как JWT, иначе сравниваются с BearerToken.
type AuthConfig struct {
	Enabled        bool
	BearerToken    string
	BearerProjects []string
	JWTSecret      string
	JWTIssuer      string
}

// Identity вызывающий и доступные ему проекты (пусто = все проекты)
type Identity struct {
	Subject  string
	Projects []string
}

// Claims JWT claims с областью проектов
type Claims struct {
	Projects []string `json:"projects,omitempty"`
	jwt.RegisteredClaims
}

// Counter минимальный интерфейс счетчика (prometheus.Counter)
type Counter interface {
	Inc()
}

type identityKey struct{}

var anonymous = Identity{Subject: "anonymous"}

// Auth проверяет токен и кладет Identity в контекст запроса.
func Auth(cfg AuthConfig, failures Counter, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := Authenticate(r, cfg)
			if err != nil {
				if failures != nil {
					failures.Inc()
				}
				log.Warn("Unauthorized request",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					"request_id", RequestIDFromContext(r.Context()),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="visual-regression"`)
				WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Authenticate возвращает Identity для запроса
func Authenticate(r *http.Request, cfg AuthConfig) (Identity, error) {
	if !cfg.Enabled {
		return anonymous, nil
	}

	token := ExtractToken(r)
	if token == "" {
		return Identity{}, ErrUnauthorized
	}

	if cfg.JWTSecret != "" {
		claims, err := ParseToken([]byte(cfg.JWTSecret), cfg.JWTIssuer, token)
		if err == nil {
			return Identity{Subject: claims.Subject, Projects: claims.Projects}, nil
		}
		if cfg.BearerToken == "" {
			return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
	}

	if cfg.BearerToken == "" {
		return Identity{}, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.BearerToken)) != 1 {
		return Identity{}, ErrUnauthorized
	}
	return Identity{Subject: "bearer", Projects: cfg.BearerProjects}, nil
}

// IssueToken подписывает JWT для subject с доступом к projects
func IssueToken(secret []byte, issuer, subject string, projects []string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := &Claims{
		Projects: projects,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken проверяет подпись (только HS256), срок действия и issuer
func ParseToken(secret []byte, issuer, tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func ExtractToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Для WebSocket браузер не может отправить кастомный Authorization header через new WebSocket().
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext без Auth middleware возвращает анонимного вызывающего без ограничений
func IdentityFromContext(ctx context.Context) Identity {
	if identity, ok := ctx.Value(identityKey{}).(Identity); ok {
		return identity
	}
	return anonymous
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
