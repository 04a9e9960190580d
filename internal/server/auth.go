package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"bountyline/internal/domain"
	"bountyline/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// TokenTTL bounds dev-login tokens; zero means 24h.
	TokenTTL time.Duration
	Logger   *slog.Logger
}

func (c AuthConfig) tokenTTL() time.Duration {
	if c.TokenTTL > 0 {
		return c.TokenTTL
	}
	return 24 * time.Hour
}

// Principal is the authenticated caller. Every write call is made as Address.
type Principal struct {
	Address common.Address
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// callerFromContext returns the address write calls act as.
func callerFromContext(ctx context.Context) (common.Address, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok {
		return p.Address, nil
	}
	return common.Address{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func authenticateJWT(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	addr, err := domain.ParseAddress(claims.Subject)
	if err != nil {
		return Principal{}, errors.New("subject claim must be an address")
	}
	return Principal{Address: addr, Source: "jwt"}, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	addr, err := domain.ParseAddress(apiKey.Address)
	if err != nil {
		return Principal{}, errors.New("api key bound to invalid address")
	}
	return Principal{Address: addr, Source: "api_key"}, nil
}

func signDevToken(secret string, addr common.Address, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   addr.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "bountyline-dev",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware attaches a Principal when credentials are present.
// Requests without credentials pass through anonymously; bad credentials are
// rejected outright.
func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
		path.Join(basePath, "openapi.json"):   true,
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKey := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			var (
				principal Principal
				err       error
			)
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					err = errors.New("malformed authorization header")
					break
				}
				principal, err = authenticateJWT(token, cfg.JWTSecret)
			case apiKey != "":
				principal, err = authenticateAPIKey(req.Context(), r, apiKey)
			default:
				next.ServeHTTP(w, req)
				return
			}
			if err != nil {
				log.Warn("rejected credentials", "path", req.URL.Path, "err", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
