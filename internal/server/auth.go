package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	EnableDevLogin         bool
	DefaultOrgID           string
	Logger                 *log.Logger
}

// Principal identifies the authenticated caller and the org every query
// must be scoped to. Authorization beyond org scoping is out of scope.
type Principal struct {
	ActorID string
	OrgID   string
	Name    string
	Source  string
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id,omitempty"`
	Name  string `json:"name,omitempty"`
}

func authenticateJWT(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{
		ActorID: claims.Subject,
		OrgID:   claims.OrgID,
		Name:    claims.Name,
		Source:  "jwt",
	}, nil
}

func issueJWT(secret, actorID, orgID, name string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		OrgID: orgID,
		Name:  name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// newAuthMiddleware resolves the caller identity. Bearer JWT wins; the
// legacy X-Actor-Id/X-Org-Id headers only apply when explicitly enabled
// (local CLI and tests). Health, docs and dev login stay open.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	openPaths := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "openapi"):        true,
		"/docs": true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if openPaths[r.URL.Path] || strings.HasPrefix(r.URL.Path, path.Join(basePath, "openapi")) {
				next.ServeHTTP(w, r)
				return
			}
			if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
				token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
				p, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					cfg.logger().Printf("auth: jwt rejected: %v", err)
					writeAuthError(w, "invalid bearer token")
					return
				}
				if p.OrgID == "" {
					p.OrgID = cfg.DefaultOrgID
				}
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
				return
			}
			if cfg.AllowLegacyActorHeader {
				actor := r.Header.Get("X-Actor-Id")
				if actor == "" {
					actor = "local-user"
				}
				org := r.Header.Get("X-Org-Id")
				if org == "" {
					org = cfg.DefaultOrgID
				}
				p := Principal{ActorID: actor, OrgID: org, Source: "header"}
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
				return
			}
			writeAuthError(w, "authentication required")
		})
	}
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"` + msg + `"}}`))
}
