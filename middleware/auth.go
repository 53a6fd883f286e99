package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Dosada05/tournament-engine/utils"
)

type contextKey string

const userContextKey contextKey = "user"

const (
	RoleAdmin   = "admin"
	RoleService = "service"

	// ServiceCredentialHeader lets an internal caller finish matches
	// without an admin token.
	ServiceCredentialHeader = "X-Service-Credential"
)

var errMissingToken = errors.New("missing bearer token")

type Authenticator struct {
	jwtSecret    []byte
	serviceToken string
	webhookToken string
	logger       *slog.Logger
}

func NewAuthenticator(jwtSecret, serviceToken, webhookToken string, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		jwtSecret:    []byte(jwtSecret),
		serviceToken: serviceToken,
		webhookToken: webhookToken,
		logger:       logger,
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (a *Authenticator) parseClaims(r *http.Request) (jwt.MapClaims, error) {
	raw, ok := utils.BearerToken(r)
	if !ok {
		return nil, errMissingToken
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Authenticate verifies the JWT and stores its claims in the request context.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.parseClaims(r)
		if err != nil {
			a.logger.DebugContext(r.Context(), "authentication failed",
				slog.String("path", r.URL.Path), slog.Any("error", err))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authorize must run after Authenticate.
func (a *Authenticator) Authorize(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, err := GetUserRoleFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

// AdminOnly is Authenticate followed by Authorize(RoleAdmin).
func (a *Authenticator) AdminOnly(next http.Handler) http.Handler {
	return a.Authenticate(a.Authorize(RoleAdmin)(next))
}

// AdminOrService accepts a valid service credential header in place of an
// admin token.
func (a *Authenticator) AdminOrService(next http.Handler) http.Handler {
	admin := a.AdminOnly(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := r.Header.Get(ServiceCredentialHeader)
		if credential == "" {
			admin.ServeHTTP(w, r)
			return
		}
		if !utils.SecureCompare(credential, a.serviceToken) {
			writeError(w, http.StatusUnauthorized, "invalid service credential")
			return
		}
		claims := jwt.MapClaims{jwtClaimRole: RoleService}
		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Webhook checks the pre-shared bearer token of the game server.
func (a *Authenticator) Webhook(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := utils.BearerToken(r)
		if !ok || !utils.SecureCompare(token, a.webhookToken) {
			a.logger.WarnContext(r.Context(), "webhook rejected",
				slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
