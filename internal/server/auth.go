package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tournament-wallet/internal/config"
	"tournament-wallet/internal/handler"
	"tournament-wallet/internal/model"
)

// ErrNoSecret is returned when auth.jwt_secret is not configured.
var ErrNoSecret = errors.New("auth.jwt_secret is required")

// Claims are the bearer token claims issued by the identity provider.
// Subject carries the account id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator creates an Authenticator from cfg.
func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	return &Authenticator{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}, nil
}

// Issue signs a token for accountID. Used by tests and local tooling; the
// production identity provider issues its own.
func (a *Authenticator) Issue(accountID uuid.UUID, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses a token and returns the caller it identifies.
func (a *Authenticator) Verify(token string) (handler.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return handler.Identity{}, err
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return handler.Identity{}, errors.New("subject is not an account id")
	}
	role := model.Role(claims.Role)
	switch role {
	case "":
		role = model.RoleUser
	case model.RoleUser, model.RoleAdmin:
	default:
		return handler.Identity{}, errors.New("unknown role")
	}
	return handler.Identity{AccountID: accountID, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			handler.WriteError(w, r, handler.ErrUnauthenticated)
			return
		}
		id, err := a.Verify(strings.TrimSpace(token))
		if err != nil {
			handler.WriteError(w, r, handler.ErrUnauthenticated.WithMessage("invalid bearer token: %v", err))
			return
		}
		next.ServeHTTP(w, r.WithContext(handler.WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := handler.IdentityFrom(r.Context())
		if !ok {
			handler.WriteError(w, r, handler.ErrUnauthenticated)
			return
		}
		if !id.IsAdmin() {
			handler.WriteError(w, r, handler.ErrAdminOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}
