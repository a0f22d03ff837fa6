// Package identity derives the shopper identity for a request: an
// authenticated user id from a bearer token, or a guest session token
// minted on first contact.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kaanyurdkl/storefront/internal/domain"
)

const SessionCookieName = "storefront_session"

var ErrInvalidToken = errors.New("invalid or expired token")

type Resolver struct {
	secret     []byte
	sessionTTL time.Duration
}

func NewResolver(secret []byte, sessionTTL time.Duration) *Resolver {
	return &Resolver{secret: secret, sessionTTL: sessionTTL}
}

// Resolve returns the request's identity. A missing session mints a
// fresh guest token and sets it as an httpOnly cookie on w. The cookie
// is never cleared here; dropping the guest session is the caller's
// decision after a successful merge.
func (r *Resolver) Resolve(w http.ResponseWriter, req *http.Request) (domain.Identity, error) {
	if auth := req.Header.Get("Authorization"); auth != "" {
		userID, err := r.parseBearer(auth)
		if err != nil {
			return domain.Identity{}, err
		}
		return domain.UserIdentity(userID), nil
	}

	if cookie, err := req.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return domain.GuestIdentity(cookie.Value), nil
	}

	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(r.sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return domain.GuestIdentity(token), nil
}

// GuestToken returns the guest session token carried by the request,
// if any, regardless of authentication state. Merge-on-login needs it
// after the shopper has already authenticated.
func GuestToken(req *http.Request) string {
	cookie, err := req.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ClearSession expires the guest session cookie. Called only after a
// merge has fully succeeded, so a failed merge stays retryable.
func ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (r *Resolver) parseBearer(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

type contextKey struct{}

// NewContext stores the resolved identity on the context.
func NewContext(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity placed by the middleware.
func FromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(domain.Identity)
	return id, ok
}
