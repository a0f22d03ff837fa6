package httpapi

import (
	"net/http"

	"github.com/kaanyurdkl/storefront/internal/identity"
)

// IdentityMiddleware resolves the shopper identity (bearer token or
// guest session cookie, minting one if absent) and stores it on the
// request context.
func IdentityMiddleware(resolver *identity.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(w, r)
			if err != nil {
				handleServiceError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.NewContext(r.Context(), id)))
		})
	}
}
