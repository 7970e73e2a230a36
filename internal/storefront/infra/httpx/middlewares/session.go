package middlewares

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/storefront/internal/pkg/reqctx"
)

const SessionCookie = "storefront_session"

// Session ensures every request carries a session id, issuing a cookie on
// the first visit. The session keys the cart.
func Session(ttl time.Duration, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sid string
			if c, err := r.Cookie(SessionCookie); err == nil {
				if _, perr := uuid.Parse(c.Value); perr == nil {
					sid = c.Value
				}
			}
			if sid == "" {
				sid = uuid.NewString()
			}

			// Refreshed on every request so the expiry slides with the cart TTL.
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    sid,
				Path:     "/",
				MaxAge:   int(ttl.Seconds()),
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
			})

			next.ServeHTTP(w, r.WithContext(reqctx.WithSessionID(r.Context(), sid)))
		})
	}
}
