package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/william-takayama/ecommerce-cart/pkg/logger"
)

const (
	// SessionHeader lets non-browser clients name their shopper session.
	SessionHeader = "X-Session-ID"
	// SessionCookie is set on the first response to a browser without one.
	SessionCookie = "storefront_session"
)

// maxSessionIDLen bounds client-supplied ids; longer ones are replaced.
const maxSessionIDLen = 128

// Session resolves the shopper session id from the header or cookie, minting
// one when absent, and stores it in the request context.
func Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SessionHeader)
		if id == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				id = c.Value
			}
		}
		if len(id) > maxSessionIDLen {
			id = ""
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		w.Header().Set(SessionHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithSessionID(r.Context(), id)))
	})
}
