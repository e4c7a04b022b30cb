// Package control implements the operator-facing refresh endpoint,
// served on its own listener, separate from proxy traffic.
package control

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/relaycache/relaycache/pkg/refreshbus"
)

// Trigger is the subset of *refreshbus.Bus the control router needs.
type Trigger interface {
	Trigger()
}

// Router returns the control server's chi router. authToken, if
// non-empty, is required as a "Bearer <token>" Authorization header on
// every request; an empty authToken disables the check entirely.
func Router(bus Trigger, authToken string) chi.Router {
	r := chi.NewRouter()
	r.Post("/refresh-cache", refreshHandler(bus, authToken))
	return r
}

func refreshHandler(bus Trigger, authToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if authToken != "" && !authorized(r, authToken) {
			log.Warn().Str("remote", r.RemoteAddr).Msg("unauthorized refresh-cache attempt")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		bus.Trigger()
		log.Info().Msg("cache refresh triggered via control endpoint")
		w.WriteHeader(http.StatusOK)
	}
}

func authorized(r *http.Request, token string) bool {
	want := "Bearer " + token
	got := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

var _ Trigger = (*refreshbus.Bus)(nil)
