package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken guards viewer endpoints when a viewer token is configured.
// Browsers cannot set headers on a websocket handshake, so ?token= is accepted too.
// Agents reporting to /metrics are never challenged.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}

	want := []byte(s.token)

	return func(w http.ResponseWriter, r *http.Request) {
		bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			bearer = ""
		}

		for _, got := range []string{bearer, r.URL.Query().Get("token")} {
			if got != "" && subtle.ConstantTimeCompare([]byte(got), want) == 1 {
				next(w, r)
				return
			}
		}

		s.logger.Debug().Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Msg("Rejected viewer request")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
}
