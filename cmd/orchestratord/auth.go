package main

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/secrets"
	"github.com/hostfleet/orchestrator/internal/session"
	"github.com/hostfleet/orchestrator/internal/store"
)

// agentAuth rejects a session upgrade whose Authorization header does not
// carry a bearer token matching some registered server's AuthTokenHash,
// and attaches that server's ID to the request context so
// session.Manager can reject a hello frame claiming a different one.
func agentAuth(log logrus.FieldLogger, st *store.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		hash := secrets.HashToken(token)

		servers, err := st.Servers.List(r.Context())
		if err != nil {
			log.WithError(err).Error("orchestratord: failed to list servers for auth check")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		for _, srv := range servers {
			if srv.AuthTokenHash == hash {
				ctx := session.WithAuthenticatedServerID(r.Context(), srv.ID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		log.Warn("orchestratord: rejected session upgrade with unrecognized agent token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
