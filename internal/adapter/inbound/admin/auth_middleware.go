package admin

import (
	"net"
	"net/http"
	"strings"

	"github.com/Prompt-Gate/Promptgate/internal/domain/auth"
)

// isLocalhost checks if the request originates from a loopback address.
// It parses the host portion from r.RemoteAddr. X-Forwarded-For is
// intentionally NOT trusted (an attacker could spoof it).
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// bearerToken extracts the Bearer credential from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// authMiddleware guards the admin API. With no configured key hash, access
// is localhost-only and remote requests are rejected with 403 (use an SSH
// tunnel for remote access). With a key hash configured, any request
// presenting the matching admin key is allowed, and localhost requests
// still pass without one.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}
		if h.apiKeyHash == "" {
			h.respondError(w, http.StatusForbidden, "admin API requires localhost access")
			return
		}
		token := bearerToken(r)
		if token == "" {
			h.respondError(w, http.StatusUnauthorized, "admin API key required")
			return
		}
		match, err := auth.VerifyKey(token, h.apiKeyHash)
		if err != nil {
			h.logger.Error("admin key verification failed", "error", err)
			h.respondError(w, http.StatusInternalServerError, "key verification failed")
			return
		}
		if !match {
			h.respondError(w, http.StatusUnauthorized, "invalid admin API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
