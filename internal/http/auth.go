package http

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	. "github.com/roelfdiedericks/chatrelay/internal/logging"
)

// bearerAuth enforces "Authorization: Bearer <token>" when a token is
// configured. An IP that just failed is turned away for a short delay.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)
		if s.authLim.IsLimited(clientIP) {
			L_warn("http: auth rate limited", "ip", clientIP)
			writeError(w, http.StatusTooManyRequests, "too many failed attempts, try again later")
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="chatrelay"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			s.authLim.RecordFailure(clientIP)
			L_warn("http: auth failed - bad token", "ip", clientIP)
			w.Header().Set("WWW-Authenticate", `Bearer realm="chatrelay", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		s.authLim.ClearFailure(clientIP)
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// getClientIP returns the request's IP without the port. RealIP has
// already applied X-Forwarded-For / X-Real-IP.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
