package mw

import (
	"net/http"

	"github.com/bookoftales/tales/internal/logger"
	"github.com/bookoftales/tales/internal/utils"
)

// AllowOnlyCIDRs allows only specific IPs/CIDRs. If the list is empty, it does NOT filter (passthrough).
// trustProxy should be true when running behind a trusted reverse proxy.
// Invalid entries are rejected by config validation; should one get here,
// everything is denied rather than silently opened.
func AllowOnlyCIDRs(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	m, err := utils.NewPrefixMatcher(allowed)
	if err != nil {
		log.Error("AllowOnlyCIDRs: invalid allow list, denying all", logger.Error(err))
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			})
		}
	}
	if m.IsEmpty() {
		log.Debug("AllowOnlyCIDRs: empty matcher, passthrough mode")
		return func(next http.Handler) http.Handler { return next }
	}

	log.Debugf("AllowOnlyCIDRs: initialized with %d rules, trustProxy=%v", len(allowed), trustProxy)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustProxy)
			if !m.Allow(ip) {
				log.Debugf("AllowOnlyCIDRs: IP %s REJECTED (RemoteAddr=%s)", ip, r.RemoteAddr)
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
