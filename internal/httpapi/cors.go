package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"airdrop_manager/internal/config"
)

// corsMiddleware answers preflights itself. Credentialed responses echo the
// request origin since browsers reject "*" with credentials.
func corsMiddleware(cfg config.CorsConfig, next http.Handler) http.Handler {
	methods := strings.Join(cfg.Methods(), ", ")
	headers := strings.Join(cfg.Headers(), ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge().Seconds()))

	wildcard := false
	allowed := make(map[string]struct{}, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		w.Header().Add("Vary", "Origin")

		allow := ""
		if origin != "" {
			if _, ok := allowed[strings.ToLower(origin)]; ok {
				allow = origin
			} else if wildcard {
				allow = "*"
				if cfg.AllowCredentials {
					allow = origin
				}
			}
		}

		if allow != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Headers", headers)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Max-Age", maxAge)
		}

		if r.Method == http.MethodOptions {
			if origin != "" && allow == "" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
