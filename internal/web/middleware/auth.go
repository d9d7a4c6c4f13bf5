package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/qaimport/internal/config"
)

// healthPath stays reachable without a key for liveness probes.
const healthPath = "/api/health"

// APIKeyAuth guards the API with the keys in cfg when cfg.RequireAPIKey is
// set. A key is read from X-API-Key or an "Authorization: Bearer" header.
// EventSource cannot set headers, so event streams also accept the
// api_key query parameter.
//
// Keys are compared as SHA-256 digests in constant time, against every
// configured key.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	digests := make([][sha256.Size]byte, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey || r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			key := requestKey(r)
			switch {
			case key == "":
				deny(w, r, http.StatusUnauthorized, "missing API key")
			case !matchKey(key, digests):
				deny(w, r, http.StatusForbidden, "invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func requestKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if strings.HasSuffix(r.URL.Path, "/events") {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

func matchKey(key string, digests [][sha256.Size]byte) bool {
	sum := sha256.Sum256([]byte(key))
	match := 0
	for i := range digests {
		match |= subtle.ConstantTimeCompare(sum[:], digests[i][:])
	}
	return match == 1
}

func deny(w http.ResponseWriter, r *http.Request, status int, msg string) {
	slog.Warn("auth: "+msg,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ClientIP(r),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": msg,
		"code":    "HTTP" + strconv.Itoa(status),
	})
}
