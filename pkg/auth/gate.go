// Package auth implements the addon's single-secret URL-token gate: every
// inbound route except /health must carry the configured shared secret as
// its first path segment, which the gate strips before handing the request
// to the wrapped handler.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/nzbstream/nzbstream/pkg/logger"
)

// exemptPaths never require the shared-secret token.
var exemptPaths = map[string]bool{
	"/health": true,
}

// Gate wraps an http.Handler, enforcing the shared-secret path-prefix check
// on every request other than the exempt paths.
type Gate struct {
	secret string
}

// NewGate builds a Gate bound to the configured shared secret.
func NewGate(secret string) *Gate {
	return &Gate{secret: secret}
}

// Wrap returns next guarded by the shared-secret check. On success the
// token segment is stripped from r.URL.Path so downstream routing never
// sees it.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if exemptPaths[path] {
			next.ServeHTTP(w, r)
			return
		}

		trimmed := strings.TrimPrefix(path, "/")
		parts := strings.SplitN(trimmed, "/", 2)
		token := parts[0]

		if !g.valid(token) {
			logger.Warn("rejected request: missing or invalid shared-secret token", "path", path, "remote", r.RemoteAddr)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		rest := "/"
		if len(parts) > 1 {
			rest = "/" + parts[1]
		}
		r.URL.Path = rest
		next.ServeHTTP(w, r)
	})
}

// valid reports whether token matches the configured secret, using a
// constant-time comparison since this is the addon's sole credential.
func (g *Gate) valid(token string) bool {
	if g.secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.secret)) == 1
}

// SignedURL builds an absolute URL rooted at baseURL carrying the shared
// secret as its leading path segment, e.g. "https://host/{secret}/manifest.json".
func (g *Gate) SignedURL(baseURL, path string) string {
	base := strings.TrimSuffix(baseURL, "/")
	path = strings.TrimPrefix(path, "/")
	return base + "/" + g.secret + "/" + path
}
