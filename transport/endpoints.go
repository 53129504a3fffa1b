package transport

import (
	"strings"

	"github.com/plazma-edu/erpauth-go/api"
)

// isAuthEndpoint reports whether the path targets the sign-in or refresh
// endpoint. Matching is by suffix on the normalized path: the query string
// is already excluded from URL.Path and any trailing slash is stripped; the
// refresh endpoint carries the user ID as its final segment, so the match
// also tries the path with that segment dropped.
func isAuthEndpoint(path string) bool {
	p := normalize(path)
	if strings.HasSuffix(p, api.SignInPath) || strings.HasSuffix(p, api.RefreshPath) {
		return true
	}
	if i := strings.LastIndex(p, "/"); i > 0 {
		if strings.HasSuffix(p[:i], api.RefreshPath) {
			return true
		}
	}
	return false
}

func normalize(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strings.TrimRight(path, "/")
}
