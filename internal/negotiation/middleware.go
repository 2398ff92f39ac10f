package negotiation

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"ucp-checkout/internal/model"
)

// maxPeekBytes bounds how much of a request body is inspected for an inline profile.
const maxPeekBytes = 1 << 20

// Middleware resolves the platform profile for each request and stores the
// Resolution in the request context. It never rejects a request: a missing,
// malformed or unreachable profile resolves to an empty document.
//
// The body is buffered to look for _platform_profile and restored unchanged
// for the handler.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			inline := peekInlineProfile(r)
			res := resolver.Resolve(r.Context(), inline, r.Header.Get(UCPAgentHeader))
			next.ServeHTTP(w, r.WithContext(WithResolution(r.Context(), res)))
		})
	}
}

// isExemptPath returns true for paths that never consult a platform profile.
// MCP resolves per tool call from request meta.
func isExemptPath(path string) bool {
	switch path {
	case "/.well-known/ucp", "/profiles/platform.json",
		"/health", "/healthz", "/metrics":
		return true
	}
	return path == "/mcp" || strings.HasPrefix(path, "/mcp/")
}

// peekInlineProfile reads up to maxPeekBytes of the body and puts it back.
// Bodies larger than that are passed through without inspection.
func peekInlineProfile(r *http.Request) model.Document {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil || len(buf) > maxPeekBytes {
		return nil
	}
	return InlineProfile(buf)
}
