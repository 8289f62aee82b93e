package middleware

import (
	"net/http"
	"strings"

	"github.com/thushan/llmrelay/internal/core/constants"
)

// NormalisePath implements spec.md §6's inbound path normalization: a
// request whose path merely *contains* "v1/messages" or
// "v1/chat/completions" anywhere (an operator-added proxy prefix, a
// load-balancer path segment) is treated the same as a request to the
// canonical route, letting one registered mux pattern serve both the
// canonical and prefixed forms. The "openai/*" alias needs no rewrite here:
// it's anchored at the path root, and the mux's own "/openai/" subtree
// pattern already matches it.
//
// Grounded on the teacher's registry.RegisterProxyRoute prefix-stripping
// idea, generalised here to a path-rewrite that runs before the mux.
func NormalisePath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "v1/messages"):
			r.URL.Path = constants.PathV1Messages
		case strings.Contains(r.URL.Path, "v1/chat/completions"):
			r.URL.Path = constants.PathV1ChatCompletions
		}
		next.ServeHTTP(w, r)
	})
}
