package middleware

import "net/http"

// MaxBodySize limits request bodies to n bytes. Reads past the limit fail
// with *http.MaxBytesError; declared oversize bodies are rejected with 413
// before the handler runs.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "body_too_large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
