package trace

import "net/http"

// Middleware continues or starts a trace for each HTTP request and echoes the
// trace id back in the response headers.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

func extractFromHeaders(r *http.Request) Context {
	return FromMap(map[string]string{
		TraceIDKey: r.Header.Get(TraceIDKey),
		SpanIDKey:  r.Header.Get(SpanIDKey),
	})
}
