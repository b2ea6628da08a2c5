package httpapi

import (
	"net/http"

	"github.com/sethdford/fleetctl/internal/idempotency"
)

// responseRecorder captures a handler's response so it can be cached.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// withIdempotency replays the cached response for a repeated
// X-Fleet-Idempotency-Key rather than re-executing next. A request
// without the header always executes normally.
func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Fleet-Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}

		if resp, found := a.idempotency.Get(r.Context(), key); found {
			for k, vs := range resp.Headers {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(resp.StatusCode)
			_, _ = w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		if rec.statusCode >= 200 && rec.statusCode < 300 {
			a.idempotency.Set(r.Context(), key, idempotency.Response{
				StatusCode: rec.statusCode,
				Body:       rec.body,
				Headers:    rec.Header(),
			})
		}
	}
}
