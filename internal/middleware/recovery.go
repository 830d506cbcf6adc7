package middleware

import (
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"simmgate-vectorcache/pkg/logging/logging"
)

// Recoverer turns a panic into a logged 500. http.ErrAbortHandler is
// re-raised so the server can drop the connection.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logging.L(r.Context()).Error("panic recovered",
					zap.Any("error", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal_server_error", chimw.GetReqID(r.Context()))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if requestID == "" {
		_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
		return
	}
	_, _ = w.Write([]byte(`{"error":"` + code + `","request_id":"` + requestID + `"}`))
}
