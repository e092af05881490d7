package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/copyleftdev/laplace/internal/logging"
)

// Body is the JSON error payload of the REST API.
type Body struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// WriteJSON writes err as a JSON error response with the status of its kind.
func WriteJSON(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(Body{Error: err.Error(), Kind: kind.String()})
}

// RecoveryMiddleware returns a middleware that recovers from panics.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
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

				logger.Error("Recovered from panic", map[string]interface{}{
					"error":  fmt.Sprint(rec),
					"stack":  string(debug.Stack()),
					"method": r.Method,
					"path":   r.URL.Path,
				})
				WriteJSON(w, Errorf(KindInternal, "internal error: %v", rec))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
