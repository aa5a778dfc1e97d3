package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/render"

	"github.com/Proton-105/premium-bot/pkg/metrics"
)

// RejectOnPanic recovers a panicking payment callback and answers with the provider's 400 "NO".
func RejectOnPanic(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				log.ErrorContext(r.Context(), "payment callback panicked",
					slog.String("panic", fmt.Sprint(rvr)),
					slog.String("stack", string(debug.Stack())),
				)
				metrics.RecordWebhook("reject", "panic", time.Since(start))

				render.Status(r, http.StatusBadRequest)
				render.PlainText(w, r, "NO")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
