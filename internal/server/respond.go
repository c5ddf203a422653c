package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hsn0918/bookrag/pkg/clients/base"
	"github.com/hsn0918/bookrag/pkg/logger"
)

// statusClientClosedRequest is the nginx convention for a cancelled caller;
// net/http has no name for it.
const statusClientClosedRequest = 499

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(data)
}

// writeError maps an error to its HTTP status. Upstream client errors carry
// their classification; everything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), base.IsCancelled(err):
		return statusClientClosedRequest
	case base.IsRateLimited(err):
		return http.StatusTooManyRequests
	case base.IsUnauthorized(err):
		return http.StatusUnauthorized
	case base.IsUpstreamServerError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requestLogger writes one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Get().Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
