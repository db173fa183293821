package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/proctor/pkg/metrics"
)

// MetricsMiddleware records request count, latency and error class per endpoint.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		durationMs := float64(time.Since(start).Milliseconds())
		status := strconv.Itoa(rw.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)

		if rw.statusCode >= http.StatusBadRequest {
			errorType := rw.errorType()
			metrics.RecordErrorByEndpoint(endpoint, r.Method, errorType)
			metrics.RecordErrorByType(errorType, errorSeverity(rw.statusCode))
		}
	}
}

// errorSeverity ranks failures for alerting. Busy is expected under load.
func errorSeverity(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "high"
	case status == http.StatusTooManyRequests:
		return "low"
	default:
		return "medium"
	}
}

// responseWriter captures the status and, when writeError ran, the API error code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	code       string
}

// errorType prefers the API error code and falls back to the status class
// for responses written outside writeError, such as the auth guard's 401.
func (rw *responseWriter) errorType() string {
	if rw.code != "" {
		return rw.code
	}
	switch {
	case rw.statusCode == http.StatusUnauthorized:
		return "unauthorized"
	case rw.statusCode == http.StatusNotFound:
		return "not_found"
	case rw.statusCode == http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case rw.statusCode >= http.StatusInternalServerError:
		return "server_error"
	default:
		return "client_error"
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}

// Hijack lets websocket upgrades pass through the metrics wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack: %T does not support hijacking", rw.ResponseWriter)
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
