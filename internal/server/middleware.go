package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

const timeoutMessage = "request timed out"

// timeoutBody is the JSON body http.TimeoutHandler writes when an
// analytics handler overruns the write timeout.
var timeoutBody = func() string {
	b, _ := json.Marshal(errorBody{Error: timeoutMessage})
	return string(b)
}()

// withTimeout bounds h by the configured write timeout and makes
// the 503 it produces on expiry a JSON response. A non-positive
// timeout leaves h unbounded.
func (s *Server) withTimeout(h http.HandlerFunc) http.Handler {
	inner := h
	if delay := s.handlerDelay; delay > 0 {
		inner = func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(delay)
			h(w, r)
		}
	}
	if s.cfg.WriteTimeout <= 0 {
		return inner
	}

	th := http.TimeoutHandler(inner, s.cfg.WriteTimeout, timeoutBody)
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			th.ServeHTTP(&timeoutJSONWriter{ResponseWriter: w}, r)
		},
	)
}

// timeoutJSONWriter labels a 503 as application/json unless the
// handler already chose a content type.
type timeoutJSONWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *timeoutJSONWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	h := w.ResponseWriter.Header()
	if code == http.StatusServiceUnavailable && h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	w.ResponseWriter.WriteHeader(code)
	w.wroteHeader = true
}

func (w *timeoutJSONWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// corsMiddleware lets a dashboard served from another origin
// call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAPIPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logMiddleware logs each API request with its status and
// duration once the handler returns.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAPIPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path,
			rec.status, time.Since(start).Round(time.Millisecond))
	})
}

func isAPIPath(p string) bool {
	return strings.HasPrefix(p, "/api/")
}

// statusRecorder captures the response status. It forwards
// Flush so refresh progress still streams through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
