package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gorilla/mux"

	"github.com/example/drivuber/internal/observability"
)

type contextKey string

const (
	requestIDKey contextKey = "request-id"
	clientIDKey  contextKey = "client-id"
)

const (
	maxHeaderIDLen = 128
	slowRequest    = 2 * time.Second
	unmatchedRoute = "unmatched"
)

func (s *Server) registerMiddleware() {
	s.mux.Use(s.recoverMiddleware)
	s.mux.Use(s.requestIDMiddleware)
	s.mux.Use(s.clientMiddleware)
	s.mux.Use(s.observabilityMiddleware)
}

// requestIDMiddleware keeps a caller's X-Request-ID when it is safe to log
// and mints one otherwise. The id is echoed on the response.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if !validHeaderID(reqID) {
			reqID = newID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientMiddleware resolves which browser profile the request acts for.
// Requests naming no profile share the anonymous one.
func (s *Server) clientMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(clientIDHeader))
		if id == "" {
			id = strings.TrimSpace(r.URL.Query().Get("client_id"))
		}
		if id == "" {
			id = anonymousClient
		}
		if !validHeaderID(id) {
			writeError(w, http.StatusBadRequest, "invalid client id")
			return
		}
		ctx := context.WithValue(r.Context(), clientIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		route := routeTemplate(r)
		status := strconv.Itoa(ww.status)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(elapsed.Seconds())

		args := []any{
			"method", r.Method,
			"route", route,
			"status", ww.status,
			"bytes", ww.bytes,
			"duration_ms", elapsed.Milliseconds(),
			"remote_addr", remoteIP(r),
			"client_id", clientID(r),
		}
		if id := mux.Vars(r)["id"]; id != "" {
			args = append(args, resourceKey(route), id)
		}
		if ww.upgraded {
			args = append(args, "upgraded", true)
		}
		if rid := requestIDFromContext(r.Context()); rid != "" {
			args = append(args, "request_id", rid)
		}
		switch {
		case ww.status >= http.StatusInternalServerError:
			s.logger.Error("http_request", args...)
		case elapsed > slowRequest && !ww.upgraded:
			s.logger.Warn("http_request", args...)
		default:
			s.logger.Info("http_request", args...)
		}
	})
}

// recoverMiddleware turns a handler panic into the API's JSON error shape,
// unless the handler had already started its response.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "error", rec, "route", routeTemplate(r),
					"request_id", w.Header().Get("X-Request-ID"))
				observability.CapturePanic(rec)
				if !ww.wroteHeader && !ww.upgraded {
					writeError(ww, http.StatusInternalServerError, "Something went wrong. Please try again.")
				}
			}
		}()
		next.ServeHTTP(ww, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
	upgraded    bool
}

func (r *responseWriter) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status, r.wroteHeader = code, true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriter) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Hijack lets the chat websocket upgrade pass through the middleware chain.
func (r *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		r.status, r.upgraded = http.StatusSwitchingProtocols, true
	}
	return conn, rw, err
}

func requestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// clientID is the profile the request acts for, as resolved by
// clientMiddleware.
func clientID(r *http.Request) string {
	if v, ok := r.Context().Value(clientIDKey).(string); ok {
		return v
	}
	return anonymousClient
}

// routeTemplate labels metrics by mux template so trip and booking ids
// never become label values.
func routeTemplate(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return unmatchedRoute
}

// resourceKey names the {id} path variable after what the route addresses.
func resourceKey(route string) string {
	switch {
	case strings.HasPrefix(route, "/api/v1/trips/"):
		return "trip_id"
	case strings.HasPrefix(route, "/api/v1/booked-rides/"):
		return "booking_id"
	}
	return "resource_id"
}

func validHeaderID(id string) bool {
	if id == "" || len(id) > maxHeaderIDLen {
		return false
	}
	for _, c := range id {
		if unicode.IsControl(c) || unicode.IsSpace(c) {
			return false
		}
	}
	return true
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
