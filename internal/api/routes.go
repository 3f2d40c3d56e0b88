package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Routes struct {
	Router *mux.Router

	apiRoutePrefix string
	apiVersion     string
	opsRoutePrefix string

	auth func(http.Handler) http.Handler
	log  zerolog.Logger
}

// RouteOptions wires the pieces the router needs besides the REST handler.
type RouteOptions struct {
	// Auth authenticates every API and WebSocket route.
	Auth func(http.Handler) http.Handler
	// WebSocket serves GET /ws.
	WebSocket http.Handler
	// Gatherer is exposed on /ops/metrics.
	Gatherer prometheus.Gatherer
}

func (r *Routes) registerOpsRoute(method, route string, handler http.Handler) *Routes {
	completeRoute := "/" + r.opsRoutePrefix + route

	r.log.Debug().Str("method", method).Str("route", completeRoute).Msg("route")

	r.Router.Handle(completeRoute, handler).Methods(method)
	return r
}

func (r *Routes) registerApiRoute(method, route string, handler func(http.ResponseWriter, *http.Request)) *Routes {
	completeRoute := "/" + r.apiRoutePrefix + "/" + r.apiVersion + route

	r.log.Debug().Str("method", method).Str("route", completeRoute).Msg("route")

	r.Router.Handle(completeRoute, r.auth(http.HandlerFunc(handler))).Methods(method)
	return r
}

func NewRoutes(h *Handler, opts RouteOptions, log zerolog.Logger) *Routes {
	routes := &Routes{
		Router:         mux.NewRouter(),
		apiRoutePrefix: "api",
		apiVersion:     "v0",
		opsRoutePrefix: "ops",
		auth:           opts.Auth,
		log:            log.With().Str("component", "routes").Logger(),
	}

	routes.
		registerOpsRoute("GET", "/health", http.HandlerFunc(h.HealthCheck)).
		registerOpsRoute("GET", "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).
		registerApiRoute("GET", "/topics", h.ListTopics).
		registerApiRoute("POST", "/topics", h.CreateTopic).
		registerApiRoute("GET", "/topics/{topicId}", h.GetTopic).
		registerApiRoute("PATCH", "/topics/{topicId}", h.UpdateTopic).
		registerApiRoute("DELETE", "/topics/{topicId}", h.DeleteTopic).
		registerApiRoute("GET", "/topics/{topicId}/presence", h.TopicPresence).
		registerApiRoute("GET", "/topics/{topicId}/messages", h.ListMessages).
		registerApiRoute("POST", "/topics/{topicId}/messages", h.AppendMessage).
		registerApiRoute("POST", "/attachments", h.UploadAttachment).
		registerApiRoute("GET", "/attachments/{ref}", h.GetAttachment)

	if opts.WebSocket != nil {
		routes.Router.Handle("/ws", opts.Auth(opts.WebSocket)).Methods("GET")
	}

	routes.Router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	routes.Router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return routes
}

// HTTPMetrics counts served requests.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forum",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forum",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

// Wrap adds panic recovery, CORS and access logging around the router.
func (r *Routes) Wrap(allowedOrigins []string, metrics *HTTPMetrics) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	var h http.Handler = r.Router
	h = handlers.CustomLoggingHandler(io.Discard, h, func(_ io.Writer, p handlers.LogFormatterParams) {
		elapsed := time.Since(p.TimeStamp)
		if metrics != nil {
			metrics.requests.WithLabelValues(p.Request.Method, strconv.Itoa(p.StatusCode)).Inc()
			metrics.duration.WithLabelValues(p.Request.Method).Observe(elapsed.Seconds())
		}
		r.log.Debug().
			Str("method", p.Request.Method).
			Str("path", p.URL.Path).
			Int("status", p.StatusCode).
			Int("size", p.Size).
			Dur("elapsed", elapsed).
			Msg("request")
	})
	h = handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{r.log}), handlers.PrintRecoveryStack(false))(h)
	return h
}

// recoveryLogger routes recovered panics into zerolog.
type recoveryLogger struct {
	log zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Interface("panic", v).Msg("recovered from panic")
}
