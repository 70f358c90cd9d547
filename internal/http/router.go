// v0
// internal/http/router.go
package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"nrgchamp/telemetry/internal/metrics"
	"nrgchamp/telemetry/internal/models"
)

// DefaultRecentLimit caps /api/recent when no limit is configured.
const DefaultRecentLimit = 1000

// DataSource is the read side of the reading store.
type DataSource interface {
	GetRecentReadings(limit int) []models.Reading
	GetStatistics() models.Statistics
}

// Options collects what the router needs. Hub and Metrics may be nil.
type Options struct {
	Logger      *slog.Logger
	Health      *HealthState
	Data        DataSource
	Hub         http.Handler
	Metrics     *metrics.Metrics
	RecentLimit int
	CORSOrigins []string
}

// NewRouter registers every route of the dashboard API.
func NewRouter(opts Options) (*mux.Router, error) {
	if opts.Logger == nil {
		return nil, errors.New("router requires a logger")
	}
	if opts.Data == nil {
		return nil, errors.New("router requires a data source")
	}
	if opts.Health == nil {
		opts.Health = NewHealthState()
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = DefaultRecentLimit
	}

	r := mux.NewRouter()
	get := func(path, route string, h http.Handler) {
		r.Handle(path, opts.Metrics.WrapHandler(route, h)).Methods(http.MethodGet)
	}

	get("/", "root", rootHandler())
	get("/api/stats", "stats", statisticsHandler(opts.Logger, opts.Data))
	get("/api/recent", "recent", recentHandler(opts.Logger, opts.Data, opts.RecentLimit))
	get("/health", "health", healthLiveHandler())
	get("/health/live", "health_live", healthLiveHandler())
	get("/health/ready", "health_ready", healthReadyHandler(opts.Health))
	r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	if opts.Hub != nil {
		get("/sensorhub", "sensorhub", opts.Hub)
	}

	r.NotFoundHandler = textHandler(http.StatusNotFound, "not found")
	r.MethodNotAllowedHandler = textHandler(http.StatusMethodNotAllowed, "method not allowed")
	return r, nil
}

// NewHandler wraps the router with CORS, panic recovery and access logging.
// An empty origin list or "*" admits any origin.
func NewHandler(opts Options) (http.Handler, error) {
	router, err := NewRouter(opts)
	if err != nil {
		return nil, err
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Requested-With"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(opts.Logger.Handler(), slog.LevelError)),
	)
	return WrapWithLogging(opts.Logger, recovery(cors(router))), nil
}

func healthLiveHandler() http.Handler {
	return textHandler(http.StatusOK, "OK")
}

func healthReadyHandler(health *HealthState) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !health.Ready() {
			textHandler(http.StatusServiceUnavailable, "NOT_READY").ServeHTTP(w, r)
			return
		}
		textHandler(http.StatusOK, "OK").ServeHTTP(w, r)
	})
}

func textHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}
