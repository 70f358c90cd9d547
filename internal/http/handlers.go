// v0
// internal/http/handlers.go
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

const bannerText = "Sensor Dashboard API is running"

func rootHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(bannerText))
	})
}

func statisticsHandler(logger *slog.Logger, src DataSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(logger, w, http.StatusOK, src.GetStatistics())
	})
}

// recentHandler serves the newest readings, oldest first. limit defaults
// to ceiling and is clamped to [0, ceiling].
func recentHandler(logger *slog.Logger, src DataSource, ceiling int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := ceiling
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				logger.Warn("recent_invalid_limit", slog.String("limit", raw))
				writeJSON(logger, w, http.StatusBadRequest, errorBody{Error: "limit must be an integer"})
				return
			}
			limit = min(max(parsed, 0), ceiling)
		}
		writeJSON(logger, w, http.StatusOK, src.GetRecentReadings(limit))
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("response_encode_failed", slog.Any("err", err))
	}
}
