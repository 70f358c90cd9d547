// v0
// internal/telemetry/anomaly.go
package telemetry

import (
	"fmt"
	"math"

	"nrgchamp/telemetry/internal/models"
)

const (
	// MinAnomalySamples is the history required before any reading is judged.
	MinAnomalySamples = 100
	// WarningSigma and CriticalSigma are the deviation multiples that raise alerts.
	WarningSigma  = 3.0
	CriticalSigma = 5.0
)

// CheckForAnomaly classifies r against the current statistics. Callers insert
// r first, so the statistics already include it.
func (s *Store) CheckForAnomaly(r models.Reading) (models.AnomalyAlert, bool) {
	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()

	return Classify(r, stats)
}

// Classify applies the z-score policy to a single reading.
func Classify(r models.Reading, stats models.Statistics) (models.AnomalyAlert, bool) {
	if stats.Count < MinAnomalySamples || stats.StdDev == 0 {
		return models.AnomalyAlert{}, false
	}

	deviation := math.Abs(r.Value - stats.Average)
	if deviation <= WarningSigma*stats.StdDev {
		return models.AnomalyAlert{}, false
	}

	severity := models.SeverityWarning
	if deviation > CriticalSigma*stats.StdDev {
		severity = models.SeverityCritical
	}
	return models.AnomalyAlert{
		Timestamp: r.Timestamp,
		Value:     r.Value,
		Message:   fmt.Sprintf("Value %.2f deviates %.2f standard deviations from mean", r.Value, deviation/stats.StdDev),
		Severity:  severity,
	}, true
}
