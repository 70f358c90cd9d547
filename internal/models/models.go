// v0
// internal/models/models.go
package models

import "time"

// DefaultSensorID identifies the single logical stream handled by the service.
const DefaultSensorID = "SENSOR-001"

// Reading is one timestamped scalar observation from the sensor stream.
// Values are copied into the store; callers never share them by pointer.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	SensorID  string    `json:"sensorId"`
}

// Statistics is the derived snapshot of the live readings held by the store.
type Statistics struct {
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Average    float64   `json:"average"`
	StdDev     float64   `json:"stdDev"`
	Count      int       `json:"count"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Severity grades an anomaly alert.
type Severity string

const (
	SeverityWarning  Severity = "Warning"
	SeverityCritical Severity = "Critical"
)

// AnomalyAlert is produced when a reading deviates too far from the running mean.
type AnomalyAlert struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
}
