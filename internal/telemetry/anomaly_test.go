// v0
// internal/telemetry/anomaly_test.go
package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nrgchamp/telemetry/internal/models"
)

// seedAlternating fills s with n readings alternating 49 and 51, which gives
// an average of 50 and a population standard deviation of 1.
func seedAlternating(s *Store, n int) {
	for i := 0; i < n; i++ {
		v := 49.0
		if i%2 == 1 {
			v = 51.0
		}
		s.AddReading(reading(baseTime.Add(time.Duration(i)*time.Millisecond), v))
	}
}

func TestCheckForAnomalyThresholds(t *testing.T) {
	s := NewStore(1000)
	seedAlternating(s, 200)
	st := s.GetStatistics()
	require.InDelta(t, 50.0, st.Average, 1e-12)
	require.InDelta(t, 1.0, st.StdDev, 1e-9)

	cases := []struct {
		name     string
		sigma    float64
		want     bool
		severity models.Severity
	}{
		{name: "inside band", sigma: 2.9999, want: false},
		{name: "just past warning", sigma: 3.0001, want: true, severity: models.SeverityWarning},
		{name: "below critical", sigma: 4.9999, want: true, severity: models.SeverityWarning},
		{name: "just past critical", sigma: 5.0001, want: true, severity: models.SeverityCritical},
		{name: "negative warning", sigma: -3.0001, want: true, severity: models.SeverityWarning},
		{name: "negative critical", sigma: -5.0001, want: true, severity: models.SeverityCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := reading(baseTime.Add(time.Hour), st.Average+tc.sigma*st.StdDev)
			alert, ok := s.CheckForAnomaly(r)
			require.Equal(t, tc.want, ok)
			if !tc.want {
				require.Equal(t, models.AnomalyAlert{}, alert)
				return
			}
			require.Equal(t, tc.severity, alert.Severity)
			require.Equal(t, r.Timestamp, alert.Timestamp)
			require.Equal(t, r.Value, alert.Value)
			require.Contains(t, alert.Message, "standard deviations from mean")
		})
	}
}

func TestCheckForAnomalyNeedsHistory(t *testing.T) {
	s := NewStore(1000)
	seedAlternating(s, MinAnomalySamples-1)
	require.Greater(t, s.GetStatistics().StdDev, 0.0)

	_, ok := s.CheckForAnomaly(reading(baseTime, 10_000))
	require.False(t, ok)

	s.AddReading(reading(baseTime, 50))
	_, ok = s.CheckForAnomaly(reading(baseTime, 10_000))
	require.True(t, ok)
}

func TestCheckForAnomalyFlatSignal(t *testing.T) {
	s := NewStore(1000)
	for i := 0; i < 150; i++ {
		s.AddReading(reading(baseTime, 20))
	}
	require.Zero(t, s.GetStatistics().StdDev)

	_, ok := s.CheckForAnomaly(reading(baseTime, 500))
	require.False(t, ok)
}

func TestCheckForAnomalyAfterInsertIncludesReading(t *testing.T) {
	s := NewStore(1000)
	seedAlternating(s, 200)

	spike := reading(baseTime.Add(time.Second), 80)
	s.AddReading(spike)
	alert, ok := s.CheckForAnomaly(spike)
	require.True(t, ok)
	require.Equal(t, models.SeverityCritical, alert.Severity)
	require.Equal(t, "Value 80.00 deviates 12.79 standard deviations from mean", alert.Message)
}

func TestClassifyMessageFormat(t *testing.T) {
	stats := models.Statistics{Count: 500, Average: 10, StdDev: 2}
	alert, ok := Classify(reading(baseTime, 17.5), stats)
	require.True(t, ok)
	require.Equal(t, models.SeverityWarning, alert.Severity)
	require.Equal(t, "Value 17.50 deviates 3.75 standard deviations from mean", alert.Message)
}
