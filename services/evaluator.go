package services

import (
	"fmt"

	"mmair/models"
)

// Decision is the outcome of comparing a reading with a threshold.
type Decision int

const (
	NoData Decision = iota
	NoAlert
	Alert
)

func (d Decision) String() string {
	switch d {
	case Alert:
		return "alert"
	case NoAlert:
		return "no_alert"
	default:
		return "no_data"
	}
}

// DefaultDustThreshold is the PM2.5 level (µg/m³) used when a user has none stored.
const DefaultDustThreshold = 25.0

// ThresholdEvaluator decides whether a PM2.5 reading warrants an alert.
type ThresholdEvaluator struct {
	defaultThreshold float64
}

func NewThresholdEvaluator(defaultThreshold float64) *ThresholdEvaluator {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultDustThreshold
	}
	return &ThresholdEvaluator{
		defaultThreshold: defaultThreshold,
	}
}

// Threshold resolves the effective threshold for a user's settings.
func (e *ThresholdEvaluator) Threshold(settings models.NotificationSettings) float64 {
	return settings.EffectiveThreshold(e.defaultThreshold)
}

// Evaluate alerts only when the value is strictly above the threshold.
func (e *ThresholdEvaluator) Evaluate(pm25 models.Measurement, threshold float64) Decision {
	value, err := pm25.Float()
	if err != nil {
		return NoData
	}
	if value > threshold {
		return Alert
	}
	return NoAlert
}

// Describe renders the alert text stored with the backend's notification log.
func (e *ThresholdEvaluator) Describe(device models.Device, pm25, threshold float64) string {
	return fmt.Sprintf("Dust level %.1f μg/m³ on %s exceeds your threshold of %.1f μg/m³", pm25, device.DisplayName(), threshold)
}
