package services

import (
	"math"
	"strings"
	"testing"

	"mmair/models"
)

func TestEvaluate(t *testing.T) {
	e := NewThresholdEvaluator(DefaultDustThreshold)

	tests := []struct {
		name      string
		pm25      models.Measurement
		threshold float64
		want      Decision
	}{
		{"above", models.Some(40), 25, Alert},
		{"just above", models.Some(25.01), 25, Alert},
		{"equal", models.Some(25), 25, NoAlert},
		{"below", models.Some(10), 25, NoAlert},
		{"zero", models.Some(0), 25, NoAlert},
		{"missing", models.Missing(), 25, NoData},
		{"unparseable", models.ParseMeasurement("n/a"), 25, NoData},
		{"nan", models.ParseMeasurement(math.NaN()), 25, NoData},
		{"numeric string", models.ParseMeasurement("30.5"), 25, Alert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate(tt.pm25, tt.threshold); got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluatePartitionIsTotal(t *testing.T) {
	e := NewThresholdEvaluator(DefaultDustThreshold)
	const threshold = 25.0

	for v := 0.0; v <= 100; v += 0.5 {
		got := e.Evaluate(models.Some(v), threshold)
		want := NoAlert
		if v > threshold {
			want = Alert
		}
		if got != want {
			t.Fatalf("Evaluate(%v) = %v, want %v", v, got, want)
		}
	}
}

func TestThresholdFallsBackToDefault(t *testing.T) {
	tests := []struct {
		name     string
		def      float64
		settings models.NotificationSettings
		want     float64
	}{
		{"stored", 25, models.NotificationSettings{Threshold: models.Some(35)}, 35},
		{"missing", 25, models.NotificationSettings{Threshold: models.Missing()}, 25},
		{"zero", 25, models.NotificationSettings{Threshold: models.Some(0)}, 25},
		{"custom default", 50, models.NotificationSettings{}, 50},
		{"invalid default", -1, models.NotificationSettings{}, DefaultDustThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewThresholdEvaluator(tt.def).Threshold(tt.settings); got != tt.want {
				t.Errorf("Threshold = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecisionString(t *testing.T) {
	for d, want := range map[Decision]string{NoData: "no_data", NoAlert: "no_alert", Alert: "alert"} {
		if got := d.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", d, got, want)
		}
	}
}

func TestDescribe(t *testing.T) {
	e := NewThresholdEvaluator(DefaultDustThreshold)
	msg := e.Describe(models.Device{ID: "d1", Name: "Bedroom"}, 42.3, 25)
	for _, part := range []string{"42.3", "Bedroom", "25.0"} {
		if !strings.Contains(msg, part) {
			t.Errorf("message %q missing %q", msg, part)
		}
	}
}
