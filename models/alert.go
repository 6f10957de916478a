package models

import (
	"fmt"
	"time"
)

// AlertEvent is published to downstream consumers after an alert was delivered.
type AlertEvent struct {
	RunID      string    `json:"run_id"`
	UserID     ID        `json:"user_id"`
	Email      string    `json:"email"`
	DeviceID   ID        `json:"device_id"`
	DeviceName string    `json:"device_name,omitempty"`
	Location   string    `json:"location,omitempty"`
	DustLevel  float64   `json:"dust_level"`
	Threshold  float64   `json:"threshold"`
	Severity   Severity  `json:"severity"`
	MessageID  string    `json:"message_id,omitempty"`
	ObservedAt Timestamp `json:"observed_at"`
	SentAt     time.Time `json:"sent_at"`
}

// Severity grades a PM2.5 concentration.
type Severity string

const (
	SeverityModerate  Severity = "moderate"
	SeverityUnhealthy Severity = "unhealthy"
	SeverityHazardous Severity = "hazardous"
)

// SeverityFor grades a concentration in µg/m³ using the US EPA 24h PM2.5 breakpoints.
func SeverityFor(pm25 float64) Severity {
	switch {
	case pm25 > 150.4:
		return SeverityHazardous
	case pm25 > 55.4:
		return SeverityUnhealthy
	default:
		return SeverityModerate
	}
}

// GetSeverityEmoji returns the marker used in alert subjects.
func (s Severity) GetSeverityEmoji() string {
	switch s {
	case SeverityHazardous:
		return "🟣"
	case SeverityUnhealthy:
		return "🔴"
	default:
		return "🟠"
	}
}

// SendResult is what the notification gateway reports for one message.
// Failures are carried as data so callers never see a raised error.
type SendResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Sent builds a successful result.
func Sent(id string) SendResult {
	return SendResult{Success: true, ID: id}
}

// SendFailed builds a failed result.
func SendFailed(format string, args ...interface{}) SendResult {
	return SendResult{Success: false, Error: fmt.Sprintf(format, args...)}
}
