package models

import (
	"encoding/json"
	"sync"
	"time"
)

// SkipReason tags why a user or device produced no alert.
type SkipReason string

const (
	SkipNotificationsDisabled SkipReason = "notifications_disabled"
	SkipRecentlyNotified      SkipReason = "recently_notified"
	SkipMissingUserID         SkipReason = "missing_user_id"
	SkipMissingDeviceID       SkipReason = "missing_device_id"
	SkipDeviceInactive        SkipReason = "device_inactive"
	SkipDuplicateUser         SkipReason = "duplicate_user"
)

// AlertEntry is an alert that was delivered during a sweep.
type AlertEntry struct {
	UserID     ID        `json:"user_id"`
	Email      string    `json:"email"`
	DeviceID   ID        `json:"device_id"`
	DeviceName string    `json:"device_name,omitempty"`
	DustLevel  float64   `json:"dust_level"`
	Threshold  float64   `json:"threshold"`
	MessageID  string    `json:"message_id,omitempty"`
	Logged     bool      `json:"logged"`
	SentAt     time.Time `json:"sent_at"`
}

// SkipEntry is a user or device that was deliberately not alerted.
type SkipEntry struct {
	UserID   ID         `json:"user_id,omitempty"`
	DeviceID ID         `json:"device_id,omitempty"`
	Reason   SkipReason `json:"reason"`
}

// ErrorEntry is a failure isolated to one user or device.
type ErrorEntry struct {
	UserID   ID     `json:"user_id,omitempty"`
	DeviceID ID     `json:"device_id,omitempty"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}

// SweepSummary holds the sizes of the three result lists.
type SweepSummary struct {
	Alerts  int `json:"alerts"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// SweepResult accumulates the outcome of one sweep. Appends are safe for
// concurrent use; readers should wait until the sweep has finished.
type SweepResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	mu      sync.Mutex
	alerts  []AlertEntry
	skipped []SkipEntry
	errors  []ErrorEntry
}

// NewSweepResult starts an empty result.
func NewSweepResult(runID string, startedAt time.Time) *SweepResult {
	return &SweepResult{
		RunID:     runID,
		StartedAt: startedAt,
		alerts:    make([]AlertEntry, 0),
		skipped:   make([]SkipEntry, 0),
		errors:    make([]ErrorEntry, 0),
	}
}

func (r *SweepResult) AddAlert(e AlertEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, e)
}

func (r *SweepResult) AddSkip(e SkipEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, e)
}

func (r *SweepResult) AddError(e ErrorEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, e)
}

// Alerts returns a copy of the alert list.
func (r *SweepResult) Alerts() []AlertEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlertEntry(nil), r.alerts...)
}

// Skipped returns a copy of the skip list.
func (r *SweepResult) Skipped() []SkipEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SkipEntry(nil), r.skipped...)
}

// Errors returns a copy of the error list.
func (r *SweepResult) Errors() []ErrorEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEntry(nil), r.errors...)
}

// Summary derives counts from the lists so they can never disagree.
func (r *SweepResult) Summary() SweepSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return SweepSummary{
		Alerts:  len(r.alerts),
		Skipped: len(r.skipped),
		Errors:  len(r.errors),
	}
}

// Duration is the wall time of a finished sweep.
func (r *SweepResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

type sweepResultJSON struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	DurationMs int64        `json:"duration_ms"`
	Summary    SweepSummary `json:"summary"`
	Alerts     []AlertEntry `json:"alerts"`
	Skipped    []SkipEntry  `json:"skipped"`
	Errors     []ErrorEntry `json:"errors"`
}

func (r *SweepResult) MarshalJSON() ([]byte, error) {
	alerts, skipped, errs := r.Alerts(), r.Skipped(), r.Errors()
	return json.Marshal(sweepResultJSON{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
		Summary: SweepSummary{
			Alerts:  len(alerts),
			Skipped: len(skipped),
			Errors:  len(errs),
		},
		Alerts:  nonNil(alerts),
		Skipped: nonNil(skipped),
		Errors:  nonNil(errs),
	})
}

func (r *SweepResult) UnmarshalJSON(data []byte) error {
	var raw sweepResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RunID = raw.RunID
	r.StartedAt = raw.StartedAt
	r.FinishedAt = raw.FinishedAt
	r.alerts = nonNil(raw.Alerts)
	r.skipped = nonNil(raw.Skipped)
	r.errors = nonNil(raw.Errors)
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// SweepRun is the compact record kept in the run history.
type SweepRun struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	DurationMs int64        `json:"duration_ms"`
	Summary    SweepSummary `json:"summary"`
	Errors     []ErrorEntry `json:"errors,omitempty"`
}

// Run condenses the result for history storage.
func (r *SweepResult) Run() SweepRun {
	errs := r.Errors()
	return SweepRun{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
		Summary:    r.Summary(),
		Errors:     errs,
	}
}
