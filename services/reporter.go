package services

import (
	"context"

	"mmair/models"

	"go.uber.org/zap"
)

// SweepReporter receives every finished sweep result.
type SweepReporter interface {
	Name() string
	Report(ctx context.Context, result *models.SweepResult) error
}

// LogReporter writes a one-line summary of each sweep and one line per error entry.
type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger.With(zap.String("component", "sweep_report"))}
}

func (r *LogReporter) Name() string { return "log" }

func (r *LogReporter) Report(_ context.Context, result *models.SweepResult) error {
	summary := result.Summary()
	r.logger.Info("Dust sweep completed",
		zap.String("run_id", result.RunID),
		zap.Int("alerts", summary.Alerts),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", result.Duration()))

	for _, e := range result.Errors() {
		r.logger.Warn("Sweep error",
			zap.String("run_id", result.RunID),
			zap.String("stage", e.Stage),
			zap.String("user_id", e.UserID.String()),
			zap.String("device_id", e.DeviceID.String()),
			zap.String("error", e.Error))
	}
	return nil
}
