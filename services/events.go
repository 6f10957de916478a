package services

import (
	"context"
	"errors"

	"mmair/metrics"
	"mmair/models"

	"go.uber.org/zap"
)

// EventPublisher forwards delivered alerts to downstream consumers.
type EventPublisher interface {
	Name() string
	Publish(ctx context.Context, event models.AlertEvent) error
	Close() error
}

// MultiPublisher fans an event out to every configured sink. A failing sink
// does not stop the others.
type MultiPublisher struct {
	sinks  []EventPublisher
	logger *zap.Logger
}

func NewMultiPublisher(logger *zap.Logger, sinks ...EventPublisher) *MultiPublisher {
	return &MultiPublisher{
		sinks:  sinks,
		logger: logger.With(zap.String("component", "event_publisher")),
	}
}

func (m *MultiPublisher) Name() string { return "multi" }

// Len reports the number of configured sinks.
func (m *MultiPublisher) Len() int { return len(m.sinks) }

func (m *MultiPublisher) Publish(ctx context.Context, event models.AlertEvent) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			metrics.EventsPublished.WithLabelValues(sink.Name(), "failed").Inc()
			m.logger.Warn("Failed to publish alert event",
				zap.String("sink", sink.Name()),
				zap.String("device_id", event.DeviceID.String()),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		metrics.EventsPublished.WithLabelValues(sink.Name(), "success").Inc()
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
