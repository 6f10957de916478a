package services

import (
	"context"
	"fmt"
	"time"

	"mmair/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const sweepRunsPath = "sweep-runs"

// HistoryStore reads back recorded sweep summaries.
type HistoryStore interface {
	Recent(ctx context.Context, limit int) ([]models.SweepRun, error)
}

// runWriter stores one sweep run under its run id.
type runWriter interface {
	Put(ctx context.Context, run models.SweepRun) error
}

type rtdbRunWriter struct {
	client *db.Client
}

func (w rtdbRunWriter) Put(ctx context.Context, run models.SweepRun) error {
	return w.client.NewRef(sweepRunsPath).Child(run.RunID).Set(ctx, run)
}

// FirebaseHistory keeps sweep summaries in the Firebase Realtime Database.
type FirebaseHistory struct {
	client     *db.Client
	writer     runWriter
	retryDelay func(attempt int) time.Duration
	logger     *zap.Logger
}

func NewFirebaseHistory(ctx context.Context, databaseURL, serviceAccountJSON string, logger *zap.Logger) (*FirebaseHistory, error) {
	logger = logger.With(zap.String("component", "firebase"))

	conf := &firebase.Config{
		DatabaseURL: databaseURL,
	}

	opt := option.WithCredentialsJSON([]byte(serviceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fh := &FirebaseHistory{
		client:     client,
		writer:     rtdbRunWriter{client: client},
		retryDelay: linearBackoff,
		logger:     logger,
	}

	if err := fh.testConnection(ctx); err != nil {
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fh, nil
}

// testConnection tests Firebase connection with retry logic
func (fh *FirebaseHistory) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var probe interface{}
		err := fh.client.NewRef(sweepRunsPath).OrderByKey().LimitToLast(1).Get(ctx, &probe)
		if err == nil {
			fh.logger.Info("Firebase connection successful")
			return nil
		}

		fh.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

func (fh *FirebaseHistory) Name() string { return "firebase" }

// Report stores the condensed result of a finished sweep.
func (fh *FirebaseHistory) Report(ctx context.Context, result *models.SweepResult) error {
	return fh.Record(ctx, result.Run())
}

// Record writes one run under sweep-runs/<run_id>, retrying transient failures.
func (fh *FirebaseHistory) Record(ctx context.Context, run models.SweepRun) error {
	maxRetries := 3
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = fh.writer.Put(ctx, run)
		if err == nil {
			fh.logger.Debug("Sweep run recorded", zap.String("run_id", run.RunID))
			return nil
		}

		fh.logger.Warn("Failed to record sweep run",
			zap.String("run_id", run.RunID),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fh.retryDelay(attempt)):
			}
		}
	}

	return fmt.Errorf("failed to record sweep run after %d attempts: %w", maxRetries, err)
}

// Recent returns up to limit runs, newest first.
func (fh *FirebaseHistory) Recent(ctx context.Context, limit int) ([]models.SweepRun, error) {
	if limit <= 0 {
		limit = 20
	}

	nodes, err := fh.client.NewRef(sweepRunsPath).
		OrderByChild("started_at").
		LimitToLast(limit).
		GetOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting sweep runs: %w", err)
	}

	runs := make([]models.SweepRun, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		var run models.SweepRun
		if err := nodes[i].Unmarshal(&run); err != nil {
			fh.logger.Warn("Invalid sweep run record",
				zap.String("key", nodes[i].Key()),
				zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Close closes the Firebase connection
func (fh *FirebaseHistory) Close() error {
	fh.logger.Info("Closing Firebase history")
	// Firebase client doesn't require explicit closing but we log it
	return nil
}
