package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mmair/metrics"
	"mmair/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSweepInProgress is returned by Run while another sweep holds the sweeper.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Error stages recorded in models.ErrorEntry.
const (
	StageListUsers        = "list_users"
	StageGetSettings      = "get_notification_settings"
	StageListDevices      = "list_devices"
	StageGetReading       = "get_latest_reading"
	StageHasRecentAlert   = "has_recent_alert"
	StageSendNotification = "send_notification"
	StagePanic            = "panic"
)

const reportTimeout = 30 * time.Second

// SweeperConfig tunes one sweep.
type SweeperConfig struct {
	DedupWindow         time.Duration
	Concurrency         int
	Timeout             time.Duration
	SkipInactiveDevices bool
}

// Sweeper walks users, their devices and latest readings, and e-mails users
// whose devices read above their dust threshold.
type Sweeper struct {
	backend   Backend
	notifier  Notifier
	evaluator *ThresholdEvaluator
	guard     DedupGuard
	publisher EventPublisher
	reporters []SweepReporter
	cfg       SweeperConfig
	logger    *zap.Logger
	now       func() time.Time

	running sync.Mutex

	lastMu sync.RWMutex
	last   *models.SweepResult
}

// SweeperOption configures optional collaborators.
type SweeperOption func(*Sweeper)

// WithDedupGuard adds a local dedup guard consulted after the backend check.
func WithDedupGuard(g DedupGuard) SweeperOption {
	return func(s *Sweeper) { s.guard = g }
}

// WithEventPublisher publishes an event for every delivered alert.
func WithEventPublisher(p EventPublisher) SweeperOption {
	return func(s *Sweeper) { s.publisher = p }
}

// WithReporters adds reporters called after each sweep.
func WithReporters(r ...SweepReporter) SweeperOption {
	return func(s *Sweeper) { s.reporters = append(s.reporters, r...) }
}

func NewSweeper(backend Backend, notifier Notifier, evaluator *ThresholdEvaluator, cfg SweeperConfig, logger *zap.Logger, opts ...SweeperOption) *Sweeper {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	s := &Sweeper{
		backend:   backend,
		notifier:  notifier,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "sweeper")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LastResult returns the most recent finished sweep, or nil before the first one.
func (s *Sweeper) LastResult() *models.SweepResult {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// Run performs one full sweep. Per-user and per-device failures land in the
// result; Run only fails when another sweep is already running.
func (s *Sweeper) Run(ctx context.Context) (*models.SweepResult, error) {
	if !s.running.TryLock() {
		metrics.SweepsTotal.WithLabelValues("skipped_overlap").Inc()
		return nil, ErrSweepInProgress
	}
	defer s.running.Unlock()

	metrics.SweepRunning.Set(1)
	defer metrics.SweepRunning.Set(0)

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	result := models.NewSweepResult(uuid.NewString(), s.now().UTC())
	logger := s.logger.With(zap.String("run_id", result.RunID))
	logger.Info("Starting dust sweep",
		zap.Int("concurrency", s.cfg.Concurrency),
		zap.Duration("dedup_window", s.cfg.DedupWindow))

	status := "completed"
	users, err := s.backend.ListUsers(ctx)
	if err != nil {
		status = "failed"
		s.record(logger, result, failed("", "", StageListUsers, err))
	} else {
		var g errgroup.Group
		g.SetLimit(s.cfg.Concurrency)
		seen := make(map[models.ID]struct{}, len(users))
		for _, user := range users {
			if user.ID.IsZero() {
				s.record(logger, result, skipped("", "", models.SkipMissingUserID))
				continue
			}
			// A user listed twice would race itself past the recent-alert check.
			if _, dup := seen[user.ID]; dup {
				s.record(logger, result, skipped(user.ID, "", models.SkipDuplicateUser))
				continue
			}
			seen[user.ID] = struct{}{}
			g.Go(func() error {
				s.sweepUser(ctx, logger, result, user)
				return nil
			})
		}
		_ = g.Wait()
	}

	result.FinishedAt = s.now().UTC()

	metrics.SweepsTotal.WithLabelValues(status).Inc()
	metrics.SweepDuration.Observe(result.Duration().Seconds())
	metrics.LastSweepTimestamp.Set(float64(result.FinishedAt.Unix()))

	s.lastMu.Lock()
	s.last = result
	s.lastMu.Unlock()

	s.report(ctx, logger, result)
	return result, nil
}

// outcome is what processing one user or device yields: at most one entry.
// The zero value means nothing to record.
type outcome struct {
	alert *models.AlertEntry
	skip  *models.SkipEntry
	err   *models.ErrorEntry
}

func skipped(userID, deviceID models.ID, reason models.SkipReason) outcome {
	return outcome{skip: &models.SkipEntry{UserID: userID, DeviceID: deviceID, Reason: reason}}
}

func failed(userID, deviceID models.ID, stage string, err error) outcome {
	return outcome{err: &models.ErrorEntry{UserID: userID, DeviceID: deviceID, Stage: stage, Error: err.Error()}}
}

func (s *Sweeper) record(logger *zap.Logger, result *models.SweepResult, o outcome) {
	switch {
	case o.alert != nil:
		result.AddAlert(*o.alert)
		metrics.AlertsSent.Inc()
		logger.Info("Dust alert sent",
			zap.String("user_id", o.alert.UserID.String()),
			zap.String("device_id", o.alert.DeviceID.String()),
			zap.Float64("dust_level", o.alert.DustLevel),
			zap.Float64("threshold", o.alert.Threshold),
			zap.Bool("logged", o.alert.Logged))
	case o.skip != nil:
		result.AddSkip(*o.skip)
		metrics.EntriesSkipped.WithLabelValues(string(o.skip.Reason)).Inc()
		logger.Debug("Skipped",
			zap.String("user_id", o.skip.UserID.String()),
			zap.String("device_id", o.skip.DeviceID.String()),
			zap.String("reason", string(o.skip.Reason)))
	case o.err != nil:
		result.AddError(*o.err)
		metrics.SweepErrors.WithLabelValues(o.err.Stage).Inc()
		logger.Warn("Sweep step failed",
			zap.String("user_id", o.err.UserID.String()),
			zap.String("device_id", o.err.DeviceID.String()),
			zap.String("stage", o.err.Stage),
			zap.String("error", o.err.Error))
	}
}

func (s *Sweeper) sweepUser(ctx context.Context, logger *zap.Logger, result *models.SweepResult, user models.User) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("sweeper").Inc()
			s.record(logger, result, failed(user.ID, "", StagePanic, fmt.Errorf("panic: %v", r)))
		}
	}()

	settings, err := s.backend.GetNotificationSettings(ctx, user.ID)
	if err != nil {
		s.record(logger, result, failed(user.ID, "", StageGetSettings, err))
		return
	}
	if settings == nil || !settings.Enabled {
		s.record(logger, result, skipped(user.ID, "", models.SkipNotificationsDisabled))
		return
	}
	threshold := s.evaluator.Threshold(*settings)

	devices, err := s.backend.ListDevices(ctx, user.ID)
	if err != nil {
		s.record(logger, result, failed(user.ID, "", StageListDevices, err))
		return
	}

	for _, device := range devices {
		s.record(logger, result, s.sweepDevice(ctx, logger, result.RunID, user, device, threshold))
	}
}

func (s *Sweeper) sweepDevice(ctx context.Context, logger *zap.Logger, runID string, user models.User, device models.Device, threshold float64) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("sweeper").Inc()
			o = failed(user.ID, device.ID, StagePanic, fmt.Errorf("panic: %v", r))
		}
	}()

	if device.ID.IsZero() {
		return skipped(user.ID, "", models.SkipMissingDeviceID)
	}
	if s.cfg.SkipInactiveDevices && !device.IsActive() {
		return skipped(user.ID, device.ID, models.SkipDeviceInactive)
	}

	reading, err := s.backend.GetLatestReading(ctx, device.ID)
	if errors.Is(err, ErrNoData) {
		metrics.Evaluations.WithLabelValues(NoData.String()).Inc()
		return outcome{}
	}
	if err != nil {
		return failed(user.ID, device.ID, StageGetReading, err)
	}

	decision := s.evaluator.Evaluate(reading.PM25, threshold)
	metrics.Evaluations.WithLabelValues(decision.String()).Inc()
	if decision != Alert {
		return outcome{}
	}
	level := reading.PM25.Value

	recent, err := s.backend.HasRecentAlert(ctx, user.ID, device.ID, s.cfg.DedupWindow)
	if err != nil {
		return failed(user.ID, device.ID, StageHasRecentAlert, err)
	}
	if recent {
		return skipped(user.ID, device.ID, models.SkipRecentlyNotified)
	}
	if s.guard != nil {
		recent, err := s.guard.Recent(ctx, user.ID, device.ID)
		if err != nil {
			logger.Warn("Dedup guard lookup failed",
				zap.String("user_id", user.ID.String()),
				zap.String("device_id", device.ID.String()),
				zap.Error(err))
		} else if recent {
			return skipped(user.ID, device.ID, models.SkipRecentlyNotified)
		}
	}

	subject, body := FormatDustAlert(DustAlert{
		User:      user,
		Device:    device,
		Reading:   *reading,
		DustLevel: level,
		Threshold: threshold,
	})
	sent := s.notifier.Send(ctx, user.Email, subject, body)
	if !sent.Success {
		return failed(user.ID, device.ID, StageSendNotification, errors.New(sent.Error))
	}

	entry := models.AlertEntry{
		UserID:     user.ID,
		Email:      user.Email,
		DeviceID:   device.ID,
		DeviceName: device.Name,
		DustLevel:  level,
		Threshold:  threshold,
		MessageID:  sent.ID,
		SentAt:     s.now().UTC(),
	}

	// The e-mail is out; logging and marking are best-effort from here on.
	if err := s.backend.LogAlert(ctx, user.ID, device.ID, s.evaluator.Describe(device, level, threshold), level); err != nil {
		logger.Warn("Failed to log alert with backend",
			zap.String("user_id", user.ID.String()),
			zap.String("device_id", device.ID.String()),
			zap.Error(err))
	} else {
		entry.Logged = true
	}
	if s.guard != nil {
		if err := s.guard.Mark(ctx, user.ID, device.ID); err != nil {
			logger.Warn("Failed to mark alert in dedup guard",
				zap.String("device_id", device.ID.String()),
				zap.Error(err))
		}
	}
	if s.publisher != nil {
		event := models.AlertEvent{
			RunID:      runID,
			UserID:     user.ID,
			Email:      user.Email,
			DeviceID:   device.ID,
			DeviceName: device.Name,
			Location:   device.Location,
			DustLevel:  level,
			Threshold:  threshold,
			Severity:   models.SeverityFor(level),
			MessageID:  sent.ID,
			ObservedAt: reading.ObservedAt,
			SentAt:     entry.SentAt,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			logger.Debug("Alert event not fully published",
				zap.String("device_id", device.ID.String()),
				zap.Error(err))
		}
	}

	return outcome{alert: &entry}
}

func (s *Sweeper) report(ctx context.Context, logger *zap.Logger, result *models.SweepResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	for _, r := range s.reporters {
		if err := r.Report(ctx, result); err != nil {
			logger.Warn("Sweep reporter failed",
				zap.String("reporter", r.Name()),
				zap.Error(err))
		}
	}
}
