package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"mmair/metrics"
	"mmair/models"

	"go.uber.org/zap"
)

// ErrNoData means the backend has no reading for a device yet.
var ErrNoData = errors.New("no data")

// UpstreamError reports a failed or non-2xx backend call.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Backend is the subset of the REST API the monitoring sweep depends on.
type Backend interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	// GetNotificationSettings returns nil when the user has no settings record.
	GetNotificationSettings(ctx context.Context, userID models.ID) (*models.NotificationSettings, error)
	ListDevices(ctx context.Context, userID models.ID) ([]models.Device, error)
	// GetLatestReading returns ErrNoData when the device has not reported yet.
	GetLatestReading(ctx context.Context, deviceID models.ID) (*models.Reading, error)
	HasRecentAlert(ctx context.Context, userID, deviceID models.ID, window time.Duration) (bool, error)
	LogAlert(ctx context.Context, userID, deviceID models.ID, message string, level float64) error
}

// BackendClient talks to the air-purifier REST API over HTTP.
type BackendClient struct {
	logger     *zap.Logger
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewBackendClient creates a client with a bounded per-call timeout.
func NewBackendClient(logger *zap.Logger, baseURL, token string, timeout time.Duration) *BackendClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BackendClient{
		logger:  logger.With(zap.String("component", "backend_client")),
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListUsers returns every account known to the backend.
func (c *BackendClient) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "list_users"

	body, status, err := c.do(ctx, op, http.MethodGet, "/users", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &UpstreamError{Op: op, StatusCode: status}
	}

	users, err := decodeList[models.User](body, "users", "data", "items")
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	return users, nil
}

type settingsWire struct {
	Enabled              *bool              `json:"enabled"`
	NotificationsEnabled *bool              `json:"notifications_enabled"`
	DustThreshold        models.Measurement `json:"dust_threshold"`
	Threshold            models.Measurement `json:"threshold"`
}

// GetNotificationSettings fetches a user's alert preference.
func (c *BackendClient) GetNotificationSettings(ctx context.Context, userID models.ID) (*models.NotificationSettings, error) {
	const op = "get_notification_settings"

	body, status, err := c.do(ctx, op, http.MethodGet, "/users/"+url.PathEscape(userID.String())+"/notification-settings", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &UpstreamError{Op: op, StatusCode: status}
	}
	if isEmptyPayload(body) {
		return nil, nil
	}

	var wire settingsWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &UpstreamError{Op: op, Err: fmt.Errorf("decode settings: %w", err)}
	}

	settings := &models.NotificationSettings{Threshold: wire.DustThreshold}
	switch {
	case wire.Enabled != nil:
		settings.Enabled = *wire.Enabled
	case wire.NotificationsEnabled != nil:
		settings.Enabled = *wire.NotificationsEnabled
	}
	if !settings.Threshold.Valid {
		settings.Threshold = wire.Threshold
	}
	return settings, nil
}

// ListDevices returns the devices owned by a user. An empty list is valid.
func (c *BackendClient) ListDevices(ctx context.Context, userID models.ID) ([]models.Device, error) {
	const op = "list_devices"

	body, status, err := c.do(ctx, op, http.MethodGet, "/users/"+url.PathEscape(userID.String())+"/devices", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []models.Device{}, nil
	}
	if status != http.StatusOK {
		return nil, &UpstreamError{Op: op, StatusCode: status}
	}
	if isEmptyPayload(body) {
		return []models.Device{}, nil
	}

	devices, err := decodeList[models.Device](body, "devices", "data", "items")
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	for i := range devices {
		if devices[i].UserID.IsZero() {
			devices[i].UserID = userID
		}
	}
	return devices, nil
}

type readingWire struct {
	models.Reading
	PM2_5     models.Measurement `json:"pm2_5"`
	DustLevel models.Measurement `json:"dust_level"`
	CreatedAt models.Timestamp   `json:"created_at"`
}

// GetLatestReading fetches the most recent sample of a device.
func (c *BackendClient) GetLatestReading(ctx context.Context, deviceID models.ID) (*models.Reading, error) {
	const op = "get_latest_reading"

	body, status, err := c.do(ctx, op, http.MethodGet, "/devices/"+url.PathEscape(deviceID.String())+"/dust/latest", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return nil, ErrNoData
	}
	if status != http.StatusOK {
		return nil, &UpstreamError{Op: op, StatusCode: status}
	}
	if isEmptyPayload(body) {
		return nil, ErrNoData
	}

	var wire readingWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &UpstreamError{Op: op, Err: fmt.Errorf("decode reading: %w", err)}
	}

	reading := wire.Reading
	if !reading.PM25.Valid {
		reading.PM25 = wire.PM2_5
	}
	if !reading.PM25.Valid {
		reading.PM25 = wire.DustLevel
	}
	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = wire.CreatedAt
	}
	if reading.DeviceID.IsZero() {
		reading.DeviceID = deviceID
	}
	return &reading, nil
}

type recentWire struct {
	Recent   *bool `json:"recent"`
	Exists   *bool `json:"exists"`
	Notified *bool `json:"notified"`
	Count    *int  `json:"count"`
}

// HasRecentAlert asks whether an alert was logged for the pair within window.
// The backend takes the window in whole hours.
func (c *BackendClient) HasRecentAlert(ctx context.Context, userID, deviceID models.ID, window time.Duration) (bool, error) {
	const op = "has_recent_alert"

	q := url.Values{}
	q.Set("user_id", userID.String())
	q.Set("device_id", deviceID.String())
	q.Set("hours", strconv.Itoa(windowHours(window)))

	body, status, err := c.do(ctx, op, http.MethodGet, "/notifications/recent?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	if status != http.StatusOK {
		return false, &UpstreamError{Op: op, StatusCode: status}
	}
	if isEmptyPayload(body) {
		return false, nil
	}

	// Either a list of records or a flag object.
	var records []models.AlertRecord
	if err := json.Unmarshal(body, &records); err == nil {
		return len(records) > 0, nil
	}

	var wire recentWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return false, &UpstreamError{Op: op, Err: fmt.Errorf("decode recent alert: %w", err)}
	}
	switch {
	case wire.Recent != nil:
		return *wire.Recent, nil
	case wire.Exists != nil:
		return *wire.Exists, nil
	case wire.Notified != nil:
		return *wire.Notified, nil
	case wire.Count != nil:
		return *wire.Count > 0, nil
	}
	return false, &UpstreamError{Op: op, Err: errors.New("unrecognized recent alert payload")}
}

type logAlertPayload struct {
	UserID    string  `json:"user_id"`
	DeviceID  string  `json:"device_id"`
	Message   string  `json:"message"`
	DustLevel float64 `json:"dust_level"`
	Type      string  `json:"type"`
}

// LogAlert records a delivered alert with the backend.
func (c *BackendClient) LogAlert(ctx context.Context, userID, deviceID models.ID, message string, level float64) error {
	const op = "log_alert"

	payload, err := json.Marshal(logAlertPayload{
		UserID:    userID.String(),
		DeviceID:  deviceID.String(),
		Message:   message,
		DustLevel: level,
		Type:      "dust_alert",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, status, err := c.do(ctx, op, http.MethodPost, "/notifications/log", payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &UpstreamError{Op: op, StatusCode: status}
	}
	return nil
}

// do performs one request under the client timeout and returns the body and status.
func (c *BackendClient) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, &UpstreamError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "MMAIR-Dust-Monitor/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamRequestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		c.logger.Debug("Backend request failed",
			zap.String("operation", op),
			zap.String("url", endpoint),
			zap.Error(err))
		return nil, 0, &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	duration := time.Since(start)
	metrics.UpstreamRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(duration.Seconds())
	if err != nil {
		return nil, resp.StatusCode, &UpstreamError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("Backend request completed",
		zap.String("operation", op),
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", duration))

	return body, resp.StatusCode, nil
}

// decodeList accepts a bare JSON array or an object wrapping it under one of keys.
func decodeList[T any](body []byte, keys ...string) ([]T, error) {
	if isEmptyPayload(body) {
		return []T{}, nil
	}

	var list []T
	if err := json.Unmarshal(body, &list); err == nil {
		if list == nil {
			list = []T{}
		}
		return list, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("invalid JSON format: expected array or object")
	}
	for _, key := range keys {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		if list == nil {
			list = []T{}
		}
		return list, nil
	}
	return nil, fmt.Errorf("invalid JSON format: no list under %v", keys)
}

func isEmptyPayload(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 ||
		bytes.Equal(trimmed, []byte("null")) ||
		bytes.Equal(trimmed, []byte("{}"))
}

// windowHours rounds a dedup window up to whole hours, at least one.
func windowHours(window time.Duration) int {
	hours := int(math.Ceil(window.Hours()))
	if hours < 1 {
		return 1
	}
	return hours
}
