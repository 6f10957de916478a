package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mmair/models"
)

type loggedAlert struct {
	userID   models.ID
	deviceID models.ID
	message  string
	level    float64
}

// fakeBackend answers from in-memory maps. HasRecentAlert reports pairs that
// LogAlert has recorded, like the real notification log.
type fakeBackend struct {
	mu sync.Mutex

	users       []models.User
	usersErr    error
	settings    map[models.ID]*models.NotificationSettings
	settingsErr map[models.ID]error
	devices     map[models.ID][]models.Device
	devicesErr  map[models.ID]error
	readings    map[models.ID]float64
	readingErr  map[models.ID]error
	panicOn     map[models.ID]bool
	recentErr   error
	logErr      error

	listUsersHook func()

	logged        []loggedAlert
	readingCalls  map[models.ID]int
	recentWindows []time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		settings:     make(map[models.ID]*models.NotificationSettings),
		settingsErr:  make(map[models.ID]error),
		devices:      make(map[models.ID][]models.Device),
		devicesErr:   make(map[models.ID]error),
		readings:     make(map[models.ID]float64),
		readingErr:   make(map[models.ID]error),
		panicOn:      make(map[models.ID]bool),
		readingCalls: make(map[models.ID]int),
	}
}

// addUser registers an enabled user with the given threshold and devices.
func (b *fakeBackend) addUser(id string, threshold float64, devices ...string) {
	uid := models.ID(id)
	b.users = append(b.users, models.User{ID: uid, Email: id + "@example.com", Name: "User " + id})
	b.settings[uid] = &models.NotificationSettings{Enabled: true, Threshold: models.Some(threshold)}
	for _, d := range devices {
		b.devices[uid] = append(b.devices[uid], models.Device{ID: models.ID(d), UserID: uid, Name: "Purifier " + d})
	}
}

func (b *fakeBackend) ListUsers(ctx context.Context) ([]models.User, error) {
	if b.listUsersHook != nil {
		b.listUsersHook()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.usersErr != nil {
		return nil, b.usersErr
	}
	return append([]models.User(nil), b.users...), nil
}

func (b *fakeBackend) GetNotificationSettings(ctx context.Context, userID models.ID) (*models.NotificationSettings, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.settingsErr[userID]; err != nil {
		return nil, err
	}
	return b.settings[userID], nil
}

func (b *fakeBackend) ListDevices(ctx context.Context, userID models.ID) ([]models.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.devicesErr[userID]; err != nil {
		return nil, err
	}
	return append([]models.Device(nil), b.devices[userID]...), nil
}

func (b *fakeBackend) GetLatestReading(ctx context.Context, deviceID models.ID) (*models.Reading, error) {
	b.mu.Lock()
	b.readingCalls[deviceID]++
	shouldPanic := b.panicOn[deviceID]
	err := b.readingErr[deviceID]
	value, ok := b.readings[deviceID]
	b.mu.Unlock()

	if shouldPanic {
		panic("sensor payload exploded")
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoData
	}
	return &models.Reading{
		DeviceID:   deviceID,
		PM25:       models.Some(value),
		ObservedAt: models.Timestamp{Time: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
	}, nil
}

func (b *fakeBackend) HasRecentAlert(ctx context.Context, userID, deviceID models.ID, window time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentWindows = append(b.recentWindows, window)
	if b.recentErr != nil {
		return false, b.recentErr
	}
	for _, l := range b.logged {
		if l.userID == userID && l.deviceID == deviceID {
			return true, nil
		}
	}
	return false, nil
}

func (b *fakeBackend) LogAlert(ctx context.Context, userID, deviceID models.ID, message string, level float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.logErr != nil {
		return b.logErr
	}
	b.logged = append(b.logged, loggedAlert{userID: userID, deviceID: deviceID, message: message, level: level})
	return nil
}

func (b *fakeBackend) loggedFor(deviceID models.ID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, l := range b.logged {
		if l.deviceID == deviceID {
			n++
		}
	}
	return n
}

type sentMail struct {
	recipient string
	subject   string
	body      string
}

// fakeNotifier fails for recipients listed in failFor. delay holds each send
// open so concurrent sweeps overlap.
type fakeNotifier struct {
	mu      sync.Mutex
	failFor map[string]bool
	delay   time.Duration
	sent    []sentMail
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failFor: make(map[string]bool)}
}

func (n *fakeNotifier) Send(ctx context.Context, recipient, subject, body string) models.SendResult {
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[recipient] {
		return models.SendFailed("smtp: 535 authentication failed")
	}
	n.sent = append(n.sent, sentMail{recipient: recipient, subject: subject, body: body})
	return models.Sent(fmt.Sprintf("msg-%d", len(n.sent)))
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakePublisher struct {
	name   string
	err    error
	mu     sync.Mutex
	events []models.AlertEvent
	closed bool
}

func (p *fakePublisher) Name() string { return p.name }

func (p *fakePublisher) Publish(ctx context.Context, event models.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeReporter struct {
	mu      sync.Mutex
	results []*models.SweepResult
	err     error
}

func (r *fakeReporter) Name() string { return "fake" }

func (r *fakeReporter) Report(ctx context.Context, result *models.SweepResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return r.err
}

var errBoom = errors.New("boom")
