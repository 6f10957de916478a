package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mmair/models"

	"go.uber.org/zap/zaptest"
)

// newTestBackend serves routes keyed by "METHOD /path" and fails on anything else.
func newTestBackend(t *testing.T, routes map[string]http.HandlerFunc) *BackendClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		h, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewBackendClient(zaptest.NewLogger(t), srv.URL, "secret", 2*time.Second)
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestListUsers(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare array", `[{"id":1,"email":"a@example.com"},{"id":"u2","email":"b@example.com","name":"Bee"}]`},
		{"wrapped", `{"users":[{"id":1,"email":"a@example.com"},{"id":"u2","email":"b@example.com","name":"Bee"}]}`},
		{"data key", `{"data":[{"id":1,"email":"a@example.com"},{"id":"u2","email":"b@example.com","name":"Bee"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestBackend(t, map[string]http.HandlerFunc{"GET /users": respond(200, tt.body)})

			users, err := c.ListUsers(context.Background())
			if err != nil {
				t.Fatalf("ListUsers: %v", err)
			}
			if len(users) != 2 {
				t.Fatalf("got %d users", len(users))
			}
			if users[0].ID != "1" || users[1].ID != "u2" || users[1].Name != "Bee" {
				t.Errorf("users = %+v", users)
			}
		})
	}
}

func TestListUsersUpstreamError(t *testing.T) {
	c := newTestBackend(t, map[string]http.HandlerFunc{"GET /users": respond(503, `{"detail":"down"}`)})

	_, err := c.ListUsers(context.Background())
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if upErr.Op != "list_users" || upErr.StatusCode != 503 {
		t.Errorf("UpstreamError = %+v", upErr)
	}
}

func TestGetNotificationSettings(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantNil   bool
		enabled   bool
		threshold float64
		valid     bool
	}{
		{"not found", respond(404, `{"detail":"no settings"}`), true, false, 0, false},
		{"null", respond(200, `null`), true, false, 0, false},
		{"canonical", respond(200, `{"enabled":true,"dust_threshold":35}`), false, true, 35, true},
		{"alternate keys", respond(200, `{"notifications_enabled":true,"threshold":"30"}`), false, true, 30, true},
		{"disabled no threshold", respond(200, `{"enabled":false,"dust_threshold":null}`), false, false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestBackend(t, map[string]http.HandlerFunc{"GET /users/7/notification-settings": tt.handler})

			s, err := c.GetNotificationSettings(context.Background(), "7")
			if err != nil {
				t.Fatalf("GetNotificationSettings: %v", err)
			}
			if tt.wantNil {
				if s != nil {
					t.Fatalf("settings = %+v, want nil", s)
				}
				return
			}
			if s == nil {
				t.Fatal("settings = nil")
			}
			if s.Enabled != tt.enabled || s.Threshold.Valid != tt.valid || (tt.valid && s.Threshold.Value != tt.threshold) {
				t.Errorf("settings = %+v", s)
			}
		})
	}
}

func TestListDevices(t *testing.T) {
	c := newTestBackend(t, map[string]http.HandlerFunc{
		"GET /users/7/devices": respond(200, `{"devices":[{"id":"d1","name":"Living room","is_active":false},{"id":42}]}`),
		"GET /users/8/devices": respond(404, ``),
	})

	devices, err := c.ListDevices(context.Background(), "7")
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices", len(devices))
	}
	if devices[0].UserID != "7" || devices[1].UserID != "7" {
		t.Errorf("owner not filled: %+v", devices)
	}
	if devices[0].IsActive() || !devices[1].IsActive() {
		t.Errorf("active flags = %v/%v", devices[0].IsActive(), devices[1].IsActive())
	}
	if devices[1].ID != "42" || devices[1].DisplayName() != "42" {
		t.Errorf("device = %+v", devices[1])
	}

	none, err := c.ListDevices(context.Background(), "8")
	if err != nil || len(none) != 0 {
		t.Errorf("ListDevices(404) = %v, %v", none, err)
	}
}

func TestGetLatestReading(t *testing.T) {
	c := newTestBackend(t, map[string]http.HandlerFunc{
		"GET /devices/d1/dust/latest": respond(200, `{"device_id":"d1","pm25":41.5,"humidity":"55","timestamp":"2026-03-01T08:00:00Z"}`),
		"GET /devices/d2/dust/latest": respond(200, `{"pm2_5":"12.0","created_at":"2026-03-01 08:00:00"}`),
		"GET /devices/d3/dust/latest": respond(200, `{"dust_level":null}`),
		"GET /devices/d4/dust/latest": respond(404, `{"detail":"no readings"}`),
		"GET /devices/d5/dust/latest": respond(200, `{}`),
		"GET /devices/d6/dust/latest": respond(500, `oops`),
	})
	ctx := context.Background()

	r, err := c.GetLatestReading(ctx, "d1")
	if err != nil {
		t.Fatalf("d1: %v", err)
	}
	if !r.PM25.Valid || r.PM25.Value != 41.5 || !r.Humidity.Valid || r.ObservedAt.IsZero() {
		t.Errorf("d1 reading = %+v", r)
	}

	r, err = c.GetLatestReading(ctx, "d2")
	if err != nil {
		t.Fatalf("d2: %v", err)
	}
	if r.PM25.Value != 12 || r.DeviceID != "d2" || r.ObservedAt.IsZero() {
		t.Errorf("d2 reading = %+v", r)
	}

	r, err = c.GetLatestReading(ctx, "d3")
	if err != nil {
		t.Fatalf("d3: %v", err)
	}
	if r.PM25.Valid {
		t.Errorf("d3 PM2.5 should be missing, got %+v", r.PM25)
	}

	for _, id := range []models.ID{"d4", "d5"} {
		if _, err := c.GetLatestReading(ctx, id); !errors.Is(err, ErrNoData) {
			t.Errorf("%s error = %v, want ErrNoData", id, err)
		}
	}

	var upErr *UpstreamError
	if _, err := c.GetLatestReading(ctx, "d6"); !errors.As(err, &upErr) || upErr.StatusCode != 500 {
		t.Errorf("d6 error = %v", err)
	}
}

func TestHasRecentAlert(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		want   bool
	}{
		{"records", `[{"user_id":"u1","device_id":"d1","dust_level":"41","sent_at":"2026-03-01 08:00:00"}]`, 200, true},
		{"no records", `[]`, 200, false},
		{"flag", `{"recent":true}`, 200, true},
		{"count zero", `{"count":0}`, 200, false},
		{"not found", ``, 404, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestBackend(t, map[string]http.HandlerFunc{
				"GET /notifications/recent": func(w http.ResponseWriter, r *http.Request) {
					q := r.URL.Query()
					if q.Get("user_id") != "u1" || q.Get("device_id") != "d1" || q.Get("hours") != "2" {
						t.Errorf("query = %v", q)
					}
					respond(tt.status, tt.body)(w, r)
				},
			})

			got, err := c.HasRecentAlert(context.Background(), "u1", "d1", 90*time.Minute)
			if err != nil {
				t.Fatalf("HasRecentAlert: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasRecentAlert = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasRecentAlertUnknownPayload(t *testing.T) {
	c := newTestBackend(t, map[string]http.HandlerFunc{"GET /notifications/recent": respond(200, `{"status":"ok"}`)})

	if _, err := c.HasRecentAlert(context.Background(), "u1", "d1", time.Hour); err == nil {
		t.Fatal("expected an error for an unrecognized payload")
	}
}

func TestLogAlert(t *testing.T) {
	var got logAlertPayload
	c := newTestBackend(t, map[string]http.HandlerFunc{
		"POST /notifications/log": func(w http.ResponseWriter, r *http.Request) {
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode body: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		},
	})

	if err := c.LogAlert(context.Background(), "u1", "d1", "too dusty", 48.2); err != nil {
		t.Fatalf("LogAlert: %v", err)
	}
	want := logAlertPayload{UserID: "u1", DeviceID: "d1", Message: "too dusty", DustLevel: 48.2, Type: "dust_alert"}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
}

func TestLogAlertFailure(t *testing.T) {
	c := newTestBackend(t, map[string]http.HandlerFunc{"POST /notifications/log": respond(422, `{"detail":"bad"}`)})

	var upErr *UpstreamError
	if err := c.LogAlert(context.Background(), "u1", "d1", "m", 1); !errors.As(err, &upErr) || upErr.StatusCode != 422 {
		t.Errorf("error = %v", err)
	}
}

func TestBackendCallTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewBackendClient(zaptest.NewLogger(t), srv.URL, "", 50*time.Millisecond)

	start := time.Now()
	_, err := c.ListUsers(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || upErr.Op != "list_users" {
		t.Errorf("error = %v, want *UpstreamError", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("call was not bounded by the client timeout")
	}
}

func TestWindowHours(t *testing.T) {
	tests := []struct {
		window time.Duration
		want   int
	}{
		{0, 1},
		{10 * time.Minute, 1},
		{time.Hour, 1},
		{61 * time.Minute, 2},
		{24 * time.Hour, 24},
	}
	for _, tt := range tests {
		if got := windowHours(tt.window); got != tt.want {
			t.Errorf("windowHours(%v) = %d, want %d", tt.window, got, tt.want)
		}
	}
}
