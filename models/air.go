package models

// User is an account known to the backend. The sweep only reads it.
type User struct {
	ID    ID     `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// NotificationSettings is a user's alert preference.
type NotificationSettings struct {
	Enabled   bool        `json:"enabled"`
	Threshold Measurement `json:"dust_threshold"`
}

// EffectiveThreshold returns the stored threshold, or def when it is unset or zero.
func (s NotificationSettings) EffectiveThreshold(def float64) float64 {
	if !s.Threshold.Valid || s.Threshold.Value == 0 {
		return def
	}
	return s.Threshold.Value
}

// Device is an air purifier registered to a user.
type Device struct {
	ID       ID     `json:"id"`
	UserID   ID     `json:"user_id"`
	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`
	// Active is nil when the backend does not report connectivity.
	Active *bool `json:"is_active,omitempty"`
}

// DisplayName returns the device name, falling back to its identifier.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID.String()
}

// IsActive treats an unreported connectivity flag as active.
func (d Device) IsActive() bool {
	return d.Active == nil || *d.Active
}

// Reading is the most recent sensor sample of a device.
type Reading struct {
	DeviceID    ID          `json:"device_id"`
	PM25        Measurement `json:"pm25"`
	Temperature Measurement `json:"temperature,omitempty"`
	Humidity    Measurement `json:"humidity,omitempty"`
	ObservedAt  Timestamp   `json:"timestamp"`
}

// AlertRecord is the backend's log entry for a sent alert.
type AlertRecord struct {
	UserID    ID          `json:"user_id"`
	DeviceID  ID          `json:"device_id"`
	Message   string      `json:"message"`
	DustLevel Measurement `json:"dust_level"`
	SentAt    Timestamp   `json:"sent_at"`
}
