package services

import (
	"context"
	"errors"
	"testing"

	"mmair/models"

	"go.uber.org/zap/zaptest"
)

func TestMultiPublisherFansOut(t *testing.T) {
	good := &fakePublisher{name: "good"}
	bad := &fakePublisher{name: "bad", err: errBoom}
	other := &fakePublisher{name: "other"}
	m := NewMultiPublisher(zaptest.NewLogger(t), good, bad, other)

	err := m.Publish(context.Background(), models.AlertEvent{DeviceID: "d1", DustLevel: 40})

	if !errors.Is(err, errBoom) {
		t.Errorf("error = %v, want errBoom", err)
	}
	if len(good.events) != 1 || len(other.events) != 1 {
		t.Error("a failing sink must not stop the others")
	}
	if m.Len() != 3 {
		t.Errorf("Len = %d", m.Len())
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !good.closed || !bad.closed || !other.closed {
		t.Error("Close should close every sink")
	}
}

func TestMultiPublisherEmpty(t *testing.T) {
	m := NewMultiPublisher(zaptest.NewLogger(t))
	if err := m.Publish(context.Background(), models.AlertEvent{}); err != nil {
		t.Errorf("Publish with no sinks: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestMQTTConfigBrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost:1883":       "tcp://localhost:1883",
		"ssl://broker.io:8883": "ssl://broker.io:8883",
		"tcp://10.0.0.5:1883":  "tcp://10.0.0.5:1883",
	}
	for in, want := range tests {
		if got := (MQTTConfig{Broker: in}).BrokerURL(); got != want {
			t.Errorf("BrokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}
