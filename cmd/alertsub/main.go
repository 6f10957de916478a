package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mmair/models"
	"mmair/services"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	mqttTopic  = flag.String("topic", "mmair/alerts", "Alert topic prefix")
	deviceID   = flag.String("device", "", "Only show alerts for this device")
	pretty     = flag.Bool("pretty", false, "Indent printed events")
)

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	topic := *mqttTopic + "/#"
	if *deviceID != "" {
		topic = *mqttTopic + "/" + *deviceID
	}

	logger.Info("MM-Air alert subscriber started",
		zap.String("mqtt_broker", *mqttBroker),
		zap.String("mqtt_topic", topic),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	opts := services.NewMQTTClientOptions(services.MQTTConfig{
		Broker:   *mqttBroker,
		ClientID: fmt.Sprintf("mmair-alertsub-%d", os.Getpid()),
		Username: *mqttUser,
		Password: *mqttPass,
	}, logger)

	alertCount := 0
	severityCount := make(map[models.Severity]int)
	events := make(chan models.AlertEvent, 64)

	handler := func(client mqtt.Client, msg mqtt.Message) {
		var event models.AlertEvent
		if err := json.Unmarshal(msg.Payload(), &event); err != nil {
			logger.Warn("Invalid alert event",
				zap.String("topic", msg.Topic()),
				zap.Error(err))
			return
		}
		events <- event
	}

	// Resubscribe after every reconnect
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			logger.Error("Failed to subscribe", zap.Error(token.Error()))
		}
	}

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping subscriber")
		cancel()
	}()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down gracefully",
				zap.Int("total_alerts", alertCount),
				zap.Int("hazardous", severityCount[models.SeverityHazardous]),
				zap.Int("unhealthy", severityCount[models.SeverityUnhealthy]),
				zap.Int("moderate", severityCount[models.SeverityModerate]),
				zap.Duration("total_uptime", time.Since(startTime)),
			)

			logger.Info("Disconnecting from MQTT broker")
			mqttClient.Disconnect(250)
			return

		case event := <-events:
			alertCount++
			severityCount[event.Severity]++

			var out []byte
			if *pretty {
				out, _ = json.MarshalIndent(event, "", "  ")
			} else {
				out, _ = json.Marshal(event)
			}
			fmt.Println(string(out))
		}
	}
}
