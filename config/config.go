package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv            string
	EnableDustMonitor bool
	LogLevel          string

	// Backend REST API
	APIBaseURL string
	APIToken   string
	APITimeout time.Duration

	// Sweep behaviour
	SweepInterval        time.Duration
	SweepTimeout         time.Duration
	SweepConcurrency     int
	DedupWindow          time.Duration
	DefaultDustThreshold float64
	SkipInactiveDevices  bool

	// Mail gateway
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	SMTPFrom      string
	SMTPTLSPolicy string

	// Telegram ops channel
	TelegramBotToken string
	TelegramChatID   string

	// Alert event publishers
	RabbitMQURL        string
	RabbitMQExchange   string
	RabbitMQRoutingKey string
	MQTTBroker         string
	MQTTClientID       string
	MQTTUsername       string
	MQTTPassword       string
	MQTTAlertTopic     string

	// Local dedup guard
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Sweep run history
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string

	// Admin API
	AdminAddr   string
	AdminAPIKey string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		EnableDustMonitor: getEnvBool("ENABLE_DUST_MONITOR", false),
		LogLevel:          getEnv("LOG_LEVEL", "info"),

		APIBaseURL: strings.TrimRight(getEnv("API_BASE_URL", "https://fastapi.mm-air.online"), "/"),
		APIToken:   getEnv("API_TOKEN", ""),
		APITimeout: getEnvDuration("API_TIMEOUT", 10*time.Second),

		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", 30*time.Minute),
		SweepTimeout:         getEnvDuration("SWEEP_TIMEOUT", 10*time.Minute),
		SweepConcurrency:     getEnvInt("SWEEP_CONCURRENCY", 1),
		DedupWindow:          getEnvDuration("DEDUP_WINDOW", time.Hour),
		DefaultDustThreshold: getEnvFloat("DEFAULT_DUST_THRESHOLD", 25.0),
		SkipInactiveDevices:  getEnvBool("SKIP_INACTIVE_DEVICES", false),

		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		SMTPUser:      getEnv("SMTP_USER", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:      getEnv("SMTP_FROM", ""),
		SMTPTLSPolicy: getEnv("SMTP_TLS", "opportunistic"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:   getEnv("RABBITMQ_EXCHANGE", "mmair.alerts"),
		RabbitMQRoutingKey: getEnv("RABBITMQ_ROUTING_KEY", "dust.alert"),
		MQTTBroker:         getEnv("MQTT_BROKER", ""),
		MQTTClientID:       getEnv("MQTT_CLIENT_ID", "mmair-monitor"),
		MQTTUsername:       getEnv("MQTT_USERNAME", ""),
		MQTTPassword:       getEnv("MQTT_PASSWORD", ""),
		MQTTAlertTopic:     getEnv("MQTT_ALERT_TOPIC", "mmair/alerts"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),

		AdminAddr:   getEnv("ADMIN_ADDR", "127.0.0.1:8080"),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// MonitorEnabled reports whether the dust monitor should start with the process.
func (c *Config) MonitorEnabled() bool {
	return c.AppEnv == "production" || c.EnableDustMonitor
}

// Validate checks the settings the sweep cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL is required"))
	}
	if c.APITimeout <= 0 {
		errs = append(errs, errors.New("API_TIMEOUT must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.SweepTimeout < 0 {
		errs = append(errs, errors.New("SWEEP_TIMEOUT cannot be negative"))
	}
	if c.SweepConcurrency <= 0 {
		errs = append(errs, errors.New("SWEEP_CONCURRENCY must be at least 1"))
	}
	if c.DedupWindow <= 0 {
		errs = append(errs, errors.New("DEDUP_WINDOW must be positive"))
	}
	if c.DefaultDustThreshold <= 0 {
		errs = append(errs, errors.New("DEFAULT_DUST_THRESHOLD must be positive"))
	}

	if c.MonitorEnabled() {
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			errs = append(errs, errors.New("SMTP_HOST and SMTP_FROM are required when the dust monitor is enabled"))
		}
	}

	if c.AdminAPIKey == "" && !isLoopbackAddr(c.AdminAddr) {
		errs = append(errs, fmt.Errorf("ADMIN_API_KEY is required when ADMIN_ADDR %q is not a loopback address", c.AdminAddr))
	}

	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// isLoopbackAddr reports whether addr only listens on the local host.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "30m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
