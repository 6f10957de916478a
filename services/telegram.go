package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"mmair/metrics"
	"mmair/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// maxListedEntries caps how many alerts or errors a summary message lists.
const maxListedEntries = 10

// telegramBot is the part of *tgbotapi.BotAPI the reporter uses.
type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
}

// TelegramReporter posts operator-facing sweep summaries to a Telegram chat.
type TelegramReporter struct {
	bot    telegramBot
	chatID int64
	logger *zap.Logger
}

func NewTelegramReporter(token, chatID string, logger *zap.Logger) (*TelegramReporter, error) {
	logger = logger.With(zap.String("component", "telegram"))

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	tr := &TelegramReporter{
		bot:    bot,
		chatID: id,
		logger: logger,
	}

	if err := tr.testConnection(); err != nil {
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return tr, nil
}

// testConnection tests Telegram connection with retry logic
func (tr *TelegramReporter) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := tr.bot.GetMe()
		if err == nil {
			tr.logger.Info("Telegram connection successful")
			return nil
		}

		tr.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

func (tr *TelegramReporter) Name() string { return "telegram" }

// Report posts a summary when the sweep sent alerts or hit errors; quiet sweeps stay quiet.
func (tr *TelegramReporter) Report(_ context.Context, result *models.SweepResult) error {
	summary := result.Summary()
	if summary.Alerts == 0 && summary.Errors == 0 {
		return nil
	}
	return tr.SendStatusMessage(FormatSweepSummary(result))
}

// SendStatusMessage sends a general status message
func (tr *TelegramReporter) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(tr.chatID, message)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := tr.bot.Send(msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues("telegram", "failed").Inc()
		return fmt.Errorf("error sending telegram message: %w", err)
	}
	metrics.NotificationsTotal.WithLabelValues("telegram", "success").Inc()
	return nil
}

// SendStartupMessage sends a message when the monitor starts
func (tr *TelegramReporter) SendStartupMessage(interval, window time.Duration) error {
	message := "🟢 <b>MM-Air Dust Monitor Started</b>\n\n" +
		fmt.Sprintf("⏱️ Sweep interval: %s\n", formatDuration(interval)) +
		fmt.Sprintf("🔁 Repeat alert window: %s\n", formatDuration(window)) +
		"📧 E-mail alerts active\n\n" +
		"✅ System is ready and operational!"

	return tr.SendStatusMessage(message)
}

// FormatSweepSummary renders a sweep result as a Telegram HTML message.
func FormatSweepSummary(result *models.SweepResult) string {
	summary := result.Summary()

	var sb strings.Builder

	header := "✅ <b>DUST SWEEP COMPLETED</b>"
	if summary.Errors > 0 {
		header = "⚠️ <b>DUST SWEEP COMPLETED WITH ERRORS</b>"
	}
	sb.WriteString(header + "\n\n")

	sb.WriteString(fmt.Sprintf("🆔 <b>Run:</b> <code>%s</code>\n", html.EscapeString(result.RunID)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Started:</b> %s\n", result.StartedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Duration:</b> %s\n\n", formatDuration(result.Duration())))

	sb.WriteString(fmt.Sprintf("📧 Alerts sent: %d\n", summary.Alerts))
	sb.WriteString(fmt.Sprintf("⏭️ Skipped: %d\n", summary.Skipped))
	sb.WriteString(fmt.Sprintf("❌ Errors: %d\n", summary.Errors))

	if alerts := result.Alerts(); len(alerts) > 0 {
		sb.WriteString("\n💨 <b>Alerts:</b>\n")
		for i, a := range alerts {
			if i == maxListedEntries {
				sb.WriteString(fmt.Sprintf("   … and %d more\n", len(alerts)-maxListedEntries))
				break
			}
			name := a.DeviceName
			if name == "" {
				name = a.DeviceID.String()
			}
			sb.WriteString(fmt.Sprintf("   └ %s: %.1f μg/m³ (threshold %.1f)\n",
				html.EscapeString(name), a.DustLevel, a.Threshold))
		}
	}

	if errs := result.Errors(); len(errs) > 0 {
		sb.WriteString("\n🔧 <b>Errors:</b>\n")
		for i, e := range errs {
			if i == maxListedEntries {
				sb.WriteString(fmt.Sprintf("   … and %d more\n", len(errs)-maxListedEntries))
				break
			}
			sb.WriteString(fmt.Sprintf("   └ %s user=%s device=%s: %s\n",
				e.Stage, e.UserID, e.DeviceID, html.EscapeString(e.Error)))
		}
	}

	return sb.String()
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
