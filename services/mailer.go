package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"mmair/metrics"
	"mmair/models"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Notifier delivers one message to one recipient. Failures come back in the
// result; Send never panics or returns an error past this boundary.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) models.SendResult
}

// UnconfiguredNotifier fails every send. It stands in when no SMTP host is set.
type UnconfiguredNotifier struct{}

func (UnconfiguredNotifier) Send(_ context.Context, recipient, _, _ string) models.SendResult {
	metrics.NotificationsTotal.WithLabelValues("email", "failed").Inc()
	return models.SendFailed("mail gateway is not configured, not sending to %s", recipient)
}

// MailSender is the part of *mail.Client the mailer uses.
type MailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// MailerConfig holds SMTP settings.
type MailerConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	TLSPolicy string // mandatory, opportunistic, none
	Timeout   time.Duration
}

// Mailer is the e-mail notification gateway.
type Mailer struct {
	sender MailSender
	from   string
	domain string
	logger *zap.Logger
}

// NewMailer builds an SMTP client from cfg. No connection is made until the first send.
func NewMailer(cfg MailerConfig, logger *zap.Logger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	opts := []mail.Option{
		mail.WithTLSPortPolicy(tlsPolicy(cfg.TLSPolicy)),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating smtp client: %w", err)
	}

	logger.Info("Mail gateway configured",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("from", cfg.From),
		zap.String("tls_policy", cfg.TLSPolicy))

	return NewMailerWithSender(client, cfg.From, logger), nil
}

// NewMailerWithSender wires a mailer to an existing sender.
func NewMailerWithSender(sender MailSender, from string, logger *zap.Logger) *Mailer {
	domain := "mmair.local"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.Trim(from[at+1:], "> ")
	}
	return &Mailer{
		sender: sender,
		from:   from,
		domain: domain,
		logger: logger.With(zap.String("component", "mailer")),
	}
}

func tlsPolicy(name string) mail.TLSPolicy {
	switch strings.ToLower(name) {
	case "mandatory":
		return mail.TLSMandatory
	case "none", "notls":
		return mail.NoTLS
	default:
		return mail.TLSOpportunistic
	}
}

// Send dispatches an HTML e-mail with a plain-text alternative.
func (m *Mailer) Send(ctx context.Context, recipient, subject, body string) (result models.SendResult) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("mailer").Inc()
			result = models.SendFailed("mail gateway panic: %v", r)
		}
		status := "success"
		if !result.Success {
			status = "failed"
		}
		metrics.NotificationsTotal.WithLabelValues("email", status).Inc()
	}()

	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return models.SendFailed("recipient address is empty")
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return models.SendFailed("invalid sender address: %v", err)
	}
	if err := msg.To(recipient); err != nil {
		return models.SendFailed("invalid recipient address %q: %v", recipient, err)
	}

	id := uuid.NewString()
	msg.SetMessageIDWithValue(id + "@" + m.domain)
	msg.SetDate()
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)
	msg.AddAlternativeString(mail.TypeTextPlain, htmlToText(body))

	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		m.logger.Warn("Failed to send e-mail",
			zap.String("recipient", recipient),
			zap.Error(err))
		return models.SendFailed("error sending e-mail: %v", err)
	}

	m.logger.Info("E-mail sent",
		zap.String("recipient", recipient),
		zap.String("message_id", id))
	return models.Sent(id)
}

// DustAlert carries what an alert e-mail shows.
type DustAlert struct {
	User      models.User
	Device    models.Device
	Reading   models.Reading
	DustLevel float64
	Threshold float64
}

// FormatDustAlert renders the subject and HTML body of an alert e-mail.
func FormatDustAlert(a DustAlert) (subject, body string) {
	severity := models.SeverityFor(a.DustLevel)
	subject = fmt.Sprintf("%s Dust alert: %s at %.1f μg/m³", severity.GetSeverityEmoji(), a.Device.DisplayName(), a.DustLevel)

	observed := a.Reading.ObservedAt.Time
	if observed.IsZero() {
		observed = time.Now()
	}

	var sb strings.Builder
	sb.WriteString("<h2>MM-Air dust alert</h2>\n")
	if a.User.Name != "" {
		sb.WriteString(fmt.Sprintf("<p>Hello %s,</p>\n", html.EscapeString(a.User.Name)))
	}
	sb.WriteString(fmt.Sprintf("<p>The PM2.5 level measured by <b>%s</b> is above your alert threshold.</p>\n",
		html.EscapeString(a.Device.DisplayName())))
	sb.WriteString("<ul>\n")
	sb.WriteString(fmt.Sprintf("<li>PM2.5: <b>%.1f μg/m³</b></li>\n", a.DustLevel))
	sb.WriteString(fmt.Sprintf("<li>Threshold: %.1f μg/m³</li>\n", a.Threshold))
	sb.WriteString(fmt.Sprintf("<li>Air quality: %s</li>\n", severity))
	if a.Device.Location != "" {
		sb.WriteString(fmt.Sprintf("<li>Location: %s</li>\n", html.EscapeString(a.Device.Location)))
	}
	if a.Reading.Temperature.Valid {
		sb.WriteString(fmt.Sprintf("<li>Temperature: %.1f°C</li>\n", a.Reading.Temperature.Value))
	}
	if a.Reading.Humidity.Valid {
		sb.WriteString(fmt.Sprintf("<li>Humidity: %.1f%%</li>\n", a.Reading.Humidity.Value))
	}
	sb.WriteString(fmt.Sprintf("<li>Measured at: %s</li>\n", observed.Format("2006-01-02 15:04:05 MST")))
	sb.WriteString("</ul>\n")
	sb.WriteString("<p>Consider running your air purifier at a higher fan speed and keeping windows closed.</p>\n")

	return subject, sb.String()
}

// htmlToText strips the few tags FormatDustAlert emits.
func htmlToText(s string) string {
	r := strings.NewReplacer(
		"<h2>", "", "</h2>", "",
		"<p>", "", "</p>", "",
		"<ul>", "", "</ul>", "",
		"<li>", "- ", "</li>", "",
		"<b>", "", "</b>", "",
	)
	return html.UnescapeString(r.Replace(s))
}
