package alert

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/telebot.v4"

	"book-monitor/internal/models"
)

// LogChannel writes alerts to the structured log. Always enabled, never
// fails.
type LogChannel struct {
	log zerolog.Logger
}

// NewLogChannel creates the log-backed channel.
func NewLogChannel(log zerolog.Logger) *LogChannel {
	return &LogChannel{log: log.With().Str("channel", "log").Logger()}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) MinSeverity() models.Severity { return models.SeverityLow }

func (c *LogChannel) Send(subject, body string) error {
	c.log.Info().Str("subject", subject).Str("body", body).Msg("alert")
	return nil
}

// EmailChannel delivers alerts over SMTP.
type EmailChannel struct {
	host        string
	port        int
	from        string
	to          []string
	minSeverity models.Severity

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an SMTP channel gated by a minimum severity.
func NewEmailChannel(host string, port int, from string, to []string, minSeverity models.Severity) *EmailChannel {
	return &EmailChannel{
		host:        host,
		port:        port,
		from:        from,
		to:          to,
		minSeverity: minSeverity,
		send:        smtp.SendMail,
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) MinSeverity() models.Severity { return c.minSeverity }

func (c *EmailChannel) Send(subject, body string) error {
	msg := strings.Join([]string{
		"From: " + c.from,
		"To: " + strings.Join(c.to, ", "),
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	if err := c.send(addr, nil, c.from, c.to, []byte(msg)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// TelegramChannel delivers alerts to a Telegram chat.
type TelegramChannel struct {
	bot    *telebot.Bot
	chatID int64
}

// NewTelegramChannel initializes the Telegram bot API client.
func NewTelegramChannel(token string, chatID int64) (*TelegramChannel, error) {
	bot, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return &TelegramChannel{bot: bot, chatID: chatID}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) MinSeverity() models.Severity { return models.SeverityLow }

func (c *TelegramChannel) Send(subject, body string) error {
	text := subject + "\n" + body
	if _, err := c.bot.Send(telebot.ChatID(c.chatID), text); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
