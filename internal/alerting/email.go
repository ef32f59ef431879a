package alerting

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"driftwatch/internal/model"
)

// EmailConfig holds SMTP delivery settings. Username, server and at least
// one recipient are required for the channel to be usable.
type EmailConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailChannel sends plain-text alert mail over SMTP with STARTTLS. Like
// slack, failures are tolerated by the manager; a send is attempted at most
// once with a dial timeout.
type EmailChannel struct {
	cfg     EmailConfig
	timeout time.Duration
}

func NewEmailChannel(cfg EmailConfig, timeout time.Duration) *EmailChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &EmailChannel{cfg: cfg, timeout: timeout}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) configured() bool {
	return e.cfg.Server != "" && e.cfg.Username != "" && e.cfg.Password != "" && len(e.cfg.To) > 0
}

func (e *EmailChannel) Send(alert model.Alert) error {
	if !e.configured() {
		return errors.New("email channel not configured")
	}

	addr := net.JoinHostPort(e.cfg.Server, fmt.Sprint(e.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, e.timeout)
	if err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Now().Add(e.timeout))

	client, err := smtp.NewClient(conn, e.cfg.Server)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.cfg.Server}); err != nil {
			return err
		}
	}
	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Server)
	if err := client.Auth(auth); err != nil {
		return err
	}
	if err := client.Mail(e.cfg.From); err != nil {
		return err
	}
	for _, to := range e.cfg.To {
		if err := client.Rcpt(to); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(e.message(alert))); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (e *EmailChannel) message(alert model.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] API Alert: %s\r\n", alert.Severity, alert.Endpoint)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "API degradation alert\r\n\r\n")
	fmt.Fprintf(&b, "Severity: %s\r\n", alert.Severity)
	fmt.Fprintf(&b, "Endpoint: %s\r\n", alert.Endpoint)
	fmt.Fprintf(&b, "Time: %s\r\n\r\n", alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	if alert.Explanation != "" {
		fmt.Fprintf(&b, "Explanation:\r\n%s\r\n", alert.Explanation)
	}
	if len(alert.Insights) > 0 {
		b.WriteString("\r\nInsights:\r\n")
		for _, line := range alert.Insights {
			fmt.Fprintf(&b, "- %s\r\n", line)
		}
	}
	if len(alert.Recommendations) > 0 {
		b.WriteString("\r\nRecommendations:\r\n")
		for _, line := range alert.Recommendations {
			fmt.Fprintf(&b, "- %s\r\n", line)
		}
	}
	return b.String()
}
