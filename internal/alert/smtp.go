package alert

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/raysh454/siteaudit/internal/interfaces"
)

// SMTPConfig describes the outgoing mail relay.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// ReportURL is linked from every message.
	ReportURL string `mapstructure:"report_url"`
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mail sends alerts as plain-text email to the monitor owner.
type Mail struct {
	cfg  SMTPConfig
	send SendFunc
}

// NewMail uses smtp.SendMail when send is nil.
func NewMail(cfg SMTPConfig, send SendFunc) *Mail {
	if send == nil {
		send = smtp.SendMail
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Mail{cfg: cfg, send: send}
}

func (m *Mail) Notify(ctx context.Context, a interfaces.Alert) error {
	if a.OwnerEmail == "" {
		return fmt.Errorf("mail: no recipient for %s", a.URL)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{a.OwnerEmail}, m.message(a)); err != nil {
		return fmt.Errorf("mail: send to %s: %w", a.OwnerEmail, err)
	}
	return nil
}

func (m *Mail) message(a interfaces.Alert) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", a.OwnerEmail)
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.ReplaceAll(Subject(a), "\n", " "))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Site: %s\r\n", a.URL)
	fmt.Fprintf(&b, "Previous score: %d\r\n", a.OldScore)
	fmt.Fprintf(&b, "Current score: %d\r\n", a.NewScore)
	if a.DiffPercent != nil {
		fmt.Fprintf(&b, "Visual change: %.2f%%\r\n", *a.DiffPercent)
	}
	if m.cfg.ReportURL != "" {
		fmt.Fprintf(&b, "\r\nReport: %s\r\n", m.cfg.ReportURL)
	}
	return b.Bytes()
}
