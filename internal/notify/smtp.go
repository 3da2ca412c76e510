package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/newflowio/elova/internal/config"
)

// SMTPSink emails alerts. It is nil when the server is not configured.
type SMTPSink struct {
	cfg config.SMTPConfig
}

func NewSMTPSink(cfg config.SMTPConfig) *SMTPSink {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port == 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &SMTPSink{cfg: cfg}
}

func (s *SMTPSink) Notify(ctx context.Context, payload Payload) error {
	if s == nil || len(payload.Channels.Emails) == 0 {
		return nil
	}

	client, err := s.newClient(ctx, fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(s.cfg.From); err != nil {
		client.Quit()
		return err
	}
	var recipients []string
	for _, rcpt := range payload.Channels.Emails {
		if strings.TrimSpace(rcpt) == "" {
			continue
		}
		if err := client.Rcpt(rcpt); err != nil {
			client.Quit()
			return err
		}
		recipients = append(recipients, rcpt)
	}
	wc, err := client.Data()
	if err != nil {
		client.Quit()
		return err
	}
	if _, err := wc.Write(buildEmailMessage(s.cfg.From, recipients, payload)); err != nil {
		_ = wc.Close()
		client.Quit()
		return err
	}
	if err := wc.Close(); err != nil {
		client.Quit()
		return err
	}
	return client.Quit()
}

func (s *SMTPSink) newClient(ctx context.Context, addr string) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	host := s.cfg.Host
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if s.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host, InsecureSkipVerify: s.cfg.SkipTLSVerify}); err != nil {
				client.Close()
				return nil, err
			}
		}
	}

	if strings.TrimSpace(s.cfg.Username) != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)); err != nil {
			client.Close()
			return nil, err
		}
	}
	return client, nil
}

func buildEmailMessage(from string, to []string, payload Payload) []byte {
	name := payload.ProviderName
	if name == "" {
		name = payload.ProviderID
	}
	subject := fmt.Sprintf("[Elova] Sync %s for %s", payload.Level, name)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ","))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(formatEmailBody(payload))
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func formatEmailBody(payload Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Provider: %s (%s)\n", payload.ProviderName, payload.ProviderID)
	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(string(payload.Level)))
	if payload.SyncType != "" {
		fmt.Fprintf(&b, "Sync type: %s\n", payload.SyncType)
	}
	if payload.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", payload.RunID)
	}
	if payload.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", payload.Error)
	}
	fmt.Fprintf(&b, "Timestamp: %s\n", payload.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}
