package destination

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgelight/vigil/internal/settings"
)

// EmailConfig configures an SMTP destination.
type EmailConfig struct {
	Host       string   `json:"host"`
	Port       int      `json:"port"` // 465 implicit TLS, 587/25 STARTTLS
	Username   string   `json:"username,omitempty"`
	Password   string   `json:"password,omitempty"`
	From       string   `json:"from"`
	Recipients []string `json:"recipients"`
}

// Validate validates the email configuration.
func (c *EmailConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	if len(c.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	return nil
}

// emailPublisher delivers messages over SMTP.
type emailPublisher struct{}

func (p *emailPublisher) publish(ctx context.Context, dest *Destination, subject, message string, snap *settings.Snapshot) (string, error) {
	cfg := dest.Email
	if snap.HostDenied(cfg.Host) {
		return "", fmt.Errorf("%w: %s", ErrHostDenied, cfg.Host)
	}

	if subject == "" {
		subject = dest.Name
	}
	msg := buildTextMessage(cfg, subject, message)

	if err := sendMail(ctx, cfg, msg); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

// buildTextMessage assembles a plain-text RFC 5322 message.
func buildTextMessage(cfg *EmailConfig, subject, body string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(cfg.Recipients, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")
	return []byte(msg.String())
}

// sendMail connects per the configured port and submits the message.
func sendMail(ctx context.Context, cfg *EmailConfig, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	var (
		client *smtp.Client
		err    error
	)
	if cfg.Port == 465 {
		client, err = connectImplicitTLS(cfg.Host, addr, tlsConfig)
	} else {
		client, err = connectSTARTTLS(ctx, cfg.Host, addr, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer client.Close()

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(extractEmail(cfg.From)); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	for _, rcpt := range cfg.Recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return client.Quit()
}

func connectImplicitTLS(host, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, host)
}

func connectSTARTTLS(ctx context.Context, host, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}
	return client, nil
}

// extractEmail pulls the address out of a "Name <email>" form.
func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr, ">"); end != -1 {
			return addr[start+1 : end]
		}
	}
	return addr
}
