package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"filewarden/internal/config"
)

// Transport delivers one composed notification to an external system.
type Transport interface {
	Name() string
	Send(ctx context.Context, subject, body string, recipients []string) error
}

// SMTPTransport delivers notifications by email.
type SMTPTransport struct {
	host     string
	port     int
	username string
	password string
	sender   string
}

// NewSMTPTransport creates an email transport from config.
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	return &SMTPTransport{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		sender:   cfg.Sender,
	}
}

func (t *SMTPTransport) Name() string {
	return "smtp"
}

func (t *SMTPTransport) Send(ctx context.Context, subject, body string, recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("smtp: no recipients configured")
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		t.sender, strings.Join(recipients, ", "), subject, body)

	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	var auth smtp.Auth
	if t.username != "" {
		auth = smtp.PlainAuth("", t.username, t.password, t.host)
	}

	// net/smtp has no context support; run the dial+send in a goroutine and
	// honor cancellation from here.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, t.sender, recipients, []byte(msg))
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp send cancelled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	}
}

// WebhookTransport delivers notifications as JSON POSTs.
type WebhookTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookTransport creates a webhook transport from config.
func NewWebhookTransport(cfg config.WebhookConfig) *WebhookTransport {
	return &WebhookTransport{
		url:     cfg.URL,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *WebhookTransport) Name() string {
	return "webhook"
}

func (t *WebhookTransport) Send(ctx context.Context, subject, body string, recipients []string) error {
	payload, err := json.Marshal(map[string]any{
		"subject":    subject,
		"body":       body,
		"recipients": recipients,
		"sent_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
