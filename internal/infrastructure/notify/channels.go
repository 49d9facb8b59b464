package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
	"github.com/draftforge/experiment-platform/internal/domain/errors"
)

// Channel delivers one rendered message over a single transport. Failures
// are returned, not swallowed; isolation between channels is the alerting
// service's job.
type Channel interface {
	Type() alert.ChannelType
	Send(ctx context.Context, msg *alert.Message) error
}

// WebhookChannel POSTs the message as JSON, authenticated by an HMAC-SHA256
// signature of the body under a shared secret.
type WebhookChannel struct {
	url    string
	secret string
	http   *http.Client
	logger *zap.Logger
}

func NewWebhookChannel(url, secret string, client *http.Client, logger *zap.Logger) *WebhookChannel {
	return &WebhookChannel{url: url, secret: secret, http: client, logger: logger}
}

func (c *WebhookChannel) Type() alert.ChannelType { return alert.ChannelWebhook }

func (c *WebhookChannel) Send(ctx context.Context, msg *alert.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signPayload(c.secret, body))

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewExternalError("webhook", "delivery failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.NewExternalError("webhook",
			fmt.Sprintf("endpoint returned status %d", resp.StatusCode))
	}

	c.logger.Debug("webhook delivered", zap.String("url", c.url))
	return nil
}

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	http       *http.Client
	logger     *zap.Logger
}

func NewSlackChannel(webhookURL string, client *http.Client, logger *zap.Logger) *SlackChannel {
	return &SlackChannel{webhookURL: webhookURL, http: client, logger: logger}
}

func (c *SlackChannel) Type() alert.ChannelType { return alert.ChannelSlack }

func (c *SlackChannel) Send(ctx context.Context, msg *alert.Message) error {
	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s*\n%s", msg.Subject, msg.Body),
	}
	if msg.Priority == alert.PriorityCritical {
		payload["text"] = ":rotating_light: " + payload["text"].(string)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewExternalError("slack", "delivery failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.NewExternalError("slack",
			fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	}

	return nil
}

// EmailChannel delivers over SMTP.
type EmailChannel struct {
	addr       string
	from       string
	recipients []string
	logger     *zap.Logger
}

func NewEmailChannel(addr, from string, recipients []string, logger *zap.Logger) *EmailChannel {
	return &EmailChannel{addr: addr, from: from, recipients: recipients, logger: logger}
}

func (c *EmailChannel) Type() alert.ChannelType { return alert.ChannelEmail }

func (c *EmailChannel) Send(_ context.Context, msg *alert.Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n\r\n", msg.Subject)
	b.WriteString(msg.Body)

	if err := smtp.SendMail(c.addr, nil, c.from, c.recipients, []byte(b.String())); err != nil {
		return errors.NewExternalError("email", "smtp send failed").WithCause(err)
	}

	c.logger.Debug("email delivered", zap.Int("recipients", len(c.recipients)))
	return nil
}

// SMSChannel posts short messages to an SMS gateway. Bodies are truncated to
// a single segment.
type SMSChannel struct {
	gatewayURL string
	numbers    []string
	http       *http.Client
	logger     *zap.Logger
}

func NewSMSChannel(gatewayURL string, numbers []string, client *http.Client, logger *zap.Logger) *SMSChannel {
	return &SMSChannel{gatewayURL: gatewayURL, numbers: numbers, http: client, logger: logger}
}

func (c *SMSChannel) Type() alert.ChannelType { return alert.ChannelSMS }

func (c *SMSChannel) Send(ctx context.Context, msg *alert.Message) error {
	text := msg.Subject
	if len(text) > 160 {
		text = text[:157] + "..."
	}

	payload, err := json.Marshal(map[string]interface{}{
		"to":   c.numbers,
		"text": text,
	})
	if err != nil {
		return fmt.Errorf("marshaling sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewExternalError("sms", "gateway delivery failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.NewExternalError("sms",
			fmt.Sprintf("gateway returned status %d", resp.StatusCode))
	}

	return nil
}
