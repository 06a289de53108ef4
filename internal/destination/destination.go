// Package destination publishes rendered action messages to external
// channels: chat webhooks (Slack, Chime, custom), SMTP, and AWS SNS.
// Destination configs live in the config index and are resolved per action
// dispatch.
package destination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/metrics"
	"github.com/forgelight/vigil/internal/settings"
)

// Destination types.
const (
	TypeSlack         = "slack"
	TypeChime         = "chime"
	TypeCustomWebhook = "custom_webhook"
	TypeEmail         = "email"
	TypeSNS           = "sns"
)

// ErrHostDenied marks publishes rejected by the host deny-list.
var ErrHostDenied = errors.New("publish host is deny-listed")

// Destination is a channel configuration document.
type Destination struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Type string `json:"type"`

	Slack         *WebhookConfig       `json:"slack,omitempty"`
	Chime         *WebhookConfig       `json:"chime,omitempty"`
	CustomWebhook *CustomWebhookConfig `json:"custom_webhook,omitempty"`
	Email         *EmailConfig         `json:"email,omitempty"`
	SNS           *SNSConfig           `json:"sns,omitempty"`

	LastUpdateTime *time.Time `json:"last_update_time,omitempty"`
}

// Validate checks that the destination carries the config its type needs.
func (d *Destination) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("destination name is required")
	}
	switch d.Type {
	case TypeSlack:
		if d.Slack == nil || d.Slack.URL == "" {
			return fmt.Errorf("slack destination requires a url")
		}
	case TypeChime:
		if d.Chime == nil || d.Chime.URL == "" {
			return fmt.Errorf("chime destination requires a url")
		}
	case TypeCustomWebhook:
		if d.CustomWebhook == nil {
			return fmt.Errorf("custom_webhook destination requires a config")
		}
		if _, err := d.CustomWebhook.BuildURL(); err != nil {
			return err
		}
	case TypeEmail:
		if d.Email == nil {
			return fmt.Errorf("email destination requires a config")
		}
		return d.Email.Validate()
	case TypeSNS:
		if d.SNS == nil {
			return fmt.Errorf("sns destination requires a config")
		}
	default:
		return fmt.Errorf("unknown destination type %q", d.Type)
	}
	return nil
}

// publisher sends one message to one destination type.
type publisher interface {
	publish(ctx context.Context, dest *Destination, subject, message string, snap *settings.Snapshot) (string, error)
}

// Registry resolves destination types to publishers and applies the
// process-wide publish guard.
type Registry struct {
	publishers map[string]publisher
	guard      *Guard
	logger     *logrus.Logger
}

// NewRegistry wires up all shipped publishers. httpClient may be nil, in
// which case a 30s-timeout client is used for the webhook types.
func NewRegistry(logger *logrus.Logger, httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	wh := &webhookPublisher{client: httpClient}
	return &Registry{
		publishers: map[string]publisher{
			TypeSlack:         wh,
			TypeChime:         wh,
			TypeCustomWebhook: wh,
			TypeEmail:         &emailPublisher{},
			TypeSNS:           newSNSPublisher(),
		},
		guard:  NewGuard(),
		logger: logger,
	}
}

// Publish delivers a rendered message and returns the channel's message id.
// It raises on deny-listed hosts, transport failures, and guard rejections;
// the caller records the error on the action result.
func (r *Registry) Publish(ctx context.Context, dest *Destination, subject, message string, snap *settings.Snapshot) (string, error) {
	if err := dest.Validate(); err != nil {
		return "", fmt.Errorf("destination %q: %w", dest.ID, err)
	}
	if err := r.guard.Allow(snap.PublishGuard); err != nil {
		return "", err
	}

	p, ok := r.publishers[dest.Type]
	if !ok {
		return "", fmt.Errorf("no publisher for destination type %q", dest.Type)
	}

	start := time.Now()
	id, err := p.publish(ctx, dest, subject, message, snap)
	metrics.PublishDuration.WithLabelValues(dest.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PublishesTotal.WithLabelValues(dest.Type, "error").Inc()
		return "", err
	}
	metrics.PublishesTotal.WithLabelValues(dest.Type, "ok").Inc()
	r.logger.WithFields(logrus.Fields{
		"destination": dest.ID,
		"type":        dest.Type,
		"message_id":  id,
	}).Debug("published")
	return id, nil
}

// messageContent folds the optional subject into the body for channels
// without a native subject field.
func messageContent(subject, message string) string {
	if subject == "" {
		return message
	}
	return subject + " \n\n " + message
}
