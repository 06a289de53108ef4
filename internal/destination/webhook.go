package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/forgelight/vigil/internal/settings"
)

// WebhookConfig configures Slack and Chime incoming-webhook destinations.
type WebhookConfig struct {
	URL string `json:"url"`
}

// CustomWebhookConfig configures an arbitrary webhook endpoint, either as a
// full URL or assembled from parts.
type CustomWebhookConfig struct {
	URL          string            `json:"url,omitempty"`
	Scheme       string            `json:"scheme,omitempty"`
	Host         string            `json:"host,omitempty"`
	Port         int               `json:"port,omitempty"`
	Path         string            `json:"path,omitempty"`
	QueryParams  map[string]string `json:"query_params,omitempty"`
	HeaderParams map[string]string `json:"header_params,omitempty"`
}

// BuildURL resolves the endpoint, assembling it from parts when no full URL
// is given.
func (c *CustomWebhookConfig) BuildURL() (string, error) {
	if c.URL != "" {
		if _, err := url.Parse(c.URL); err != nil {
			return "", fmt.Errorf("invalid webhook url: %w", err)
		}
		return c.URL, nil
	}
	if c.Host == "" {
		return "", fmt.Errorf("custom_webhook requires a url or a host")
	}
	scheme := c.Scheme
	if scheme == "" {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: c.Host, Path: c.Path}
	if c.Port > 0 {
		u.Host = c.Host + ":" + strconv.Itoa(c.Port)
	}
	if len(c.QueryParams) > 0 {
		q := u.Query()
		for k, v := range c.QueryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// webhookPublisher posts messages to Slack, Chime, and custom webhooks.
type webhookPublisher struct {
	client *http.Client
}

func (p *webhookPublisher) publish(ctx context.Context, dest *Destination, subject, message string, snap *settings.Snapshot) (string, error) {
	content := messageContent(subject, message)

	var (
		endpoint string
		body     []byte
		headers  map[string]string
		err      error
	)

	switch dest.Type {
	case TypeSlack:
		endpoint = dest.Slack.URL
		body, err = json.Marshal(map[string]string{"text": content})
	case TypeChime:
		endpoint = dest.Chime.URL
		body, err = json.Marshal(map[string]string{"Content": content})
	case TypeCustomWebhook:
		endpoint, err = dest.CustomWebhook.BuildURL()
		body = []byte(content)
		headers = dest.CustomWebhook.HeaderParams
	default:
		return "", fmt.Errorf("webhook publisher cannot handle type %q", dest.Type)
	}
	if err != nil {
		return "", err
	}

	if err := checkHost(endpoint, snap); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send to %s webhook: %w", dest.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%s webhook returned status %d: %s", dest.Type, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	// Webhooks have no channel-assigned message id; generate one so the
	// action output always carries a delivery reference.
	return uuid.NewString(), nil
}

// checkHost enforces the host deny-list before any connection is opened.
func checkHost(endpoint string, snap *settings.Snapshot) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	if snap.HostDenied(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrHostDenied, u.Hostname())
	}
	return nil
}
