// Package ntfy implements the notify.Sender port against an ntfy server. Each
// request is published as a JSON document to the server root, with the topic
// carried in the body per the ntfy publish-as-JSON API.
package ntfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentexhq/agentex/runtime/notify"
	"github.com/agentexhq/agentex/runtime/telemetry"
)

// DefaultServerURL is the public ntfy instance.
const DefaultServerURL = "https://ntfy.sh"

const defaultTimeout = 10 * time.Second

type (
	// Options configures the sender.
	Options struct {
		// ServerURL is the ntfy server base URL. Defaults to ntfy.sh.
		ServerURL string

		// Token is an optional access token sent as a bearer credential.
		Token string

		// HTTPClient defaults to a client with a 10 second timeout.
		HTTPClient *http.Client

		// Logger defaults to the no-op logger.
		Logger telemetry.Logger
	}

	// Sender implements notify.Sender over the ntfy publish API.
	Sender struct {
		serverURL string
		token     string
		client    *http.Client
		logger    telemetry.Logger
	}
)

// New constructs an ntfy sender.
func New(opts Options) (*Sender, error) {
	serverURL := strings.TrimRight(opts.ServerURL, "/")
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Sender{serverURL: serverURL, token: opts.Token, client: client, logger: logger}, nil
}

// Send implements notify.Sender.
func (s *Sender) Send(ctx context.Context, req notify.Request) error {
	if req.Topic == "" {
		return errors.New("ntfy: topic is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("ntfy: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ntfy: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	res, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ntfy: publish to %s: %w", s.serverURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("ntfy: publish to topic %q: status %d: %s", req.Topic, res.StatusCode, strings.TrimSpace(string(detail)))
	}
	s.logger.Debug(ctx, "notification published", "topic", req.Topic, "title", req.Title)
	return nil
}
