package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"takeoff-backend/internal/processing"
	"takeoff-backend/internal/resilience"
	"takeoff-backend/internal/signing"
	"takeoff-backend/internal/storage"
)

const webhookUserAgent = "takeoff-backend/1.0"

// WebhookConfig configures the HTTP publisher.
type WebhookConfig struct {
	Endpoints    []string
	Secret       []byte
	Timeout      time.Duration
	MaxMaterials int
	// AllowLocal permits loopback endpoints for development. Private-range
	// addresses stay blocked regardless.
	AllowLocal bool
}

// WebhookPublisher POSTs lifecycle events to every configured endpoint in
// parallel. Delivery succeeds if at least one endpoint accepts; it fails only
// when all of them reject. Each endpoint gets its own circuit breaker so one
// dead subscriber cannot shadow the others.
type WebhookPublisher struct {
	cfg      WebhookConfig
	signer   *signing.Signer
	client   *http.Client
	breakers map[string]*resilience.Breaker
}

// NewWebhookPublisher builds the publisher. A nil or empty secret disables
// payload signing.
func NewWebhookPublisher(cfg WebhookConfig, policy resilience.Policy) *WebhookPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	var signer *signing.Signer
	if len(cfg.Secret) > 0 {
		signer = signing.NewSigner(cfg.Secret)
	}
	breakers := make(map[string]*resilience.Breaker, len(cfg.Endpoints))
	for _, endpoint := range cfg.Endpoints {
		breakers[endpoint] = resilience.NewBreaker("webhook:"+endpoint, policy)
	}
	return &WebhookPublisher{
		cfg:      cfg,
		signer:   signer,
		client:   &http.Client{Timeout: cfg.Timeout},
		breakers: breakers,
	}
}

func (w *WebhookPublisher) NotifyQueued(ctx context.Context, fileID uuid.UUID, upload *storage.UploadResult) error {
	return w.send(ctx, queuedEnvelope(fileID, upload))
}

func (w *WebhookPublisher) NotifyComplete(ctx context.Context, fileID uuid.UUID, result *processing.Result) error {
	return w.send(ctx, completeEnvelope(fileID, result, w.cfg.MaxMaterials))
}

func (w *WebhookPublisher) NotifyError(ctx context.Context, fileID uuid.UUID, errMsg string, errContext map[string]string) error {
	return w.send(ctx, errorEnvelope(fileID, errMsg, errContext))
}

func (w *WebhookPublisher) send(ctx context.Context, envelope map[string]any) error {
	if len(w.cfg.Endpoints) == 0 {
		slog.Warn("no webhook endpoints configured, dropping event", "event_type", envelope["event_type"])
		return nil
	}
	valid := w.validEndpoints()
	if len(valid) == 0 {
		return fmt.Errorf("%w: no acceptable webhook endpoints", ErrDelivery)
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %v", ErrDelivery, err)
	}
	eventType, _ := envelope["event_type"].(string)
	fileID, _ := envelope["ifc_file_id"].(string)

	var (
		mu        sync.Mutex
		delivered int
		failures  []string
		wg        sync.WaitGroup
	)
	for _, endpoint := range valid {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			err := w.deliver(ctx, endpoint, payload, eventType, fileID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("webhook delivery failed", "endpoint", endpoint, "event_type", eventType, "error", err)
				failures = append(failures, err.Error())
				return
			}
			delivered++
		}(endpoint)
	}
	wg.Wait()

	if delivered == 0 {
		return fmt.Errorf("%w: all webhook deliveries failed: %s", ErrDelivery, strings.Join(failures, "; "))
	}
	slog.Debug("webhook event delivered", "event_type", eventType, "delivered", delivered, "endpoints", len(valid))
	return nil
}

func (w *WebhookPublisher) deliver(ctx context.Context, endpoint string, payload []byte, eventType, fileID string) error {
	breaker := w.breakers[endpoint]
	return breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", webhookUserAgent)
		req.Header.Set("X-Event-Type", eventType)
		req.Header.Set("X-IFC-File-ID", fileID)
		if w.signer != nil {
			req.Header.Set("X-Signature", w.signer.Sign(payload))
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
			err := fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, body)
			if resp.StatusCode < 500 {
				// 4xx will not improve on retry.
				return resilience.Permanent(err)
			}
			return err
		}
		return nil
	})
}

// validEndpoints filters the configured URLs through the private-network
// guard so a poisoned configuration cannot aim events at internal services.
func (w *WebhookPublisher) validEndpoints() []string {
	valid := make([]string, 0, len(w.cfg.Endpoints))
	for _, endpoint := range w.cfg.Endpoints {
		if w.allowed(endpoint) {
			valid = append(valid, endpoint)
		} else {
			slog.Warn("blocked webhook endpoint", "endpoint", endpoint)
		}
	}
	return valid
}

func (w *WebhookPublisher) allowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return w.cfg.AllowLocal
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() {
			return w.cfg.AllowLocal
		}
		if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return false
		}
	}
	return true
}
