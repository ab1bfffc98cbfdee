package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/acethrift/ace/internal/metrics"
	"github.com/acethrift/ace/internal/retry"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
	SignatureHeader = "X-Ace-Signature"
	// EventHeader carries the event type for cheap demultiplexing.
	EventHeader = "X-Ace-Event"

	deliveryQueueSize = 1024
	deliveryWorkers   = 4
	maxAttempts       = 5
	baseDelay         = 500 * time.Millisecond
	requestTimeout    = 10 * time.Second
)

// Event is the payload sent to subscribers.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type delivery struct {
	sub   *Subscription
	event *Event
}

// Dispatcher fans marketplace events out to matching subscriptions.
// Deliveries run on background workers and never block the caller;
// when the queue is full the event is dropped for that subscriber.
type Dispatcher struct {
	store  Store
	client *http.Client
	logger *slog.Logger
	queue  chan delivery

	wg sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher.
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
		queue:  make(chan delivery, deliveryQueueSize),
	}
}

// Run starts the delivery workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("webhook dispatcher started", "workers", deliveryWorkers)
	for i := 0; i < deliveryWorkers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	<-ctx.Done()
	d.wg.Wait()
	d.logger.Info("webhook dispatcher stopped")
}

// Dispatch queues the event for every active subscription that wants its
// type. Safe to call from notifier hooks; never blocks.
func (d *Dispatcher) Dispatch(eventType string, data interface{}) {
	subs, err := d.store.ListActive(context.Background())
	if err != nil {
		d.logger.Error("failed to load webhook subscriptions", "error", err)
		return
	}

	event := &Event{Type: eventType, Timestamp: time.Now(), Data: data}
	for _, sub := range subs {
		if !sub.Wants(eventType) {
			continue
		}
		select {
		case d.queue <- delivery{sub: sub, event: event}:
		default:
			d.logger.Warn("webhook queue full, dropping delivery",
				"subscription", sub.ID, "event", eventType)
			metrics.WebhookDeliveriesTotal.WithLabelValues("dropped").Inc()
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case dl := <-d.queue:
			d.deliver(ctx, dl)
		}
	}
}

// deliver posts one event to one endpoint with exponential backoff.
// 4xx responses are permanent; 5xx and transport errors retry.
func (d *Dispatcher) deliver(ctx context.Context, dl delivery) {
	body, err := json.Marshal(dl.event)
	if err != nil {
		d.logger.Error("failed to marshal webhook event", "error", err)
		return
	}
	signature := Sign(dl.sub.Secret, body)

	err = retry.Do(ctx, maxAttempts, baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, dl.sub.URL, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, signature)
		req.Header.Set(EventHeader, dl.event.Type)

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return retry.Permanent(fmt.Errorf("endpoint rejected delivery: %s", resp.Status))
		default:
			return fmt.Errorf("endpoint returned %s", resp.Status)
		}
	})

	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		d.logger.Warn("webhook delivery failed",
			"subscription", dl.sub.ID, "event", dl.event.Type, "error", err)
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
}

// Sign computes the hex HMAC-SHA256 of body under the subscription secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
