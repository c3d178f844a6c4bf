package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const notifyQueueSize = 256

// StatusNotification is the webhook payload announcing a state transition.
// Field names match the control plane's expected shape.
type StatusNotification struct {
	SessionID   string    `json:"sessionId"`
	OwnerID     string    `json:"userId"`
	Timestamp   time.Time `json:"timestamp"`
	Status      State     `json:"status"`
	QRCode      string    `json:"qrCode,omitempty"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Error       string    `json:"error,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Notifier propagates state transitions to the system of record.
//
// Delivery is at-most-once and best-effort: failures must never alter
// session state or fail the operation that triggered them.
type Notifier interface {
	Notify(n StatusNotification)
}

// WebhookNotifier delivers notifications as authenticated POSTs from a
// detached worker, so event handlers never block on the network. The queue
// is bounded; when it is full the notification is dropped and logged.
type WebhookNotifier struct {
	log     *slog.Logger
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client

	queue     chan StatusNotification
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWebhookNotifier constructs the notifier and starts its worker.
// An empty URL disables delivery entirely; Notify becomes a no-op.
func NewWebhookNotifier(log *slog.Logger, cfg Config) *WebhookNotifier {
	if log == nil {
		log = slog.Default()
	}
	n := &WebhookNotifier{
		log:     log,
		url:     cfg.WebhookURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.NotifyTimeout,
		client:  &http.Client{Timeout: cfg.NotifyTimeout},
		queue:   make(chan StatusNotification, notifyQueueSize),
		done:    make(chan struct{}),
	}
	if n.url == "" {
		n.log.Info("notifier.disabled")
		return n
	}

	n.wg.Add(1)
	go n.worker()
	return n
}

// Notify enqueues a notification. It never blocks and never fails.
func (n *WebhookNotifier) Notify(sn StatusNotification) {
	if n == nil || n.url == "" {
		return
	}
	select {
	case <-n.done:
	case n.queue <- sn:
	default:
		metricNotifyFailures.Inc()
		n.log.Warn("notify.dropped", "session_id", sn.SessionID, "status", string(sn.Status))
	}
}

// Close stops the worker after draining queued notifications.
func (n *WebhookNotifier) Close() {
	n.closeOnce.Do(func() {
		close(n.done)
		n.wg.Wait()
	})
}

func (n *WebhookNotifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case sn := <-n.queue:
			n.deliver(sn)
		case <-n.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case sn := <-n.queue:
					n.deliver(sn)
				default:
					return
				}
			}
		}
	}
}

func (n *WebhookNotifier) deliver(sn StatusNotification) {
	body, err := json.Marshal(sn)
	if err != nil {
		metricNotifyFailures.Inc()
		n.log.Error("notify.encode.fail", "session_id", sn.SessionID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		metricNotifyFailures.Inc()
		n.log.Error("notify.request.fail", "session_id", sn.SessionID, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		metricNotifyFailures.Inc()
		n.log.Error("notify.send.fail", "session_id", sn.SessionID, "err", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metricNotifyFailures.Inc()
		n.log.Error("notify.send.fail", "session_id", sn.SessionID,
			"err", fmt.Sprintf("unexpected status %d", resp.StatusCode))
		return
	}

	n.log.Debug("notify.sent", "session_id", sn.SessionID, "status", string(sn.Status))
}
