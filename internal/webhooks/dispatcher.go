package webhooks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dwizi/agent-orchestrator/internal/store"
)

var ErrQueueFull = errors.New("webhook queue is full")

type Store interface {
	ListActiveWebhooksForEvent(ctx context.Context, tenantID, event string) ([]store.Webhook, error)
}

type Deliverer interface {
	Send(ctx context.Context, url string, headers map[string]string, event string, data map[string]any) (bool, error)
}

// Recorder observes delivery outcomes: "success", "failed" or "dropped".
type Recorder interface {
	ObserveWebhookDelivery(event, outcome string)
}

type Delivery struct {
	WebhookID string
	TenantID  string
	URL       string
	Headers   map[string]string
	Event     string
	Data      map[string]any
	QueuedAt  time.Time
}

type Dispatcher struct {
	store      Store
	deliverer  Deliverer
	recorder   Recorder
	workers    int
	deliveries chan Delivery
	logger     *slog.Logger
	startOnce  sync.Once
}

type Config struct {
	Workers   int
	QueueSize int
}

func NewDispatcher(store Store, deliverer Deliverer, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = cfg.Workers * 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:      store,
		deliverer:  deliverer,
		workers:    cfg.Workers,
		deliveries: make(chan Delivery, cfg.QueueSize),
		logger:     logger,
	}
}

func (d *Dispatcher) SetRecorder(recorder Recorder) {
	d.recorder = recorder
}

// Start runs the delivery workers until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	var workers sync.WaitGroup
	d.startOnce.Do(func() {
		for index := 0; index < d.workers; index++ {
			workers.Add(1)
			go func(workerID int) {
				defer workers.Done()
				d.worker(ctx, workerID)
			}(index + 1)
		}
	})

	<-ctx.Done()
	workers.Wait()
	return nil
}

// Publish queues the event for every active webhook of the tenant subscribed to it.
// Lookup failures and full queues are logged and never returned to the caller.
func (d *Dispatcher) Publish(ctx context.Context, tenantID, event string, data map[string]any) int {
	webhooks, err := d.store.ListActiveWebhooksForEvent(ctx, tenantID, event)
	if err != nil {
		d.logger.Error("webhook lookup failed", "tenant_id", tenantID, "event", event, "error", err)
		return 0
	}
	queued := 0
	for _, webhook := range webhooks {
		err := d.Enqueue(Delivery{
			WebhookID: webhook.ID,
			TenantID:  tenantID,
			URL:       webhook.URL,
			Headers:   webhook.Headers,
			Event:     event,
			Data:      data,
		})
		if err != nil {
			d.logger.Warn("webhook delivery dropped", "webhook_id", webhook.ID, "event", event, "error", err)
			d.observe(event, "dropped")
			continue
		}
		queued++
	}
	return queued
}

func (d *Dispatcher) Enqueue(delivery Delivery) error {
	if delivery.QueuedAt.IsZero() {
		delivery.QueuedAt = time.Now().UTC()
	}
	select {
	case d.deliveries <- delivery:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	d.logger.Info("webhook worker started", "worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("webhook worker stopped", "worker_id", workerID)
			return
		case delivery := <-d.deliveries:
			d.deliver(ctx, delivery)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, delivery Delivery) {
	ok, err := d.deliverer.Send(ctx, delivery.URL, delivery.Headers, delivery.Event, delivery.Data)
	if err != nil || !ok {
		d.logger.Warn("webhook delivery failed",
			"webhook_id", delivery.WebhookID,
			"tenant_id", delivery.TenantID,
			"event", delivery.Event,
			"error", err,
		)
		d.observe(delivery.Event, "failed")
		return
	}
	d.logger.Info("webhook delivered", "webhook_id", delivery.WebhookID, "event", delivery.Event)
	d.observe(delivery.Event, "success")
}

func (d *Dispatcher) observe(event, outcome string) {
	if d.recorder != nil {
		d.recorder.ObserveWebhookDelivery(event, outcome)
	}
}
