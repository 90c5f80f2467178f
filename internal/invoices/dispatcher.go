package invoices

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/macroferro/macroferro-backend/internal/orders"
	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/db/models"
	"github.com/macroferro/macroferro-backend/pkg/enums"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
	"github.com/macroferro/macroferro-backend/pkg/logger"
	"github.com/macroferro/macroferro-backend/pkg/mail"
	"github.com/macroferro/macroferro-backend/pkg/metrics"
	"github.com/macroferro/macroferro-backend/pkg/outbox"
	"github.com/macroferro/macroferro-backend/pkg/outbox/idempotency"
	"github.com/macroferro/macroferro-backend/pkg/outbox/payloads"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 10
	defaultMaxAttempts  = 3
	defaultTaskBudget   = 2 * time.Minute
	defaultWorkers      = 2

	mailRetryBase = 2 * time.Second

	// consumerName scopes the cross-process idempotency keys.
	consumerName = "invoice-dispatcher"
)

var decoders = outbox.NewDecoderRegistry()

func init() {
	decoders.Register(enums.OutboxEventInvoiceRequested, 1, func(raw json.RawMessage) (interface{}, error) {
		var payload payloads.InvoiceRequestedEvent
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	})
}

type eventStore interface {
	FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
	MarkTerminal(ctx context.Context, id uuid.UUID, cause error) error
}

type dlqStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Uploader stores rendered invoice artifacts and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}

// Dispatcher drains invoice.requested outbox events: it renders the invoice
// PDF, optionally uploads it, emails it to the customer and retires the
// event. Events that keep failing land in the DLQ.
type Dispatcher struct {
	events  eventStore
	dlq     dlqStore
	tx      txRunner
	orders  orders.Repository
	store   Uploader
	mailer  mail.Sender
	guard   *idempotency.Manager
	cfg     config.DispatcherConfig
	gcsCfg  config.GCSConfig
	logg    *logger.Logger
	metrics *metrics.BotMetrics

	wake chan struct{}
	now  func() time.Time
}

// NewDispatcher wires the invoice worker. store and mailer are optional;
// when absent the matching pipeline step is skipped. guard, when present,
// keeps concurrent dispatcher instances from sending the same invoice twice.
func NewDispatcher(
	events eventStore,
	dlq dlqStore,
	tx txRunner,
	orderRepo orders.Repository,
	store Uploader,
	mailer mail.Sender,
	guard *idempotency.Manager,
	cfg config.DispatcherConfig,
	gcsCfg config.GCSConfig,
	logg *logger.Logger,
	m *metrics.BotMetrics,
) (*Dispatcher, error) {
	if events == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if dlq == nil {
		return nil, fmt.Errorf("dlq repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	return &Dispatcher{
		events:  events,
		dlq:     dlq,
		tx:      tx,
		orders:  orderRepo,
		store:   store,
		mailer:  mailer,
		guard:   guard,
		cfg:     cfg,
		gcsCfg:  gcsCfg,
		logg:    logg,
		metrics: m,
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}, nil
}

// Wake nudges the poll loop so a freshly committed order does not wait for
// the next tick. Safe to call from any goroutine; never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run polls the outbox until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	for {
		processed, err := d.ProcessBatch(ctx)
		if err != nil && d.logg != nil {
			d.logg.Error(ctx, "invoice batch failed", err)
		}
		if processed > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		case <-time.After(interval):
		}
	}
}

// ProcessBatch drains one batch of pending events across the worker pool and
// returns how many events were handled.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	batch := d.cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxAttempts := d.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	events, err := d.events.FetchUnpublished(ctx, batch, maxAttempts)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	workers := d.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(events) {
		workers = len(events)
	}

	queue := make(chan models.OutboxEvent)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range queue {
				d.handle(ctx, event, maxAttempts)
			}
		}()
	}
	for _, event := range events {
		queue <- event
	}
	close(queue)
	wg.Wait()
	return len(events), nil
}

func (d *Dispatcher) handle(ctx context.Context, event models.OutboxEvent, maxAttempts int) {
	budget := d.cfg.TaskBudget
	if budget <= 0 {
		budget = defaultTaskBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	orderID, err := decodeRequest(event)
	if err != nil {
		d.retire(ctx, event, err)
		return
	}
	if d.logg != nil {
		ctx = d.logg.WithOrderID(ctx, orderID)
	}

	if d.guard != nil {
		seen, guardErr := d.guard.CheckAndMarkProcessed(ctx, consumerName, event.ID)
		switch {
		case guardErr != nil:
			if d.logg != nil {
				d.logg.Warn(ctx, "idempotency check failed: "+guardErr.Error())
			}
		case seen:
			// Another instance already handled this event; just retire the row.
			if err := d.events.MarkPublished(ctx, event.ID); err != nil && d.logg != nil {
				d.logg.Error(ctx, "retiring already-processed invoice event failed", err)
			}
			return
		}
	}

	if err := d.process(ctx, orderID); err != nil {
		d.releaseGuard(ctx, event.ID)
		if typed := pkgerrors.As(err); typed != nil &&
			(typed.Code() == pkgerrors.CodeNotFound || typed.Code() == pkgerrors.CodeValidation) {
			d.retire(ctx, event, err)
			return
		}
		d.fail(ctx, event, err, maxAttempts)
		return
	}

	if err := d.events.MarkPublished(ctx, event.ID); err != nil {
		if d.logg != nil {
			d.logg.Error(ctx, "retiring published invoice event failed", err)
		}
		return
	}
	d.metrics.IncInvoiceOutcome("sent")
	if d.logg != nil {
		d.logg.Info(ctx, "invoice dispatched")
	}
}

// process runs the render, upload and send pipeline for one order.
func (d *Dispatcher) process(ctx context.Context, orderID string) error {
	order, err := d.orders.FindByIDWithItems(ctx, orderID)
	if err != nil {
		return err
	}

	pdfBytes := buildInvoicePDF(order)

	if d.store != nil {
		object := invoiceObjectName(d.gcsCfg.InvoicePrefix, order.OrderID, d.now())
		url, err := d.store.Upload(ctx, object, "application/pdf", pdfBytes)
		if err != nil {
			return fmt.Errorf("uploading invoice: %w", err)
		}
		if err := d.orders.UpdatePDFURL(ctx, order.OrderID, url); err != nil {
			return err
		}
	}

	if d.mailer != nil && order.CustomerEmail != "" {
		msg := invoiceEmail(order, pdfBytes)
		backoff := retry.WithMaxRetries(2, retry.WithJitter(500*time.Millisecond, retry.NewConstant(mailRetryBase)))
		if d.cfg.RetryWindow > 0 {
			backoff = retry.WithMaxDuration(d.cfg.RetryWindow, backoff)
		}
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := d.mailer.Send(ctx, msg); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("sending invoice mail: %w", err)
		}
	}

	if err := d.orders.UpdateStatus(ctx, order.OrderID, enums.OrderStatusCompleted); err != nil && d.logg != nil {
		d.logg.Warn(ctx, "marking order completed failed: "+err.Error())
	}
	return nil
}

// fail records a transient failure. The attempt that exhausts the budget
// also moves the event to the DLQ.
func (d *Dispatcher) fail(ctx context.Context, event models.OutboxEvent, cause error, maxAttempts int) {
	if d.logg != nil {
		d.logg.Error(ctx, "invoice dispatch failed", cause)
	}
	if err := d.events.MarkFailed(ctx, event.ID, cause); err != nil {
		if d.logg != nil {
			d.logg.Error(ctx, "recording invoice failure failed", err)
		}
		return
	}
	if event.AttemptCount+1 < maxAttempts {
		d.metrics.IncInvoiceOutcome("retried")
		return
	}
	d.deadLetter(ctx, event, cause)
}

// retire drops an event that can never succeed: undecodable payloads and
// orders that no longer exist.
func (d *Dispatcher) retire(ctx context.Context, event models.OutboxEvent, cause error) {
	if d.logg != nil {
		d.logg.Error(ctx, "invoice event is not processable", cause)
	}
	if err := d.events.MarkTerminal(ctx, event.ID, cause); err != nil {
		if d.logg != nil {
			d.logg.Error(ctx, "retiring invoice event failed", err)
		}
		return
	}
	d.deadLetter(ctx, event, cause)
}

func (d *Dispatcher) deadLetter(ctx context.Context, event models.OutboxEvent, cause error) {
	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:      event.ID,
		EventType:    event.EventType,
		AggregateID:  event.AggregateID,
		ErrorMessage: &msg,
	}
	err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return d.dlq.InsertTx(tx, entry)
	})
	if err != nil && d.logg != nil {
		d.logg.Error(ctx, "dead-lettering invoice event failed", err)
		return
	}
	d.metrics.IncInvoiceOutcome("dead_lettered")
}

// releaseGuard frees the idempotency key so a retry on another instance is
// not mistaken for a duplicate.
func (d *Dispatcher) releaseGuard(ctx context.Context, eventID uuid.UUID) {
	if d.guard == nil {
		return
	}
	if err := d.guard.Delete(ctx, consumerName, eventID); err != nil && d.logg != nil {
		d.logg.Warn(ctx, "releasing idempotency key failed: "+err.Error())
	}
}

func decodeRequest(event models.OutboxEvent) (string, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return "", fmt.Errorf("decoding envelope: %w", err)
	}
	decoded, err := decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return "", err
	}
	payload, ok := decoded.(payloads.InvoiceRequestedEvent)
	if !ok {
		return "", fmt.Errorf("unexpected payload for event type %s", event.EventType)
	}
	if payload.OrderID == "" {
		return "", fmt.Errorf("event %s carries no order id", event.ID)
	}
	return payload.OrderID, nil
}
