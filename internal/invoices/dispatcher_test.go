package invoices

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/macroferro/macroferro-backend/internal/orders"
	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/db/models"
	"github.com/macroferro/macroferro-backend/pkg/enums"
	"github.com/macroferro/macroferro-backend/pkg/mail"
	"github.com/macroferro/macroferro-backend/pkg/outbox"
	"github.com/macroferro/macroferro-backend/pkg/outbox/idempotency"
	"github.com/macroferro/macroferro-backend/pkg/outbox/payloads"
)

// memoryKV implements the redis idempotency surface in memory.
type memoryKV struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{keys: map[string]string{}}
}

func (m *memoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memoryKV) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryKV) IdempotencyKey(scope, id string) string {
	return "mf:idempotency:" + scope + ":" + id
}

func (m *memoryKV) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

type stubMailer struct {
	sent       []mail.Message
	failAlways bool
}

func (m *stubMailer) Send(ctx context.Context, msg mail.Message) error {
	if m.failAlways {
		return fmt.Errorf("smtp unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type stubUploader struct {
	objects []string
}

func (u *stubUploader) Upload(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	u.objects = append(u.objects, objectName)
	return "https://storage.example.com/" + objectName, nil
}

type txRunnerDB struct {
	db *gorm.DB
}

func (r *txRunnerDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func setupDispatchDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{
		`CREATE TABLE clients (
  client_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL UNIQUE,
  phone TEXT,
  company TEXT,
  address TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE products (
  sku TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  brand TEXT,
  price NUMERIC NOT NULL,
  category_id INTEGER,
  specs TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE orders (
  order_id TEXT PRIMARY KEY,
  client_id TEXT,
  chat_id INTEGER NOT NULL,
  customer_name TEXT NOT NULL,
  customer_email TEXT NOT NULL,
  shipping_address TEXT NOT NULL,
  phone TEXT,
  total_amount NUMERIC NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  pdf_url TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE order_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id TEXT NOT NULL,
  product_sku TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price NUMERIC NOT NULL
);`,
		`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
		`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  error_message TEXT,
  failed_at DATETIME
);`,
	}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func seedInvoiceOrder(t *testing.T, db *gorm.DB, orderID string) {
	t.Helper()

	require.NoError(t, db.Create(&models.Product{
		SKU:   "SKU00010",
		Name:  "Taladro percutor",
		Price: decimal.RequireFromString("45.00"),
	}).Error)
	require.NoError(t, db.Create(&models.Order{
		OrderID:       orderID,
		ChatID:        42,
		CustomerName:  "Jane Buyer",
		CustomerEmail: "buyer@example.com",
		ShippingAddr:  "Gran Vía 10, Madrid",
		TotalAmount:   decimal.RequireFromString("90.00"),
		Status:        enums.OrderStatusPending,
		Items: []models.OrderItem{
			{ProductSKU: "SKU00010", Quantity: 2, UnitPrice: decimal.RequireFromString("45.00")},
		},
	}).Error)
}

func emitRequest(t *testing.T, db *gorm.DB, orderID string) {
	t.Helper()
	svc := outbox.NewService(outbox.NewRepository(db), nil)
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventInvoiceRequested,
			AggregateType: enums.OutboxAggregateOrder,
			AggregateID:   orderID,
			Chat:          &outbox.ChatRef{ChatID: 42},
			Data:          payloads.InvoiceRequestedEvent{OrderID: orderID},
			Version:       1,
		})
	}))
}

func dispatcherConfig() config.DispatcherConfig {
	return config.DispatcherConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		MaxAttempts:  2,
		TaskBudget:   5 * time.Second,
		RetryWindow:  time.Millisecond,
		Workers:      2,
	}
}

func newDispatcher(t *testing.T, db *gorm.DB, mailer mail.Sender, store Uploader) *Dispatcher {
	return newGuardedDispatcher(t, db, mailer, store, nil)
}

func newGuardedDispatcher(t *testing.T, db *gorm.DB, mailer mail.Sender, store Uploader, guard *idempotency.Manager) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(
		outbox.NewRepository(db),
		outbox.NewDLQRepository(db),
		&txRunnerDB{db: db},
		orders.NewRepository(db),
		store,
		mailer,
		guard,
		dispatcherConfig(),
		config.GCSConfig{BucketName: "invoices-test", InvoicePrefix: "invoices"},
		nil,
		nil,
	)
	require.NoError(t, err)
	return d
}

func TestDispatchSendsInvoice(t *testing.T) {
	db := setupDispatchDB(t)
	seedInvoiceOrder(t, db, "ORD00001")
	emitRequest(t, db, "ORD00001")

	mailer := &stubMailer{}
	store := &stubUploader{}
	d := newDispatcher(t, db, mailer, store)

	processed, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "buyer@example.com", msg.To)
	assert.Contains(t, msg.Subject, "ORD00001")
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "application/pdf", msg.Attachment.ContentType)
	assert.True(t, bytes.HasPrefix(msg.Attachment.Data, []byte("%PDF")))

	var order models.Order
	require.NoError(t, db.First(&order, "order_id = ?", "ORD00001").Error)
	require.NotNil(t, order.PDFURL)
	assert.Contains(t, *order.PDFURL, "factura-ORD00001.pdf")
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)

	var pending int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("published_at IS NULL").Count(&pending).Error)
	assert.Zero(t, pending)
}

func TestDispatchWithoutOptionalSinks(t *testing.T) {
	db := setupDispatchDB(t)
	seedInvoiceOrder(t, db, "ORD00002")
	emitRequest(t, db, "ORD00002")

	d := newDispatcher(t, db, nil, nil)

	processed, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	var order models.Order
	require.NoError(t, db.First(&order, "order_id = ?", "ORD00002").Error)
	assert.Nil(t, order.PDFURL)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
}

func TestTransientFailureRetriesThenDeadLetters(t *testing.T) {
	db := setupDispatchDB(t)
	seedInvoiceOrder(t, db, "ORD00003")
	emitRequest(t, db, "ORD00003")

	mailer := &stubMailer{failAlways: true}
	d := newDispatcher(t, db, mailer, nil)
	ctx := context.Background()

	processed, err := d.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	var event models.OutboxEvent
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, 1, event.AttemptCount)
	assert.Nil(t, event.PublishedAt)
	require.NotNil(t, event.LastError)

	// Second pass exhausts the attempt budget.
	processed, err = d.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	var dlqCount int64
	require.NoError(t, db.Model(&models.OutboxDLQ{}).Count(&dlqCount).Error)
	assert.EqualValues(t, 1, dlqCount)

	// Exhausted events leave the fetch window.
	processed, err = d.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)

	var order models.Order
	require.NoError(t, db.First(&order, "order_id = ?", "ORD00003").Error)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
}

func TestMissingOrderRetiresToDLQ(t *testing.T) {
	db := setupDispatchDB(t)
	emitRequest(t, db, "ORD99999")

	d := newDispatcher(t, db, &stubMailer{}, nil)

	processed, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	var event models.OutboxEvent
	require.NoError(t, db.First(&event).Error)
	assert.NotNil(t, event.PublishedAt)

	var dlq models.OutboxDLQ
	require.NoError(t, db.First(&dlq).Error)
	assert.Equal(t, event.ID, dlq.EventID)
}

func TestUndecodablePayloadRetires(t *testing.T) {
	db := setupDispatchDB(t)
	require.NoError(t, db.Exec(
		`INSERT INTO outbox_events (id, event_type, aggregate_type, aggregate_id, payload, created_at)
		 VALUES ('0c6c1f9e-0000-4000-8000-000000000001', 'invoice.requested', 'order', 'ORD00004', 'not-json', CURRENT_TIMESTAMP)`,
	).Error)

	d := newDispatcher(t, db, &stubMailer{}, nil)

	processed, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	var dlqCount int64
	require.NoError(t, db.Model(&models.OutboxDLQ{}).Count(&dlqCount).Error)
	assert.EqualValues(t, 1, dlqCount)
}

func TestGuardSkipsEventHandledElsewhere(t *testing.T) {
	db := setupDispatchDB(t)
	seedInvoiceOrder(t, db, "ORD00005")
	emitRequest(t, db, "ORD00005")

	kv := newMemoryKV()
	guard, err := idempotency.NewManager(kv, time.Hour)
	require.NoError(t, err)

	var event models.OutboxEvent
	require.NoError(t, db.First(&event).Error)
	seen, err := guard.CheckAndMarkProcessed(context.Background(), "invoice-dispatcher", event.ID)
	require.NoError(t, err)
	require.False(t, seen)

	mailer := &stubMailer{}
	d := newGuardedDispatcher(t, db, mailer, nil, guard)

	processed, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// The event is retired without a second send.
	assert.Empty(t, mailer.sent)
	require.NoError(t, db.First(&event).Error)
	assert.NotNil(t, event.PublishedAt)
}

func TestGuardIsReleasedOnFailure(t *testing.T) {
	db := setupDispatchDB(t)
	seedInvoiceOrder(t, db, "ORD00006")
	emitRequest(t, db, "ORD00006")

	kv := newMemoryKV()
	guard, err := idempotency.NewManager(kv, time.Hour)
	require.NoError(t, err)

	d := newGuardedDispatcher(t, db, &stubMailer{failAlways: true}, nil, guard)

	processed, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// The key must be gone so the retry is not mistaken for a duplicate.
	assert.Empty(t, kv.keys)
}

func TestWakeNeverBlocks(t *testing.T) {
	db := setupDispatchDB(t)
	d := newDispatcher(t, db, nil, nil)
	d.Wake()
	d.Wake()
	d.Wake()
}

func TestInvoiceObjectName(t *testing.T) {
	at := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "invoices/2026/03/factura-ORD00042.pdf", invoiceObjectName("invoices", "ORD00042", at))
	assert.Equal(t, "invoices/2026/03/factura-ORD00042.pdf", invoiceObjectName("", "ORD00042", at))
	assert.Equal(t, "facturas/2026/03/factura-ORD00042.pdf", invoiceObjectName("/facturas/", "ORD00042", at))
}
