package checkout

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/macroferro/macroferro-backend/internal/catalog"
	"github.com/macroferro/macroferro-backend/internal/clients"
	"github.com/macroferro/macroferro-backend/internal/orders"
	"github.com/macroferro/macroferro-backend/internal/session"
	"github.com/macroferro/macroferro-backend/pkg/db/models"
	"github.com/macroferro/macroferro-backend/pkg/enums"
	"github.com/macroferro/macroferro-backend/pkg/outbox"
)

type memSessions struct {
	carts  map[int64]session.Cart
	states map[int64]session.CheckoutState
}

func newMemSessions() *memSessions {
	return &memSessions{
		carts:  make(map[int64]session.Cart),
		states: make(map[int64]session.CheckoutState),
	}
}

func (m *memSessions) GetCart(ctx context.Context, chatID int64) (session.Cart, error) {
	cart, ok := m.carts[chatID]
	if !ok {
		return session.Cart{}, nil
	}
	return cart, nil
}

func (m *memSessions) ClearCart(ctx context.Context, chatID int64) error {
	delete(m.carts, chatID)
	return nil
}

func (m *memSessions) GetCheckoutState(ctx context.Context, chatID int64) (session.CheckoutState, error) {
	state, ok := m.states[chatID]
	if !ok {
		return session.CheckoutState{Stage: enums.CheckoutStageNone}, nil
	}
	return state, nil
}

func (m *memSessions) SetCheckoutState(ctx context.Context, chatID int64, state session.CheckoutState) error {
	m.states[chatID] = state
	return nil
}

func (m *memSessions) ClearCheckoutState(ctx context.Context, chatID int64) error {
	delete(m.states, chatID)
	return nil
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type capturePublisher struct {
	events []outbox.DomainEvent
	fail   bool
}

func (p *capturePublisher) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if p.fail {
		return fmt.Errorf("outbox write failed")
	}
	p.events = append(p.events, event)
	return nil
}

func setupCheckoutDB(t *testing.T) *gorm.DB {
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
		`CREATE TABLE stock (
  product_sku TEXT NOT NULL,
  warehouse_id INTEGER NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (product_sku, warehouse_id)
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
		`CREATE TABLE id_sequences (
  name TEXT PRIMARY KEY,
  value BIGINT NOT NULL
);`,
	}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type harness struct {
	svc       *Service
	sessions  *memSessions
	publisher *capturePublisher
	db        *gorm.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := setupCheckoutDB(t)
	sessions := newMemSessions()
	publisher := &capturePublisher{}

	svc, err := NewService(
		sessions,
		clients.NewRepository(db),
		orders.NewRepository(db),
		catalog.NewRepository(db),
		&gormTxRunner{db: db},
		publisher,
		nil,
		nil,
	)
	require.NoError(t, err)
	return &harness{svc: svc, sessions: sessions, publisher: publisher, db: db}
}

func (h *harness) seedCart(chatID int64) {
	h.sessions.carts[chatID] = session.Cart{
		"SKU00010": {SKU: "SKU00010", Name: "Taladro", Quantity: 2, UnitPrice: decimal.RequireFromString("45.00")},
	}
}

const chat int64 = 42

func TestStartRequiresNonEmptyCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply, err := h.svc.Start(ctx, chat)
	require.NoError(t, err)
	assert.Contains(t, reply, "vacío")

	state, _ := h.sessions.GetCheckoutState(ctx, chat)
	assert.Equal(t, enums.CheckoutStageNone, state.Stage)
}

func TestNewCustomerHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCart(chat)
	require.NoError(t, h.db.Create(&models.Stock{ProductSKU: "SKU00010", WarehouseID: 1, Quantity: 10}).Error)

	reply, err := h.svc.Start(ctx, chat)
	require.NoError(t, err)
	assert.Contains(t, reply, "comprado con nosotros")

	steps := []struct {
		answer string
		expect string
	}{
		{"no", "correo"},
		{"buyer@example.com", "nombre"},
		{"Jane", "empresa"},
		{"Acme", "dirección"},
		{"1 Main St", "Teléfono"},
		{"555-0001", "Confirmas"},
	}
	for _, step := range steps {
		reply, err = h.svc.HandleAnswer(ctx, chat, step.answer)
		require.NoError(t, err)
		assert.Contains(t, strings.ToLower(reply), strings.ToLower(step.expect), "answer %q", step.answer)
	}

	reply, err = h.svc.HandleAnswer(ctx, chat, "sí")
	require.NoError(t, err)
	assert.Contains(t, reply, "ORD00001")

	var client models.Client
	require.NoError(t, h.db.Where("email = ?", "buyer@example.com").First(&client).Error)
	assert.Equal(t, "CUST1000", client.ClientID)

	var order models.Order
	require.NoError(t, h.db.Preload("Items").First(&order).Error)
	assert.Equal(t, "ORD00001", order.OrderID)
	require.NotNil(t, order.ClientID)
	assert.Equal(t, "CUST1000", *order.ClientID)
	assert.Equal(t, "buyer@example.com", order.CustomerEmail)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("90.00")))
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)

	var stockRow models.Stock
	require.NoError(t, h.db.Where("product_sku = ?", "SKU00010").First(&stockRow).Error)
	assert.Equal(t, 8, stockRow.Quantity)

	cart, _ := h.sessions.GetCart(ctx, chat)
	assert.Empty(t, cart)
	state, _ := h.sessions.GetCheckoutState(ctx, chat)
	assert.Equal(t, enums.CheckoutStageNone, state.Stage)

	require.Len(t, h.publisher.events, 1)
	event := h.publisher.events[0]
	assert.Equal(t, enums.OutboxEventInvoiceRequested, event.EventType)
	assert.Equal(t, "ORD00001", event.AggregateID)
}

func TestReturningCustomerFastPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sessions.carts[chat] = session.Cart{
		"SKU00042": {SKU: "SKU00042", Name: "Llave", Quantity: 1, UnitPrice: decimal.RequireFromString("12.50")},
	}
	address := "Gran Vía 10"
	phone := "555-7777"
	require.NoError(t, h.db.Create(&models.Client{
		ClientID: "CUST0007",
		Name:     "Repeat Buyer",
		Email:    "repeat@example.com",
		Address:  &address,
		Phone:    &phone,
	}).Error)

	_, err := h.svc.Start(ctx, chat)
	require.NoError(t, err)

	_, err = h.svc.HandleAnswer(ctx, chat, "sí")
	require.NoError(t, err)

	reply, err := h.svc.HandleAnswer(ctx, chat, "repeat@example.com")
	require.NoError(t, err)
	assert.Contains(t, reply, "Repeat Buyer")
	assert.Contains(t, reply, "Gran Vía 10")

	_, err = h.svc.HandleAnswer(ctx, chat, "sí")
	require.NoError(t, err)

	var count int64
	require.NoError(t, h.db.Model(&models.Client{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var order models.Order
	require.NoError(t, h.db.First(&order).Error)
	require.NotNil(t, order.ClientID)
	assert.Equal(t, "CUST0007", *order.ClientID)
	assert.Equal(t, "Repeat Buyer", order.CustomerName)
	assert.Equal(t, "Gran Vía 10", order.ShippingAddr)
}

func TestUnknownEmailFallsBackToNewCustomer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCart(chat)

	_, err := h.svc.Start(ctx, chat)
	require.NoError(t, err)
	_, err = h.svc.HandleAnswer(ctx, chat, "sí")
	require.NoError(t, err)

	reply, err := h.svc.HandleAnswer(ctx, chat, "nuevo@example.com")
	require.NoError(t, err)
	assert.Contains(t, reply, "cliente nuevo")

	state, _ := h.sessions.GetCheckoutState(ctx, chat)
	assert.Equal(t, enums.CheckoutStageAskEmail, state.Stage)
	assert.Equal(t, "nuevo@example.com", state.Draft.Email)
}

func TestInvalidEmailDoesNotAdvance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCart(chat)

	_, err := h.svc.Start(ctx, chat)
	require.NoError(t, err)
	_, err = h.svc.HandleAnswer(ctx, chat, "no")
	require.NoError(t, err)

	for _, bad := range []string{"not-an-email", "@example.com", "user @example.com"} {
		reply, err := h.svc.HandleAnswer(ctx, chat, bad)
		require.NoError(t, err)
		assert.Contains(t, reply, "no parece válido", "input %q", bad)
	}

	state, _ := h.sessions.GetCheckoutState(ctx, chat)
	assert.Equal(t, enums.CheckoutStageAskEmail, state.Stage)
}

func TestCancelKeepsCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCart(chat)

	_, err := h.svc.Start(ctx, chat)
	require.NoError(t, err)
	for _, answer := range []string{"no", "a@b.com", "Jane", "ninguna", "1 Main St", "555"} {
		_, err = h.svc.HandleAnswer(ctx, chat, answer)
		require.NoError(t, err)
	}

	reply, err := h.svc.HandleAnswer(ctx, chat, "no")
	require.NoError(t, err)
	assert.Contains(t, reply, "cancelada")

	state, _ := h.sessions.GetCheckoutState(ctx, chat)
	assert.Equal(t, enums.CheckoutStageNone, state.Stage)
	cart, _ := h.sessions.GetCart(ctx, chat)
	assert.Len(t, cart, 1)
}

func TestEditRetainsDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCart(chat)

	_, err := h.svc.Start(ctx, chat)
	require.NoError(t, err)
	for _, answer := range []string{"no", "a@b.com", "Jane", "Acme", "1 Main St", "555"} {
		_, err = h.svc.HandleAnswer(ctx, chat, answer)
		require.NoError(t, err)
	}

	_, err = h.svc.HandleAnswer(ctx, chat, "editar")
	require.NoError(t, err)

	state, _ := h.sessions.GetCheckoutState(ctx, chat)
	assert.Equal(t, enums.CheckoutStageAskEmail, state.Stage)
	assert.Equal(t, "Jane", state.Draft.Name)
	assert.Equal(t, "1 Main St", state.Draft.Address)
}

func TestCommitRollsBackAtomically(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCart(chat)
	h.publisher.fail = true

	_, err := h.svc.Start(ctx, chat)
	require.NoError(t, err)
	for _, answer := range []string{"no", "a@b.com", "Jane", "ninguna", "1 Main St", "555"} {
		_, err = h.svc.HandleAnswer(ctx, chat, answer)
		require.NoError(t, err)
	}

	_, err = h.svc.HandleAnswer(ctx, chat, "sí")
	require.Error(t, err)

	var orderCount, clientCount int64
	require.NoError(t, h.db.Model(&models.Order{}).Count(&orderCount).Error)
	require.NoError(t, h.db.Model(&models.Client{}).Count(&clientCount).Error)
	assert.Equal(t, int64(0), orderCount)
	assert.Equal(t, int64(0), clientCount)

	// Cart and state survive, the user can retry.
	cart, _ := h.sessions.GetCart(ctx, chat)
	assert.Len(t, cart, 1)
	state, _ := h.sessions.GetCheckoutState(ctx, chat)
	assert.Equal(t, enums.CheckoutStageAskConfirm, state.Stage)
}
