package checkout

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/macroferro/macroferro-backend/internal/catalog"
	"github.com/macroferro/macroferro-backend/internal/clients"
	"github.com/macroferro/macroferro-backend/internal/orders"
	"github.com/macroferro/macroferro-backend/internal/session"
	"github.com/macroferro/macroferro-backend/pkg/db/models"
	"github.com/macroferro/macroferro-backend/pkg/enums"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
	"github.com/macroferro/macroferro-backend/pkg/logger"
	"github.com/macroferro/macroferro-backend/pkg/metrics"
	"github.com/macroferro/macroferro-backend/pkg/outbox"
	"github.com/macroferro/macroferro-backend/pkg/outbox/payloads"
)

var validate = validator.New()

// validEmail applies the same email rule the HTTP request validators use.
func validEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

type sessionStore interface {
	GetCart(ctx context.Context, chatID int64) (session.Cart, error)
	ClearCart(ctx context.Context, chatID int64) error
	GetCheckoutState(ctx context.Context, chatID int64) (session.CheckoutState, error)
	SetCheckoutState(ctx context.Context, chatID int64, state session.CheckoutState) error
	ClearCheckoutState(ctx context.Context, chatID int64) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service drives the multi-turn checkout dialog and the atomic commit that
// turns a cart into an order.
type Service struct {
	sessions sessionStore
	clients  clients.Repository
	orders   orders.Repository
	catalog  catalog.Repository
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	metrics  *metrics.BotMetrics
}

func NewService(
	sessions sessionStore,
	clientRepo clients.Repository,
	orderRepo orders.Repository,
	catalogRepo catalog.Repository,
	tx txRunner,
	publisher outboxPublisher,
	logg *logger.Logger,
	m *metrics.BotMetrics,
) (*Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if clientRepo == nil {
		return nil, fmt.Errorf("clients repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Service{
		sessions: sessions,
		clients:  clientRepo,
		orders:   orderRepo,
		catalog:  catalogRepo,
		tx:       tx,
		outbox:   publisher,
		logg:     logg,
		metrics:  m,
	}, nil
}

// Start opens the checkout dialog. The cart must be non-empty.
func (s *Service) Start(ctx context.Context, chatID int64) (string, error) {
	cart, err := s.sessions.GetCart(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(cart) == 0 {
		return "Tu carrito está vacío. Añade productos antes de finalizar la compra.", nil
	}

	state := session.CheckoutState{Stage: enums.CheckoutStageAskReturning}
	if err := s.sessions.SetCheckoutState(ctx, chatID, state); err != nil {
		return "", err
	}
	return s.PromptFor(state), nil
}

// HandleAnswer advances the state machine with the user's reply. The returned
// string is the next prompt or the commit confirmation.
func (s *Service) HandleAnswer(ctx context.Context, chatID int64, text string) (string, error) {
	state, err := s.sessions.GetCheckoutState(ctx, chatID)
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(text)

	switch state.Stage {
	case enums.CheckoutStageNone:
		return "No hay ninguna compra en curso. Usa /finalizar_compra cuando quieras.", nil

	case enums.CheckoutStageAskReturning:
		switch {
		case isYes(answer):
			return s.advance(ctx, chatID, state, enums.CheckoutStageAskEmailLookup)
		case isNo(answer):
			return s.advance(ctx, chatID, state, enums.CheckoutStageAskEmail)
		default:
			return "Responde sí o no: ¿ya has comprado con nosotros antes?", nil
		}

	case enums.CheckoutStageAskEmailLookup:
		email := strings.ToLower(answer)
		if !validEmail(email) {
			return "Ese correo no parece válido. " + s.PromptFor(state), nil
		}
		client, err := s.clients.FindByEmail(ctx, email)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				state.Draft.Email = email
				reply, err := s.advance(ctx, chatID, state, enums.CheckoutStageAskEmail)
				if err != nil {
					return "", err
				}
				return "No encuentro ese correo, te registro como cliente nuevo. " + reply, nil
			}
			return "", err
		}
		state.Draft = session.CustomerDraft{
			Email:   client.Email,
			Name:    client.Name,
			Company: deref(client.Company),
			Address: deref(client.Address),
			Phone:   deref(client.Phone),
		}
		return s.advance(ctx, chatID, state, enums.CheckoutStageAskConfirm)

	case enums.CheckoutStageAskEmail:
		email := strings.ToLower(answer)
		if !validEmail(email) {
			return "Ese correo no parece válido. " + s.PromptFor(state), nil
		}
		state.Draft.Email = email
		return s.advance(ctx, chatID, state, enums.CheckoutStageAskName)

	case enums.CheckoutStageAskName:
		if answer == "" {
			return "Necesito un nombre. " + s.PromptFor(state), nil
		}
		state.Draft.Name = answer
		return s.advance(ctx, chatID, state, enums.CheckoutStageAskCompany)

	case enums.CheckoutStageAskCompany:
		if isNone(answer) {
			state.Draft.Company = ""
		} else {
			state.Draft.Company = answer
		}
		return s.advance(ctx, chatID, state, enums.CheckoutStageAskAddress)

	case enums.CheckoutStageAskAddress:
		if answer == "" {
			return "Necesito una dirección de envío. " + s.PromptFor(state), nil
		}
		state.Draft.Address = answer
		return s.advance(ctx, chatID, state, enums.CheckoutStageAskPhone)

	case enums.CheckoutStageAskPhone:
		if answer == "" {
			return "Necesito un teléfono de contacto. " + s.PromptFor(state), nil
		}
		state.Draft.Phone = answer
		return s.advance(ctx, chatID, state, enums.CheckoutStageAskConfirm)

	case enums.CheckoutStageAskConfirm:
		switch {
		case isYes(answer):
			return s.commit(ctx, chatID, state.Draft)
		case isEdit(answer):
			return s.advance(ctx, chatID, state, enums.CheckoutStageAskEmail)
		case isNo(answer):
			if err := s.sessions.ClearCheckoutState(ctx, chatID); err != nil {
				return "", err
			}
			return "Compra cancelada. Tu carrito sigue intacto.", nil
		default:
			return "Responde sí para confirmar, editar para corregir tus datos, o no para cancelar.", nil
		}
	}

	return "", pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unreachable checkout stage %q", state.Stage))
}

func (s *Service) advance(ctx context.Context, chatID int64, state session.CheckoutState, next enums.CheckoutStage) (string, error) {
	state.Stage = next
	if err := s.sessions.SetCheckoutState(ctx, chatID, state); err != nil {
		return "", err
	}
	if next == enums.CheckoutStageAskConfirm {
		return s.confirmPrompt(ctx, chatID, state.Draft)
	}
	return s.PromptFor(state), nil
}

// PromptFor returns the question belonging to a stage. The orchestrator reuses
// it as the resume reminder after an interruption.
func (s *Service) PromptFor(state session.CheckoutState) string {
	switch state.Stage {
	case enums.CheckoutStageAskReturning:
		return "¿Ya has comprado con nosotros antes? (sí/no)"
	case enums.CheckoutStageAskEmailLookup:
		return "Dime tu correo electrónico y recupero tus datos."
	case enums.CheckoutStageAskEmail:
		return "¿Cuál es tu correo electrónico?"
	case enums.CheckoutStageAskName:
		return "¿A nombre de quién va el pedido?"
	case enums.CheckoutStageAskCompany:
		return "¿Nombre de tu empresa? (escribe \"ninguna\" si no aplica)"
	case enums.CheckoutStageAskAddress:
		return "Dime la dirección de envío."
	case enums.CheckoutStageAskPhone:
		return "¿Teléfono de contacto?"
	case enums.CheckoutStageAskConfirm:
		return "¿Confirmas el pedido? (sí / editar / no)"
	default:
		return ""
	}
}

func (s *Service) confirmPrompt(ctx context.Context, chatID int64, draft session.CustomerDraft) (string, error) {
	cart, err := s.sessions.GetCart(ctx, chatID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Resumen del pedido:\n")
	for _, item := range sortedItems(cart) {
		fmt.Fprintf(&b, "• %s ×%d — %s €\n", item.Name, item.Quantity,
			item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: %s €\n\n", cart.Total().StringFixed(2))
	fmt.Fprintf(&b, "Envío a: %s, %s", draft.Name, draft.Address)
	if draft.Company != "" {
		fmt.Fprintf(&b, " (%s)", draft.Company)
	}
	fmt.Fprintf(&b, "\nCorreo: %s · Teléfono: %s\n\n", draft.Email, draft.Phone)
	b.WriteString(s.PromptFor(session.CheckoutState{Stage: enums.CheckoutStageAskConfirm}))
	return b.String(), nil
}

// commit materializes the cart into an order. Cart and checkout state are
// cleared only after the transaction lands, so a failure lets the user retry.
func (s *Service) commit(ctx context.Context, chatID int64, draft session.CustomerDraft) (string, error) {
	cart, err := s.sessions.GetCart(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(cart) == 0 {
		if err := s.sessions.ClearCheckoutState(ctx, chatID); err != nil {
			return "", err
		}
		return "Tu carrito está vacío, no hay nada que confirmar.", nil
	}

	var orderID string
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		client, err := s.clients.WithTx(tx).GetOrCreate(ctx, models.Client{
			Name:    draft.Name,
			Email:   draft.Email,
			Phone:   optional(draft.Phone),
			Company: optional(draft.Company),
			Address: optional(draft.Address),
		})
		if err != nil {
			return err
		}

		orderRepo := s.orders.WithTx(tx)
		orderID, err = orderRepo.NextOrderID(ctx)
		if err != nil {
			return err
		}

		items := sortedItems(cart)
		order := &models.Order{
			OrderID:       orderID,
			ClientID:      &client.ClientID,
			ChatID:        chatID,
			CustomerName:  fallbackStr(draft.Name, client.Name),
			CustomerEmail: client.Email,
			ShippingAddr:  fallbackStr(draft.Address, deref(client.Address)),
			Phone:         optional(fallbackStr(draft.Phone, deref(client.Phone))),
			TotalAmount:   cart.Total(),
			Status:        enums.OrderStatusPending,
		}
		for _, item := range items {
			order.Items = append(order.Items, models.OrderItem{
				ProductSKU: item.SKU,
				Quantity:   item.Quantity,
				UnitPrice:  item.UnitPrice,
			})
		}
		if err := orderRepo.Create(ctx, order); err != nil {
			return err
		}

		stockRepo := s.catalog.WithTx(tx)
		for _, item := range items {
			if err := stockRepo.DeductStock(ctx, item.SKU, item.Quantity); err != nil {
				return err
			}
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventInvoiceRequested,
			AggregateType: enums.OutboxAggregateOrder,
			AggregateID:   orderID,
			Chat:          &outbox.ChatRef{ChatID: chatID},
			Data:          payloads.InvoiceRequestedEvent{OrderID: orderID},
			Version:       1,
		})
	})
	if err != nil {
		s.metrics.IncCheckoutCommit("rolled_back")
		if s.logg != nil {
			s.logg.Error(s.logg.WithChatID(ctx, chatID), "checkout commit failed", err)
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "committing order")
	}

	s.metrics.IncCheckoutCommit("committed")

	if err := s.sessions.ClearCart(ctx, chatID); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "clearing cart after commit failed: "+err.Error())
	}
	if err := s.sessions.ClearCheckoutState(ctx, chatID); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "clearing checkout state after commit failed: "+err.Error())
	}

	return fmt.Sprintf("¡Pedido confirmado! 🎉\nNúmero de pedido: *%s*\nRecibirás la factura en %s en unos minutos.", orderID, draft.Email), nil
}

func sortedItems(cart session.Cart) []session.CartItem {
	items := make([]session.CartItem, 0, len(cart))
	for _, item := range cart {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })
	return items
}

func isYes(answer string) bool {
	switch strings.ToLower(answer) {
	case "si", "sí", "s", "yes", "y", "vale", "confirmo", "ok":
		return true
	}
	return false
}

func isNo(answer string) bool {
	switch strings.ToLower(answer) {
	case "no", "n", "cancelar", "cancel":
		return true
	}
	return false
}

func isEdit(answer string) bool {
	switch strings.ToLower(answer) {
	case "editar", "edit", "corregir", "cambiar":
		return true
	}
	return false
}

func isNone(answer string) bool {
	switch strings.ToLower(answer) {
	case "", "ninguna", "ninguno", "no", "none", "n/a", "-":
		return true
	}
	return false
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func fallbackStr(primary, secondary string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return secondary
}
