package bot

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/macroferro/macroferro-backend/internal/analyzer"
	"github.com/macroferro/macroferro-backend/internal/llm"
	"github.com/macroferro/macroferro-backend/internal/session"
	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/enums"
	"github.com/macroferro/macroferro-backend/pkg/logger"
	"github.com/macroferro/macroferro-backend/pkg/metrics"
)

const (
	genericErrorText = "Algo ha ido mal, inténtalo de nuevo en un momento."
	clarifyText      = "No estoy seguro de haberte entendido. ¿Puedes decirlo de otra forma?"
	throttledText    = "Vas muy rápido. Dame unos segundos y seguimos. 🙏"

	greetingText = `¡Hola! Soy el asistente de ventas de Macroferro. 🔧

Puedo buscar productos, gestionar tu carrito y tramitar tu pedido.
Escríbeme lo que necesitas ("busco taladros") o usa los comandos:

/agregar <SKU> [cantidad] — añadir al carrito
/eliminar <SKU> — quitar una línea
/ver_carrito — ver tu carrito
/vaciar_carrito — vaciarlo
/finalizar_compra — tramitar el pedido
/help — esta ayuda`

	shortMessageRunes = 40
)

// Update is one inbound webhook delivery, already decoded by the transport.
type Update struct {
	UpdateID int64
	ChatID   int64
	Text     string
	Username string
}

// Transport sends composed replies back to the chat platform.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, buttons [][]Button) error
	SendPhoto(ctx context.Context, chatID int64, url, caption string) error
}

type intentAnalyzer interface {
	Analyze(ctx context.Context, text string, recent []session.RecentProduct, history []llm.Turn) analyzer.Result
}

type checkoutService interface {
	Start(ctx context.Context, chatID int64) (string, error)
	HandleAnswer(ctx context.Context, chatID int64, text string) (string, error)
	PromptFor(state session.CheckoutState) string
}

type productService interface {
	Search(ctx context.Context, chatID int64, keywords string) (Reply, error)
	Detail(ctx context.Context, chatID int64, sku string, position int) (Reply, error)
	AnswerTechnical(ctx context.Context, chatID int64, sku string, position int, question string) (Reply, error)
}

type cartService interface {
	Add(ctx context.Context, chatID int64, sku string, position int, qty int) (Reply, error)
	Update(ctx context.Context, chatID int64, sku string, position int, qty int) (Reply, error)
	Remove(ctx context.Context, chatID int64, sku string, position int) (Reply, error)
	View(ctx context.Context, chatID int64) (Reply, error)
	Clear(ctx context.Context, chatID int64) (Reply, error)
}

type orchestratorSessions interface {
	MarkUpdateSeen(ctx context.Context, updateID int64) (bool, error)
	AllowMessage(ctx context.Context, chatID int64, limit int64, window time.Duration) (bool, error)
	GetCheckoutState(ctx context.Context, chatID int64) (session.CheckoutState, error)
	GetRecentProducts(ctx context.Context, chatID int64) ([]session.RecentProduct, error)
	GetHistory(ctx context.Context, chatID int64) ([]session.HistoryTurn, error)
	AppendHistory(ctx context.Context, chatID int64, turns []session.HistoryTurn, max int) error
}

// Orchestrator serializes per-chat handling, classifies each update and
// dispatches it to the matching handler.
type Orchestrator struct {
	sessions  orchestratorSessions
	analyzer  intentAnalyzer
	products  productService
	cart      cartService
	checkout  checkoutService
	transport Transport
	cfg       config.BotConfig
	logg      *logger.Logger
	metrics   *metrics.BotMetrics

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewOrchestrator(
	sessions orchestratorSessions,
	intents intentAnalyzer,
	products productService,
	cart cartService,
	checkoutSvc checkoutService,
	transport Transport,
	cfg config.BotConfig,
	logg *logger.Logger,
	m *metrics.BotMetrics,
) (*Orchestrator, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if intents == nil {
		return nil, fmt.Errorf("analyzer required")
	}
	if products == nil {
		return nil, fmt.Errorf("product handler required")
	}
	if cart == nil {
		return nil, fmt.Errorf("cart handler required")
	}
	if checkoutSvc == nil {
		return nil, fmt.Errorf("checkout service required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport required")
	}
	return &Orchestrator{
		sessions:  sessions,
		analyzer:  intents,
		products:  products,
		cart:      cart,
		checkout:  checkoutSvc,
		transport: transport,
		cfg:       cfg,
		logg:      logg,
		metrics:   m,
	}, nil
}

// HandleUpdate processes one webhook delivery end to end. Errors are absorbed
// into a generic user reply; the returned error is reserved for transport
// failures the caller may want to log.
func (o *Orchestrator) HandleUpdate(ctx context.Context, update Update) error {
	timeout := o.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if o.logg != nil {
		ctx = o.logg.WithChatID(ctx, update.ChatID)
		ctx = o.logg.WithField(ctx, "update_id", update.UpdateID)
	}

	unseen, err := o.sessions.MarkUpdateSeen(ctx, update.UpdateID)
	if err != nil {
		o.metrics.IncUpdate("error")
		return o.transport.SendText(ctx, update.ChatID, genericErrorText, nil)
	}
	if !unseen {
		o.metrics.IncDuplicateUpdate()
		o.metrics.IncUpdate("dropped")
		return nil
	}

	if update.Text == "" {
		o.metrics.IncUpdate("dropped")
		return nil
	}

	allowed, err := o.sessions.AllowMessage(ctx, update.ChatID, o.cfg.RateLimitMsgs, o.cfg.RateLimitWindow)
	if err != nil {
		// Redis trouble should not silence the chat.
		if o.logg != nil {
			o.logg.Warn(ctx, "rate limit check failed: "+err.Error())
		}
	} else if !allowed {
		o.metrics.IncUpdate("throttled")
		return o.transport.SendText(ctx, update.ChatID, throttledText, nil)
	}

	lock := o.chatLock(update.ChatID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	reply, handler, err := o.route(ctx, update)
	o.metrics.ObserveHandlerDuration(handler, time.Since(started))
	if err != nil {
		if o.logg != nil {
			o.logg.Error(ctx, "update handling failed", err)
		}
		o.metrics.IncUpdate("error")
		return o.transport.SendText(ctx, update.ChatID, genericErrorText, nil)
	}

	if err := o.rememberTurn(ctx, update.ChatID, update.Text, reply.Text); err != nil && o.logg != nil {
		o.logg.Warn(ctx, "recording history failed: "+err.Error())
	}

	if reply.PhotoURL != "" {
		if err := o.transport.SendPhoto(ctx, update.ChatID, reply.PhotoURL, reply.Caption); err != nil && o.logg != nil {
			o.logg.Warn(ctx, "sending photo failed: "+err.Error())
		}
	}
	if reply.Text != "" {
		if err := o.transport.SendText(ctx, update.ChatID, reply.Text, reply.Buttons); err != nil {
			o.metrics.IncUpdate("error")
			return err
		}
	}
	o.metrics.IncUpdate("ok")
	return nil
}

func (o *Orchestrator) route(ctx context.Context, update Update) (Reply, string, error) {
	recent, err := o.sessions.GetRecentProducts(ctx, update.ChatID)
	if err != nil {
		return Reply{}, "session", err
	}
	history, err := o.history(ctx, update.ChatID)
	if err != nil {
		return Reply{}, "session", err
	}

	result := o.analyzer.Analyze(ctx, update.Text, recent, history)
	o.metrics.IncIntent(string(result.Intent), string(result.Source))

	state, err := o.sessions.GetCheckoutState(ctx, update.ChatID)
	if err != nil {
		return Reply{}, "session", err
	}

	if state.Stage != enums.CheckoutStageNone {
		if state.Stage != enums.CheckoutStageAskConfirm && isInterruption(result.Intent) {
			reply, handler, err := o.dispatch(ctx, update, result)
			if err != nil {
				return reply, handler, err
			}
			if reply.Text != "" {
				reply.Text += "\n\nContinuamos con tu pedido — " + o.checkout.PromptFor(state)
			}
			return reply, handler, nil
		}
		text, err := o.checkout.HandleAnswer(ctx, update.ChatID, update.Text)
		return textReply(text), "checkout", err
	}

	if result.Source == analyzer.SourceLLM &&
		result.Confidence < o.cfg.ConfidenceFloor &&
		utf8.RuneCountInString(update.Text) <= shortMessageRunes {
		return textReply(clarifyText), "clarify", nil
	}

	return o.dispatch(ctx, update, result)
}

func (o *Orchestrator) dispatch(ctx context.Context, update Update, result analyzer.Result) (Reply, string, error) {
	chatID := update.ChatID
	e := result.Entities

	switch result.Intent {
	case enums.IntentProductSearch:
		keywords := e.Keywords
		if keywords == "" {
			keywords = update.Text
		}
		reply, err := o.products.Search(ctx, chatID, keywords)
		return reply, "products", err

	case enums.IntentProductDetail:
		reply, err := o.products.Detail(ctx, chatID, e.SKU, e.Position)
		return reply, "products", err

	case enums.IntentTechnicalQuestion:
		question := e.Question
		if question == "" {
			question = update.Text
		}
		reply, err := o.products.AnswerTechnical(ctx, chatID, e.SKU, e.Position, question)
		return reply, "products", err

	case enums.IntentAddToCart:
		reply, err := o.cart.Add(ctx, chatID, e.SKU, e.Position, e.Quantity)
		return reply, "cart", err

	case enums.IntentUpdateQuantity:
		reply, err := o.cart.Update(ctx, chatID, e.SKU, e.Position, e.Quantity)
		return reply, "cart", err

	case enums.IntentRemoveFromCart:
		reply, err := o.cart.Remove(ctx, chatID, e.SKU, e.Position)
		return reply, "cart", err

	case enums.IntentViewCart:
		reply, err := o.cart.View(ctx, chatID)
		return reply, "cart", err

	case enums.IntentClearCart:
		reply, err := o.cart.Clear(ctx, chatID)
		return reply, "cart", err

	case enums.IntentCheckoutStart:
		text, err := o.checkout.Start(ctx, chatID)
		return textReply(text), "checkout", err

	case enums.IntentCheckoutAnswer:
		text, err := o.checkout.HandleAnswer(ctx, chatID, update.Text)
		return textReply(text), "checkout", err

	case enums.IntentGreeting, enums.IntentHelp:
		return textReply(greetingText), "static", nil

	default:
		return textReply(clarifyText), "static", nil
	}
}

// isInterruption marks the intents allowed to pause an in-progress checkout.
func isInterruption(intent enums.Intent) bool {
	switch intent {
	case enums.IntentProductSearch, enums.IntentProductDetail,
		enums.IntentTechnicalQuestion, enums.IntentViewCart:
		return true
	}
	return false
}

func (o *Orchestrator) history(ctx context.Context, chatID int64) ([]llm.Turn, error) {
	stored, err := o.sessions.GetHistory(ctx, chatID)
	if err != nil {
		return nil, err
	}
	turns := make([]llm.Turn, 0, len(stored))
	for _, turn := range stored {
		turns = append(turns, llm.Turn{Role: turn.Role, Content: turn.Content})
	}
	return turns, nil
}

func (o *Orchestrator) rememberTurn(ctx context.Context, chatID int64, userText, replyText string) error {
	max := o.cfg.HistoryTurns
	if max <= 0 {
		max = 6
	}
	turns := []session.HistoryTurn{{Role: llm.RoleUser, Content: userText}}
	if replyText != "" {
		turns = append(turns, session.HistoryTurn{Role: llm.RoleAssistant, Content: truncate(replyText, 400)})
	}
	return o.sessions.AppendHistory(ctx, chatID, turns, max)
}

func (o *Orchestrator) chatLock(chatID int64) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locks == nil {
		o.locks = make(map[int64]*sync.Mutex)
	}
	lock, ok := o.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[chatID] = lock
	}
	return lock
}
