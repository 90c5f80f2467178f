package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/macroferro/macroferro-backend/pkg/enums"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
	"github.com/macroferro/macroferro-backend/pkg/redis"
)

// CartItem is one cart line with the unit price captured at add time.
type CartItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Cart maps SKU to its line. An empty map is a valid empty cart.
type Cart map[string]CartItem

// Total recomputes the cart total from its lines.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// RecentProduct is one entry of the last shown listing, in presentation order.
type RecentProduct struct {
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

// CustomerDraft accumulates checkout answers across turns.
type CustomerDraft struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// CheckoutState is the persisted checkout position plus its draft.
type CheckoutState struct {
	Stage enums.CheckoutStage `json:"stage"`
	Draft CustomerDraft       `json:"draft"`
}

type kvStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	CartKey(chatID int64) string
	ContextKey(chatID int64) string
	CheckoutKey(chatID int64) string
	SeenUpdateKey(updateID int64) string
	HistoryKey(chatID int64) string
}

// Store keeps per-chat conversational state in redis.
type Store struct {
	kv      kvStore
	seenTTL time.Duration
}

// NewStore builds the session store. seenTTL guards webhook idempotency
// markers and must be at least 24h.
func NewStore(kv *redis.Client, seenTTL time.Duration) (*Store, error) {
	if kv == nil {
		return nil, errors.New("redis client required")
	}
	if seenTTL < 24*time.Hour {
		seenTTL = 24 * time.Hour
	}
	return &Store{kv: kv, seenTTL: seenTTL}, nil
}

func (s *Store) GetCart(ctx context.Context, chatID int64) (Cart, error) {
	raw, err := s.kv.Get(ctx, s.kv.CartKey(chatID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Cart{}, nil
		}
		return nil, unavailable("reading cart", err)
	}
	var cart Cart
	if err := json.Unmarshal([]byte(raw), &cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding cart")
	}
	if cart == nil {
		cart = Cart{}
	}
	return cart, nil
}

func (s *Store) SetCart(ctx context.Context, chatID int64, cart Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding cart")
	}
	if err := s.kv.Set(ctx, s.kv.CartKey(chatID), string(payload), 0); err != nil {
		return unavailable("writing cart", err)
	}
	return nil
}

func (s *Store) ClearCart(ctx context.Context, chatID int64) error {
	if err := s.kv.Del(ctx, s.kv.CartKey(chatID)); err != nil {
		return unavailable("clearing cart", err)
	}
	return nil
}

// SetRecentProducts replaces the prior listing atomically.
func (s *Store) SetRecentProducts(ctx context.Context, chatID int64, products []RecentProduct) error {
	payload, err := json.Marshal(products)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding recent products")
	}
	if err := s.kv.Set(ctx, s.kv.ContextKey(chatID), string(payload), 0); err != nil {
		return unavailable("writing recent products", err)
	}
	return nil
}

func (s *Store) GetRecentProducts(ctx context.Context, chatID int64) ([]RecentProduct, error) {
	raw, err := s.kv.Get(ctx, s.kv.ContextKey(chatID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, unavailable("reading recent products", err)
	}
	var products []RecentProduct
	if err := json.Unmarshal([]byte(raw), &products); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding recent products")
	}
	return products, nil
}

func (s *Store) GetCheckoutState(ctx context.Context, chatID int64) (CheckoutState, error) {
	raw, err := s.kv.Get(ctx, s.kv.CheckoutKey(chatID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return CheckoutState{Stage: enums.CheckoutStageNone}, nil
		}
		return CheckoutState{}, unavailable("reading checkout state", err)
	}
	var state CheckoutState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return CheckoutState{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding checkout state")
	}
	if state.Stage == "" {
		state.Stage = enums.CheckoutStageNone
	}
	return state, nil
}

func (s *Store) SetCheckoutState(ctx context.Context, chatID int64, state CheckoutState) error {
	if !state.Stage.IsValid() {
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("invalid checkout stage %q", state.Stage))
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding checkout state")
	}
	if err := s.kv.Set(ctx, s.kv.CheckoutKey(chatID), string(payload), 0); err != nil {
		return unavailable("writing checkout state", err)
	}
	return nil
}

func (s *Store) ClearCheckoutState(ctx context.Context, chatID int64) error {
	if err := s.kv.Del(ctx, s.kv.CheckoutKey(chatID)); err != nil {
		return unavailable("clearing checkout state", err)
	}
	return nil
}

// HistoryTurn is one prior message kept for the classifier's context window.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Store) GetHistory(ctx context.Context, chatID int64) ([]HistoryTurn, error) {
	raw, err := s.kv.Get(ctx, s.kv.HistoryKey(chatID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, unavailable("reading history", err)
	}
	var turns []HistoryTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding history")
	}
	return turns, nil
}

// AppendHistory adds turns to the rolling window, keeping only the last max.
// Per-chat serialization makes the read-modify-write safe.
func (s *Store) AppendHistory(ctx context.Context, chatID int64, turns []HistoryTurn, max int) error {
	if len(turns) == 0 {
		return nil
	}
	existing, err := s.GetHistory(ctx, chatID)
	if err != nil {
		return err
	}
	combined := append(existing, turns...)
	if max > 0 && len(combined) > max {
		combined = combined[len(combined)-max:]
	}
	payload, err := json.Marshal(combined)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding history")
	}
	if err := s.kv.Set(ctx, s.kv.HistoryKey(chatID), string(payload), 0); err != nil {
		return unavailable("writing history", err)
	}
	return nil
}

// AllowMessage applies the per-chat fixed-window message limit. A zero or
// negative limit disables the check.
func (s *Store) AllowMessage(ctx context.Context, chatID int64, limit int64, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	allowed, _, err := s.kv.FixedWindowAllow(ctx, "chat:"+strconv.FormatInt(chatID, 10), limit, window)
	if err != nil {
		return false, unavailable("rate limiting", err)
	}
	return allowed, nil
}

// MarkUpdateSeen returns true iff the update id was unseen. Used to drop
// webhook redeliveries.
func (s *Store) MarkUpdateSeen(ctx context.Context, updateID int64) (bool, error) {
	set, err := s.kv.SetNX(ctx, s.kv.SeenUpdateKey(updateID), "1", s.seenTTL)
	if err != nil {
		return false, unavailable("marking update seen", err)
	}
	return set, nil
}

func unavailable(action string, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "session store unavailable: "+action)
}
