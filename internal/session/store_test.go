package session

import (
	"context"
	"strconv"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/macroferro/macroferro-backend/pkg/enums"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
)

type stubKV struct {
	data map[string]string
	fail bool
}

func newStubKV() *stubKV {
	return &stubKV{data: make(map[string]string)}
}

func (s *stubKV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if s.fail {
		return context.DeadlineExceeded
	}
	s.data[key] = value.(string)
	return nil
}

func (s *stubKV) Get(ctx context.Context, key string) (string, error) {
	if s.fail {
		return "", context.DeadlineExceeded
	}
	v, ok := s.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (s *stubKV) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.fail {
		return false, context.DeadlineExceeded
	}
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = value.(string)
	return true, nil
}

func (s *stubKV) Del(ctx context.Context, keys ...string) error {
	if s.fail {
		return context.DeadlineExceeded
	}
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *stubKV) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if s.fail {
		return false, 0, context.DeadlineExceeded
	}
	key := "rl:" + scope
	count, _ := strconv.ParseInt(s.data[key], 10, 64)
	count++
	s.data[key] = strconv.FormatInt(count, 10)
	return count <= limit, count, nil
}

func (s *stubKV) CartKey(chatID int64) string     { return "cart:" + strconv.FormatInt(chatID, 10) }
func (s *stubKV) ContextKey(chatID int64) string  { return "ctx:" + strconv.FormatInt(chatID, 10) }
func (s *stubKV) CheckoutKey(chatID int64) string { return "co:" + strconv.FormatInt(chatID, 10) }
func (s *stubKV) SeenUpdateKey(updateID int64) string {
	return "seen:" + strconv.FormatInt(updateID, 10)
}
func (s *stubKV) HistoryKey(chatID int64) string { return "hist:" + strconv.FormatInt(chatID, 10) }

func newTestStore(kv kvStore) *Store {
	return &Store{kv: kv, seenTTL: 24 * time.Hour}
}

func TestCartRoundTripAndTotal(t *testing.T) {
	store := newTestStore(newStubKV())
	ctx := context.Background()

	cart, err := store.GetCart(ctx, 7)
	if err != nil {
		t.Fatalf("empty cart read failed: %v", err)
	}
	if len(cart) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(cart))
	}

	cart["SKU-1"] = CartItem{SKU: "SKU-1", Name: "Taladro", Quantity: 2, UnitPrice: decimal.RequireFromString("10.50")}
	cart["SKU-2"] = CartItem{SKU: "SKU-2", Name: "Broca", Quantity: 1, UnitPrice: decimal.RequireFromString("3.25")}
	if err := store.SetCart(ctx, 7, cart); err != nil {
		t.Fatalf("set cart failed: %v", err)
	}

	got, err := store.GetCart(ctx, 7)
	if err != nil {
		t.Fatalf("get cart failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if want := decimal.RequireFromString("24.25"); !got.Total().Equal(want) {
		t.Fatalf("expected total %s, got %s", want, got.Total())
	}

	if err := store.ClearCart(ctx, 7); err != nil {
		t.Fatalf("clear cart failed: %v", err)
	}
	got, _ = store.GetCart(ctx, 7)
	if len(got) != 0 {
		t.Fatal("cart should be empty after clear")
	}
}

func TestRecentProductsReplaceAtomically(t *testing.T) {
	store := newTestStore(newStubKV())
	ctx := context.Background()

	first := []RecentProduct{{SKU: "A"}, {SKU: "B"}, {SKU: "C"}}
	if err := store.SetRecentProducts(ctx, 9, first); err != nil {
		t.Fatalf("set recent failed: %v", err)
	}
	second := []RecentProduct{{SKU: "X"}}
	if err := store.SetRecentProducts(ctx, 9, second); err != nil {
		t.Fatalf("replace recent failed: %v", err)
	}

	got, err := store.GetRecentProducts(ctx, 9)
	if err != nil {
		t.Fatalf("get recent failed: %v", err)
	}
	if len(got) != 1 || got[0].SKU != "X" {
		t.Fatalf("expected replaced list, got %+v", got)
	}
}

func TestCheckoutStateDefaultsToNone(t *testing.T) {
	store := newTestStore(newStubKV())
	ctx := context.Background()

	state, err := store.GetCheckoutState(ctx, 11)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if state.Stage != enums.CheckoutStageNone {
		t.Fatalf("expected none stage, got %s", state.Stage)
	}

	state = CheckoutState{
		Stage: enums.CheckoutStageAskName,
		Draft: CustomerDraft{Email: "b@example.com"},
	}
	if err := store.SetCheckoutState(ctx, 11, state); err != nil {
		t.Fatalf("set state failed: %v", err)
	}

	got, err := store.GetCheckoutState(ctx, 11)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if got.Stage != enums.CheckoutStageAskName || got.Draft.Email != "b@example.com" {
		t.Fatalf("draft lost across persist: %+v", got)
	}

	if err := store.SetCheckoutState(ctx, 11, CheckoutState{Stage: "bogus"}); err == nil {
		t.Fatal("invalid stage must be rejected")
	}
}

func TestHistoryRollingWindow(t *testing.T) {
	store := newTestStore(newStubKV())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := store.AppendHistory(ctx, 3, []HistoryTurn{
			{Role: "user", Content: strconv.Itoa(i)},
			{Role: "assistant", Content: "r" + strconv.Itoa(i)},
		}, 6)
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := store.GetHistory(ctx, 3)
	if err != nil {
		t.Fatalf("get history failed: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected window of 6, got %d", len(got))
	}
	if got[0].Content != "2" || got[len(got)-1].Content != "r4" {
		t.Fatalf("window kept wrong turns: %+v", got)
	}
}

func TestMarkUpdateSeenIsIdempotent(t *testing.T) {
	store := newTestStore(newStubKV())
	ctx := context.Background()

	unseen, err := store.MarkUpdateSeen(ctx, 555)
	if err != nil {
		t.Fatalf("mark seen failed: %v", err)
	}
	if !unseen {
		t.Fatal("first delivery should be unseen")
	}

	unseen, err = store.MarkUpdateSeen(ctx, 555)
	if err != nil {
		t.Fatalf("mark seen failed: %v", err)
	}
	if unseen {
		t.Fatal("redelivery should be reported as seen")
	}
}

func TestStoreUnavailableMapsToDependencyError(t *testing.T) {
	kv := newStubKV()
	kv.fail = true
	store := newTestStore(kv)

	_, err := store.GetCart(context.Background(), 1)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected DEPENDENCY_ERROR, got %v", err)
	}
}

func TestAllowMessageFixedWindow(t *testing.T) {
	store := newTestStore(newStubKV())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := store.AllowMessage(ctx, 7, 2, time.Minute)
		if err != nil {
			t.Fatalf("allow failed: %v", err)
		}
		if !allowed {
			t.Fatalf("message %d should be within the limit", i+1)
		}
	}
	allowed, err := store.AllowMessage(ctx, 7, 2, time.Minute)
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if allowed {
		t.Fatal("third message must exceed the limit")
	}

	// A zero limit disables the check entirely.
	allowed, err = store.AllowMessage(ctx, 7, 0, time.Minute)
	if err != nil || !allowed {
		t.Fatalf("disabled limit must allow, got %v %v", allowed, err)
	}
}
