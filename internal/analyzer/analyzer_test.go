package analyzer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/macroferro/macroferro-backend/internal/llm"
	"github.com/macroferro/macroferro-backend/internal/session"
	"github.com/macroferro/macroferro-backend/pkg/enums"
)

type stubClassifier struct {
	calls    int
	response string
	err      error
	lastTurn string
	turns    []llm.Turn
}

func (s *stubClassifier) Complete(ctx context.Context, system string, turns []llm.Turn, jsonMode bool) (string, error) {
	s.calls++
	s.turns = turns
	if len(turns) > 0 {
		s.lastTurn = turns[len(turns)-1].Content
	}
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func newTestAnalyzer(t *testing.T, c classifier) *Analyzer {
	t.Helper()
	a, err := New(c, nil, nil)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	return a
}

func TestSlashCommandsSkipTheModel(t *testing.T) {
	stub := &stubClassifier{}
	a := newTestAnalyzer(t, stub)
	ctx := context.Background()

	cases := []struct {
		text   string
		intent enums.Intent
		sku    string
		qty    int
	}{
		{"/agregar SKU00010 2", enums.IntentAddToCart, "SKU00010", 2},
		{"/agregar sku00010", enums.IntentAddToCart, "SKU00010", 1},
		{"/eliminar SKU00010", enums.IntentRemoveFromCart, "SKU00010", 0},
		{"/ver_carrito", enums.IntentViewCart, "", 0},
		{"/vaciar_carrito", enums.IntentClearCart, "", 0},
		{"/finalizar_compra", enums.IntentCheckoutStart, "", 0},
		{"/start", enums.IntentGreeting, "", 0},
		{"/help@macroferro_bot", enums.IntentHelp, "", 0},
	}
	for _, tc := range cases {
		got := a.Analyze(ctx, tc.text, nil, nil)
		if got.Intent != tc.intent {
			t.Fatalf("%q: expected %s, got %s", tc.text, tc.intent, got.Intent)
		}
		if got.Entities.SKU != tc.sku || got.Entities.Quantity != tc.qty {
			t.Fatalf("%q: unexpected entities %+v", tc.text, got.Entities)
		}
		if got.Source != SourceCommand {
			t.Fatalf("%q: expected command source", tc.text)
		}
	}
	if stub.calls != 0 {
		t.Fatalf("model must not be called for commands, got %d calls", stub.calls)
	}
}

func TestCallbackPayloadsParseAsCommands(t *testing.T) {
	a := newTestAnalyzer(t, &stubClassifier{})
	ctx := context.Background()

	got := a.Analyze(ctx, "detail:SKU00011", nil, nil)
	if got.Intent != enums.IntentProductDetail || got.Entities.SKU != "SKU00011" {
		t.Fatalf("unexpected detail callback result: %+v", got)
	}

	got = a.Analyze(ctx, "add:SKU00011:3", nil, nil)
	if got.Intent != enums.IntentAddToCart || got.Entities.Quantity != 3 {
		t.Fatalf("unexpected add callback result: %+v", got)
	}
}

func TestAnalyzeParsesModelOutput(t *testing.T) {
	stub := &stubClassifier{response: `{"intent":"add_to_cart","confidence":0.93,"entities":{"position":2,"quantity":0}}`}
	a := newTestAnalyzer(t, stub)

	got := a.Analyze(context.Background(), "ponme dos del segundo", nil, nil)
	if got.Intent != enums.IntentAddToCart || got.Source != SourceLLM {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.Entities.Position != 2 {
		t.Fatalf("expected position 2, got %d", got.Entities.Position)
	}
	if got.Entities.Quantity != 1 {
		t.Fatalf("quantity must clamp to 1, got %d", got.Entities.Quantity)
	}
}

func TestAnalyzeSKUWinsOverPosition(t *testing.T) {
	stub := &stubClassifier{response: `{"intent":"product_detail","confidence":0.9,"entities":{"sku":"sku00042","position":1}}`}
	a := newTestAnalyzer(t, stub)

	got := a.Analyze(context.Background(), "detalles del SKU00042", nil, nil)
	if got.Entities.SKU != "SKU00042" {
		t.Fatalf("sku must be uppercased, got %q", got.Entities.SKU)
	}
	if got.Entities.Position != 0 {
		t.Fatalf("position must be dropped when sku present, got %d", got.Entities.Position)
	}
}

func TestAnalyzeToleratesCodeFences(t *testing.T) {
	stub := &stubClassifier{response: "```json\n{\"intent\":\"greeting\",\"confidence\":0.99,\"entities\":{}}\n```"}
	a := newTestAnalyzer(t, stub)

	got := a.Analyze(context.Background(), "hola", nil, nil)
	if got.Intent != enums.IntentGreeting || got.Source != SourceLLM {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestAnalyzeFallsBackOnModelError(t *testing.T) {
	stub := &stubClassifier{err: fmt.Errorf("upstream down")}
	a := newTestAnalyzer(t, stub)

	got := a.Analyze(context.Background(), "busco algo para cortar metal", nil, nil)
	if got.Intent != enums.IntentProductSearch || got.Source != SourceFallback {
		t.Fatalf("expected keyword fallback search, got %+v", got)
	}
	if got.Entities.Keywords != "busco algo para cortar metal" {
		t.Fatalf("raw text must become keywords, got %q", got.Entities.Keywords)
	}
}

func TestAnalyzeFallsBackOnBadSchema(t *testing.T) {
	stub := &stubClassifier{response: `{"intent":"launch_rockets","confidence":1,"entities":{}}`}
	a := newTestAnalyzer(t, stub)

	got := a.Analyze(context.Background(), "SKU00042", nil, nil)
	if got.Source != SourceFallback {
		t.Fatalf("expected fallback, got %+v", got)
	}
	if got.Intent != enums.IntentProductDetail || got.Entities.SKU != "SKU00042" {
		t.Fatalf("pure sku text must route to detail, got %+v", got)
	}
}

func TestAnalyzeIncludesPositionalContext(t *testing.T) {
	stub := &stubClassifier{response: `{"intent":"product_detail","confidence":0.9,"entities":{"position":2}}`}
	a := newTestAnalyzer(t, stub)

	recent := []session.RecentProduct{
		{SKU: "SKU0A", Name: "Martillo"},
		{SKU: "SKU0B", Name: "Taladro"},
	}
	a.Analyze(context.Background(), "dame detalles del segundo", recent, nil)

	var contextTurn string
	for _, turn := range stub.turns {
		if strings.Contains(turn.Content, "SKU0B") {
			contextTurn = turn.Content
		}
	}
	if !strings.Contains(contextTurn, "2. Taladro (SKU0B)") {
		t.Fatalf("positional context missing or malformed: %q", contextTurn)
	}
	if stub.lastTurn != "dame detalles del segundo" {
		t.Fatalf("user message must be the final turn, got %q", stub.lastTurn)
	}
}

func TestFingerprintKeywordRouting(t *testing.T) {
	cases := []struct {
		text   string
		intent enums.Intent
	}{
		{"ver mi carrito", enums.IntentViewCart},
		{"hola buenas", enums.IntentGreeting},
		{"necesito ayuda", enums.IntentHelp},
		{"quiero finalizar la compra", enums.IntentCheckoutStart},
		{"brocas para hormigon", enums.IntentProductSearch},
	}
	for _, tc := range cases {
		got := fingerprint(tc.text)
		if got.Intent != tc.intent {
			t.Fatalf("%q: expected %s, got %s", tc.text, tc.intent, got.Intent)
		}
	}
}
