package bot

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/macroferro/macroferro-backend/internal/catalog"
	"github.com/macroferro/macroferro-backend/internal/llm"
	"github.com/macroferro/macroferro-backend/internal/session"
	"github.com/macroferro/macroferro-backend/internal/vectorindex"
	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/db/models"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
)

type stubCatalog struct {
	catalog.Repository
	products map[string]models.Product
}

func (s *stubCatalog) FindBySKU(ctx context.Context, sku string) (*models.Product, error) {
	p, ok := s.products[sku]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return &p, nil
}

func (s *stubCatalog) FindBySKUs(ctx context.Context, skus []string) ([]models.Product, error) {
	var out []models.Product
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubIndex struct {
	calls      []float32
	hits       [][]vectorindex.Hit
	thresholds []float32
}

func (s *stubIndex) Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]vectorindex.Hit, error) {
	s.thresholds = append(s.thresholds, threshold)
	call := len(s.thresholds) - 1
	if call < len(s.hits) {
		return s.hits[call], nil
	}
	return nil, nil
}

type stubEmbed struct{}

func (stubEmbed) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

type memRecent struct {
	recent map[int64][]session.RecentProduct
	carts  map[int64]session.Cart
}

func newMemRecent() *memRecent {
	return &memRecent{
		recent: make(map[int64][]session.RecentProduct),
		carts:  make(map[int64]session.Cart),
	}
}

func (m *memRecent) GetRecentProducts(ctx context.Context, chatID int64) ([]session.RecentProduct, error) {
	return m.recent[chatID], nil
}

func (m *memRecent) SetRecentProducts(ctx context.Context, chatID int64, products []session.RecentProduct) error {
	m.recent[chatID] = products
	return nil
}

func (m *memRecent) GetCart(ctx context.Context, chatID int64) (session.Cart, error) {
	cart, ok := m.carts[chatID]
	if !ok {
		return session.Cart{}, nil
	}
	return cart, nil
}

func (m *memRecent) SetCart(ctx context.Context, chatID int64, cart session.Cart) error {
	m.carts[chatID] = cart
	return nil
}

func (m *memRecent) ClearCart(ctx context.Context, chatID int64) error {
	delete(m.carts, chatID)
	return nil
}

type fixedCompleter struct {
	answer string
}

func (f *fixedCompleter) Complete(ctx context.Context, system string, turns []llm.Turn, jsonMode bool) (string, error) {
	return f.answer, nil
}

func botConfig() config.BotConfig {
	return config.BotConfig{
		SearchTopK:       5,
		SearchShown:      3,
		ScoreThreshold:   0.6,
		RelatedThreshold: 0.45,
		ConfidenceFloor:  0.5,
		HistoryTurns:     6,
		CartViewMaxLines: 20,
	}
}

func sampleProduct(sku, name, price string) models.Product {
	desc := "Descripción de " + name
	brand := "Hilti"
	return models.Product{
		SKU:         sku,
		Name:        name,
		Description: &desc,
		Brand:       &brand,
		Price:       decimal.RequireFromString(price),
	}
}

func newProductHandler(t *testing.T, cat *stubCatalog, idx *stubIndex, sessions *memRecent, answer string) *ProductHandler {
	t.Helper()
	h, err := NewProductHandler(cat, idx, stubEmbed{}, sessions, &fixedCompleter{answer: answer}, botConfig(), nil)
	if err != nil {
		t.Fatalf("new product handler: %v", err)
	}
	return h
}

func TestSearchShowsThreeRemembersFive(t *testing.T) {
	cat := &stubCatalog{products: map[string]models.Product{
		"SKU1": sampleProduct("SKU1", "Taladro A", "10.00"),
		"SKU2": sampleProduct("SKU2", "Taladro B", "20.00"),
		"SKU3": sampleProduct("SKU3", "Taladro C", "30.00"),
		"SKU4": sampleProduct("SKU4", "Taladro D", "40.00"),
		"SKU5": sampleProduct("SKU5", "Taladro E", "50.00"),
	}}
	idx := &stubIndex{hits: [][]vectorindex.Hit{{
		{SKU: "SKU1"}, {SKU: "SKU2"}, {SKU: "SKU3"}, {SKU: "SKU4"}, {SKU: "SKU5"},
	}}}
	sessions := newMemRecent()
	h := newProductHandler(t, cat, idx, sessions, "")

	reply, err := h.Search(context.Background(), 7, "taladros")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(reply.Text, "3. Taladro C") || strings.Contains(reply.Text, "Taladro D") {
		t.Fatalf("expected exactly 3 shown items:\n%s", reply.Text)
	}
	if len(sessions.recent[7]) != 5 {
		t.Fatalf("expected 5 remembered products, got %d", len(sessions.recent[7]))
	}
	if len(reply.Buttons) != 3 || reply.Buttons[0][0].Data != "detail:SKU1" {
		t.Fatalf("unexpected buttons: %+v", reply.Buttons)
	}
	if idx.thresholds[0] != 0.6 {
		t.Fatalf("expected main threshold 0.6, got %v", idx.thresholds[0])
	}
}

func TestSearchRelatedFallback(t *testing.T) {
	cat := &stubCatalog{products: map[string]models.Product{
		"SKU9": sampleProduct("SKU9", "Sierra", "15.00"),
	}}
	idx := &stubIndex{hits: [][]vectorindex.Hit{nil, {{SKU: "SKU9"}}}}
	h := newProductHandler(t, cat, idx, newMemRecent(), "")

	reply, err := h.Search(context.Background(), 7, "algo raro")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(idx.thresholds) != 2 || idx.thresholds[1] != 0.45 {
		t.Fatalf("expected lowered threshold retry, got %v", idx.thresholds)
	}
	if !strings.Contains(reply.Text, "puede interesarte") {
		t.Fatalf("expected related framing:\n%s", reply.Text)
	}
}

func TestSearchNoMatchesSentinel(t *testing.T) {
	idx := &stubIndex{}
	h := newProductHandler(t, &stubCatalog{products: map[string]models.Product{}}, idx, newMemRecent(), "")

	reply, err := h.Search(context.Background(), 7, "unicornios")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(reply.Text, "No he encontrado") {
		t.Fatalf("expected sentinel reply:\n%s", reply.Text)
	}
}

func TestSearchDropsSKUsMissingFromCatalog(t *testing.T) {
	cat := &stubCatalog{products: map[string]models.Product{
		"SKU1": sampleProduct("SKU1", "Taladro A", "10.00"),
	}}
	idx := &stubIndex{hits: [][]vectorindex.Hit{{{SKU: "SKU1"}, {SKU: "GONE"}}}}
	sessions := newMemRecent()
	h := newProductHandler(t, cat, idx, sessions, "")

	reply, err := h.Search(context.Background(), 7, "taladro")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if strings.Contains(reply.Text, "GONE") {
		t.Fatalf("stale sku leaked into reply:\n%s", reply.Text)
	}
	if len(sessions.recent[7]) != 1 {
		t.Fatalf("stale sku leaked into recent list: %+v", sessions.recent[7])
	}
}

func TestDetailResolvesPosition(t *testing.T) {
	cat := &stubCatalog{products: map[string]models.Product{
		"SKU0B": sampleProduct("SKU0B", "Taladro B", "20.00"),
	}}
	sessions := newMemRecent()
	sessions.recent[7] = []session.RecentProduct{
		{SKU: "SKU0A", Name: "A"}, {SKU: "SKU0B", Name: "B"}, {SKU: "SKU0C", Name: "C"},
	}
	h := newProductHandler(t, cat, &stubIndex{}, sessions, "")

	reply, err := h.Detail(context.Background(), 7, "", 2)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !strings.Contains(reply.Text, "Taladro B") {
		t.Fatalf("position 2 must resolve to SKU0B:\n%s", reply.Text)
	}

	reply, err = h.Detail(context.Background(), 7, "", 9)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !strings.Contains(reply.Text, "No veo el artículo 9") {
		t.Fatalf("out of range must refuse:\n%s", reply.Text)
	}
}

func TestAnswerTechnicalRefusesWhenUngrounded(t *testing.T) {
	cat := &stubCatalog{products: map[string]models.Product{
		"SKU1": sampleProduct("SKU1", "Taladro", "10.00"),
	}}
	h := newProductHandler(t, cat, &stubIndex{}, newMemRecent(), "NO_CONFIRMA")

	reply, err := h.AnswerTechnical(context.Background(), 7, "SKU1", 0, "¿aguanta 400V?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !strings.Contains(reply.Text, "Contacta con ventas") {
		t.Fatalf("expected refusal, got:\n%s", reply.Text)
	}
}
