package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/macroferro/macroferro-backend/internal/catalog"
	"github.com/macroferro/macroferro-backend/internal/llm"
	"github.com/macroferro/macroferro-backend/internal/session"
	"github.com/macroferro/macroferro-backend/internal/vectorindex"
	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/db/models"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
	"github.com/macroferro/macroferro-backend/pkg/logger"
)

const technicalAnswerPrompt = `You answer technical questions about one product of a hardware
wholesaler. Ground every statement ONLY in the product sheet provided.
If the sheet does not contain the answer, reply exactly with: NO_CONFIRMA.
Answer briefly, in the language of the question.`

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type searcher interface {
	Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]vectorindex.Hit, error)
}

type recentStore interface {
	GetRecentProducts(ctx context.Context, chatID int64) ([]session.RecentProduct, error)
	SetRecentProducts(ctx context.Context, chatID int64, products []session.RecentProduct) error
}

type completer interface {
	Complete(ctx context.Context, system string, turns []llm.Turn, jsonMode bool) (string, error)
}

// ProductHandler resolves searches, detail views and technical questions.
type ProductHandler struct {
	catalog  catalog.Repository
	index    searcher
	embedder embedder
	sessions recentStore
	llm      completer
	cfg      config.BotConfig
	logg     *logger.Logger
}

func NewProductHandler(
	catalogRepo catalog.Repository,
	index searcher,
	emb embedder,
	sessions recentStore,
	llmClient completer,
	cfg config.BotConfig,
	logg *logger.Logger,
) (*ProductHandler, error) {
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index required")
	}
	if emb == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if llmClient == nil {
		return nil, fmt.Errorf("model client required")
	}
	return &ProductHandler{
		catalog:  catalogRepo,
		index:    index,
		embedder: emb,
		sessions: sessions,
		llm:      llmClient,
		cfg:      cfg,
		logg:     logg,
	}, nil
}

// Search embeds the query, ranks the index and renders the top matches. A
// below-threshold result set retries once at the related threshold before
// giving up.
func (h *ProductHandler) Search(ctx context.Context, chatID int64, keywords string) (Reply, error) {
	vector, err := h.embedder.Embed(ctx, keywords)
	if err != nil {
		return Reply{}, err
	}

	hits, err := h.index.Search(ctx, vector, h.cfg.SearchTopK, h.cfg.ScoreThreshold)
	if err != nil {
		return Reply{}, err
	}
	related := false
	if len(hits) == 0 {
		related = true
		hits, err = h.index.Search(ctx, vector, h.cfg.SearchTopK, h.cfg.RelatedThreshold)
		if err != nil {
			return Reply{}, err
		}
	}
	if len(hits) == 0 {
		return textReply("No he encontrado nada parecido. Prueba a describirlo con otras palabras."), nil
	}

	products, err := h.enrich(ctx, hits)
	if err != nil {
		return Reply{}, err
	}
	if len(products) == 0 {
		return textReply("No he encontrado nada parecido. Prueba a describirlo con otras palabras."), nil
	}

	recent := make([]session.RecentProduct, 0, len(products))
	for _, p := range products {
		recent = append(recent, session.RecentProduct{SKU: p.SKU, Name: p.Name})
	}
	if err := h.sessions.SetRecentProducts(ctx, chatID, recent); err != nil {
		return Reply{}, err
	}

	shown := products
	if len(shown) > h.cfg.SearchShown {
		shown = shown[:h.cfg.SearchShown]
	}

	var b strings.Builder
	if related {
		b.WriteString("No hay coincidencias exactas, pero esto puede interesarte:\n\n")
	} else {
		b.WriteString("Esto es lo que he encontrado:\n\n")
	}
	var buttons [][]Button
	for i, p := range shown {
		fmt.Fprintf(&b, "*%d. %s*", i+1, p.Name)
		if p.Brand != nil && *p.Brand != "" {
			fmt.Fprintf(&b, " · %s", *p.Brand)
		}
		fmt.Fprintf(&b, "\n%s · `%s`\n", formatPrice(p.Price), p.SKU)
		if p.Description != nil && *p.Description != "" {
			b.WriteString(truncate(*p.Description, 120) + "\n")
		}
		b.WriteString("\n")
		buttons = append(buttons, []Button{detailButton(p.SKU), addButton(p.SKU, 1)})
	}
	b.WriteString("Pide detalles por número o por SKU.")

	return Reply{Text: b.String(), Buttons: buttons}, nil
}

// enrich swaps index hits for catalog records, preserving rank order. SKUs
// the catalog no longer knows are dropped.
func (h *ProductHandler) enrich(ctx context.Context, hits []vectorindex.Hit) ([]models.Product, error) {
	skus := make([]string, 0, len(hits))
	for _, hit := range hits {
		skus = append(skus, hit.SKU)
	}
	products, err := h.catalog.FindBySKUs(ctx, skus)
	if err != nil {
		return nil, err
	}
	if len(products) < len(skus) && h.logg != nil {
		h.logg.Warn(ctx, fmt.Sprintf("vector index returned %d skus unknown to the catalog", len(skus)-len(products)))
	}
	return products, nil
}

// Detail renders one product fully, resolving positional references against
// the last listing.
func (h *ProductHandler) Detail(ctx context.Context, chatID int64, sku string, position int) (Reply, error) {
	resolved, refusal, err := h.resolve(ctx, chatID, sku, position)
	if err != nil {
		return Reply{}, err
	}
	if refusal != "" {
		return textReply(refusal), nil
	}

	product, err := h.catalog.FindBySKU(ctx, resolved)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			return textReply(fmt.Sprintf("No encuentro el producto %s.", resolved)), nil
		}
		return Reply{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n`%s`", product.Name, product.SKU)
	if product.Brand != nil && *product.Brand != "" {
		fmt.Fprintf(&b, " · %s", *product.Brand)
	}
	if product.Category != nil {
		fmt.Fprintf(&b, " · %s", product.Category.Name)
	}
	fmt.Fprintf(&b, "\n\n%s\n", formatPrice(product.Price))
	if product.Description != nil && *product.Description != "" {
		b.WriteString("\n" + *product.Description + "\n")
	}
	if len(product.Specs) > 0 {
		b.WriteString("\nEspecificaciones:\n")
		for _, key := range sortedSpecKeys(product.Specs) {
			fmt.Fprintf(&b, "• %s: %v\n", key, product.Specs[key])
		}
	}

	reply := Reply{
		Text:    b.String(),
		Buttons: [][]Button{{addButton(product.SKU, 1)}},
	}
	if len(product.Images) > 0 {
		reply.PhotoURL = product.Images[0].URL
		reply.Caption = product.Name
	}
	return reply, nil
}

// AnswerTechnical answers a question grounded only in the product sheet.
func (h *ProductHandler) AnswerTechnical(ctx context.Context, chatID int64, sku string, position int, question string) (Reply, error) {
	resolved, refusal, err := h.resolve(ctx, chatID, sku, position)
	if err != nil {
		return Reply{}, err
	}
	if refusal != "" {
		return textReply(refusal), nil
	}

	product, err := h.catalog.FindBySKU(ctx, resolved)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			return textReply(fmt.Sprintf("No encuentro el producto %s.", resolved)), nil
		}
		return Reply{}, err
	}

	var sheet strings.Builder
	fmt.Fprintf(&sheet, "Product: %s (%s)\n", product.Name, product.SKU)
	if product.Description != nil {
		sheet.WriteString(*product.Description + "\n")
	}
	for _, key := range sortedSpecKeys(product.Specs) {
		fmt.Fprintf(&sheet, "%s: %v\n", key, product.Specs[key])
	}

	answer, err := h.llm.Complete(ctx, technicalAnswerPrompt, []llm.Turn{
		{Role: llm.RoleUser, Content: "Product sheet:\n" + sheet.String()},
		{Role: llm.RoleUser, Content: question},
	}, false)
	if err != nil || strings.Contains(answer, "NO_CONFIRMA") {
		return textReply("No puedo confirmarlo con la ficha técnica. Contacta con ventas y te lo resolvemos."), nil
	}
	return textReply(answer), nil
}

func (h *ProductHandler) resolve(ctx context.Context, chatID int64, sku string, position int) (string, string, error) {
	if sku != "" {
		return sku, "", nil
	}
	recent, err := h.sessions.GetRecentProducts(ctx, chatID)
	if err != nil {
		return "", "", err
	}
	resolved, refusal := resolveReference(recent, sku, position)
	return resolved, refusal, nil
}

func sortedSpecKeys(specs map[string]any) []string {
	keys := make([]string, 0, len(specs))
	for key := range specs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
