package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/macroferro/macroferro-backend/internal/catalog"
	"github.com/macroferro/macroferro-backend/internal/session"
	"github.com/macroferro/macroferro-backend/pkg/config"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
)

type cartStore interface {
	recentStore
	GetCart(ctx context.Context, chatID int64) (session.Cart, error)
	SetCart(ctx context.Context, chatID int64, cart session.Cart) error
	ClearCart(ctx context.Context, chatID int64) error
}

// CartHandler mutates and renders the per-chat cart.
type CartHandler struct {
	catalog  catalog.Repository
	sessions cartStore
	maxLines int
}

func NewCartHandler(catalogRepo catalog.Repository, sessions cartStore, cfg config.BotConfig) (*CartHandler, error) {
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	maxLines := cfg.CartViewMaxLines
	if maxLines <= 0 {
		maxLines = 20
	}
	return &CartHandler{catalog: catalogRepo, sessions: sessions, maxLines: maxLines}, nil
}

// Add resolves the reference, validates the SKU and merges the quantity into
// the cart, capturing the current price for new lines.
func (h *CartHandler) Add(ctx context.Context, chatID int64, sku string, position int, qty int) (Reply, error) {
	if qty < 1 {
		qty = 1
	}
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

	cart, err := h.sessions.GetCart(ctx, chatID)
	if err != nil {
		return Reply{}, err
	}
	if line, ok := cart[product.SKU]; ok {
		line.Quantity += qty
		cart[product.SKU] = line
	} else {
		cart[product.SKU] = session.CartItem{
			SKU:       product.SKU,
			Name:      product.Name,
			Quantity:  qty,
			UnitPrice: product.Price,
		}
	}
	if err := h.sessions.SetCart(ctx, chatID, cart); err != nil {
		return Reply{}, err
	}

	return textReply(fmt.Sprintf("Añadido: %s ×%d.\n\n%s", product.Name, qty, h.render(cart))), nil
}

// Update sets a line's quantity exactly; zero removes the line.
func (h *CartHandler) Update(ctx context.Context, chatID int64, sku string, position int, qty int) (Reply, error) {
	if qty == 0 {
		return h.Remove(ctx, chatID, sku, position)
	}
	if qty < 0 {
		return textReply("La cantidad debe ser un número positivo."), nil
	}
	resolved, refusal, err := h.resolve(ctx, chatID, sku, position)
	if err != nil {
		return Reply{}, err
	}
	if refusal != "" {
		return textReply(refusal), nil
	}

	cart, err := h.sessions.GetCart(ctx, chatID)
	if err != nil {
		return Reply{}, err
	}
	line, ok := cart[resolved]
	if !ok {
		// Setting a quantity on an absent line behaves like an add.
		return h.Add(ctx, chatID, resolved, 0, qty)
	}
	line.Quantity = qty
	cart[resolved] = line
	if err := h.sessions.SetCart(ctx, chatID, cart); err != nil {
		return Reply{}, err
	}
	return textReply(fmt.Sprintf("Cantidad actualizada: %s ×%d.\n\n%s", line.Name, qty, h.render(cart))), nil
}

// Remove deletes a line; removing an absent line is a no-op.
func (h *CartHandler) Remove(ctx context.Context, chatID int64, sku string, position int) (Reply, error) {
	resolved, refusal, err := h.resolve(ctx, chatID, sku, position)
	if err != nil {
		return Reply{}, err
	}
	if refusal != "" {
		return textReply(refusal), nil
	}

	cart, err := h.sessions.GetCart(ctx, chatID)
	if err != nil {
		return Reply{}, err
	}
	line, ok := cart[resolved]
	if !ok {
		return textReply(fmt.Sprintf("%s no estaba en tu carrito.\n\n%s", resolved, h.render(cart))), nil
	}
	delete(cart, resolved)
	if err := h.sessions.SetCart(ctx, chatID, cart); err != nil {
		return Reply{}, err
	}
	return textReply(fmt.Sprintf("Eliminado: %s.\n\n%s", line.Name, h.render(cart))), nil
}

// View renders the cart with the recomputed total.
func (h *CartHandler) View(ctx context.Context, chatID int64) (Reply, error) {
	cart, err := h.sessions.GetCart(ctx, chatID)
	if err != nil {
		return Reply{}, err
	}
	return textReply(h.render(cart)), nil
}

// Clear empties the cart.
func (h *CartHandler) Clear(ctx context.Context, chatID int64) (Reply, error) {
	if err := h.sessions.ClearCart(ctx, chatID); err != nil {
		return Reply{}, err
	}
	return textReply("Carrito vaciado."), nil
}

func (h *CartHandler) resolve(ctx context.Context, chatID int64, sku string, position int) (string, string, error) {
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

// render formats the cart, truncating presentation past maxLines.
func (h *CartHandler) render(cart session.Cart) string {
	if len(cart) == 0 {
		return "Tu carrito está vacío."
	}

	skus := make([]string, 0, len(cart))
	for sku := range cart {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	var b strings.Builder
	b.WriteString("🛒 Tu carrito:\n")
	shown := skus
	if len(shown) > h.maxLines {
		shown = shown[:h.maxLines]
	}
	for _, sku := range shown {
		line := cart[sku]
		fmt.Fprintf(&b, "• %s ×%d — %s\n", line.Name, line.Quantity,
			formatPrice(line.UnitPrice.Mul(intToDecimal(line.Quantity))))
	}
	if hidden := len(skus) - len(shown); hidden > 0 {
		fmt.Fprintf(&b, "…y %d más\n", hidden)
	}
	fmt.Fprintf(&b, "Total: %s", formatPrice(cart.Total()))
	return b.String()
}
