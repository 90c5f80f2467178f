package bot

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Button is one inline keyboard button. Data round-trips back through the
// webhook as callback data (detail:<SKU> or add:<SKU>:<qty>).
type Button struct {
	Label string
	Data  string
}

// Reply is the outbound message composed by a handler.
type Reply struct {
	Text     string
	Buttons  [][]Button
	PhotoURL string
	Caption  string
}

func textReply(text string) Reply {
	return Reply{Text: text}
}

func detailButton(sku string) Button {
	return Button{Label: "Ver detalles", Data: "detail:" + sku}
}

func addButton(sku string, qty int) Button {
	return Button{Label: "Añadir al carrito", Data: fmt.Sprintf("add:%s:%d", sku, qty)}
}

// formatPrice renders a decimal as a European-style price: 1.234,56 €.
func formatPrice(price decimal.Decimal) string {
	fixed := price.StringFixed(2)
	neg := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	parts := strings.SplitN(fixed, ".", 2)
	whole, frac := parts[0], parts[1]

	var groups []string
	for len(whole) > 3 {
		groups = append([]string{whole[len(whole)-3:]}, groups...)
		whole = whole[:len(whole)-3]
	}
	groups = append([]string{whole}, groups...)

	out := strings.Join(groups, ".") + "," + frac + " €"
	if neg {
		out = "-" + out
	}
	return out
}

func intToDecimal(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// truncate shortens long descriptions for list views.
func truncate(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
