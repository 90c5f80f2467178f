package bot

import (
	"fmt"

	"github.com/macroferro/macroferro-backend/internal/session"
)

// resolveReference turns a (sku, position) entity pair into a SKU against the
// last shown listing. An explicit SKU always wins. The returned message is a
// user-facing refusal when resolution fails.
func resolveReference(recent []session.RecentProduct, sku string, position int) (string, string) {
	if sku != "" {
		return sku, ""
	}
	if position <= 0 {
		return "", "Dime el SKU o la posición del producto en la última lista."
	}
	if position > len(recent) {
		return "", fmt.Sprintf("No veo el artículo %d en la última lista.", position)
	}
	return recent[position-1].SKU, ""
}
