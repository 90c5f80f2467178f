package analyzer

import (
	"regexp"
	"strings"

	"github.com/macroferro/macroferro-backend/pkg/enums"
)

var skuPattern = regexp.MustCompile(`^[A-Za-z]{2,5}-?\d{3,8}$`)

var fallbackFingerprints = []struct {
	intent   enums.Intent
	patterns []string
}{
	{enums.IntentViewCart, []string{"carrito", "mi cesta", "my cart"}},
	{enums.IntentClearCart, []string{"vaciar", "empty the cart", "vacia el carrito"}},
	{enums.IntentCheckoutStart, []string{"finalizar", "checkout", "comprar ya", "tramitar pedido"}},
	{enums.IntentGreeting, []string{"hola", "buenos dias", "buenas tardes", "hello", "hi "}},
	{enums.IntentHelp, []string{"ayuda", "help", "que puedes hacer"}},
}

// fingerprint is the rule-based classifier used when the model is unavailable
// or emits garbage. Unmatched text becomes a product search over the raw text.
func fingerprint(text string) Result {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if trimmed == "" {
		return Result{Intent: enums.IntentUnknown, Confidence: 1, Source: SourceFallback}
	}

	if skuPattern.MatchString(trimmed) {
		return Result{
			Intent:     enums.IntentProductDetail,
			Entities:   Entities{SKU: strings.ToUpper(trimmed)},
			Confidence: 1,
			Source:     SourceFallback,
		}
	}

	for _, fp := range fallbackFingerprints {
		for _, pattern := range fp.patterns {
			if strings.Contains(lower, pattern) {
				return Result{Intent: fp.intent, Confidence: 0.8, Source: SourceFallback}
			}
		}
	}

	return Result{
		Intent:     enums.IntentProductSearch,
		Entities:   Entities{Keywords: trimmed},
		Confidence: 0.6,
		Source:     SourceFallback,
	}
}
