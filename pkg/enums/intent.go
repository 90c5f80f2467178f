package enums

import "fmt"

// Intent is the closed set of conversational intents the analyzer emits.
type Intent string

const (
	IntentProductSearch     Intent = "product_search"
	IntentProductDetail     Intent = "product_detail"
	IntentAddToCart         Intent = "add_to_cart"
	IntentUpdateQuantity    Intent = "update_quantity"
	IntentRemoveFromCart    Intent = "remove_from_cart"
	IntentViewCart          Intent = "view_cart"
	IntentClearCart         Intent = "clear_cart"
	IntentCheckoutStart     Intent = "checkout_start"
	IntentCheckoutAnswer    Intent = "checkout_answer"
	IntentTechnicalQuestion Intent = "technical_question"
	IntentGreeting          Intent = "greeting"
	IntentHelp              Intent = "help"
	IntentUnknown           Intent = "unknown"
)

var validIntents = []Intent{
	IntentProductSearch,
	IntentProductDetail,
	IntentAddToCart,
	IntentUpdateQuantity,
	IntentRemoveFromCart,
	IntentViewCart,
	IntentClearCart,
	IntentCheckoutStart,
	IntentCheckoutAnswer,
	IntentTechnicalQuestion,
	IntentGreeting,
	IntentHelp,
	IntentUnknown,
}

// IsValid reports whether the value matches the canonical intent enum.
func (i Intent) IsValid() bool {
	for _, candidate := range validIntents {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseIntent converts the raw string to Intent.
func ParseIntent(value string) (Intent, error) {
	for _, candidate := range validIntents {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid intent %q", value)
}
