package analyzer

import (
	"strconv"
	"strings"

	"github.com/macroferro/macroferro-backend/pkg/enums"
)

// parseCommand short-circuits the stable slash-command grammar without a
// model round trip. Callback payloads from inline buttons share this path.
func parseCommand(text string) (Result, bool) {
	if text == "" {
		return Result{}, false
	}

	if result, ok := parseCallback(text); ok {
		return result, true
	}

	if !strings.HasPrefix(text, "/") {
		return Result{}, false
	}

	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	// Strip the @botname suffix groups append.
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	args := fields[1:]

	result := Result{Confidence: 1, Source: SourceCommand}
	switch command {
	case "/start":
		result.Intent = enums.IntentGreeting
	case "/help":
		result.Intent = enums.IntentHelp
	case "/ver_carrito":
		result.Intent = enums.IntentViewCart
	case "/vaciar_carrito":
		result.Intent = enums.IntentClearCart
	case "/finalizar_compra":
		result.Intent = enums.IntentCheckoutStart
	case "/agregar":
		if len(args) == 0 {
			return Result{}, false
		}
		result.Intent = enums.IntentAddToCart
		result.Entities.SKU = strings.ToUpper(args[0])
		result.Entities.Quantity = 1
		if len(args) > 1 {
			if qty, err := strconv.Atoi(args[1]); err == nil && qty > 0 {
				result.Entities.Quantity = qty
			}
		}
	case "/eliminar":
		if len(args) == 0 {
			return Result{}, false
		}
		result.Intent = enums.IntentRemoveFromCart
		result.Entities.SKU = strings.ToUpper(args[0])
	default:
		return Result{}, false
	}
	return result, true
}

// parseCallback decodes inline-button payloads: detail:<SKU> and add:<SKU>:<qty>.
func parseCallback(text string) (Result, bool) {
	parts := strings.Split(text, ":")
	switch {
	case len(parts) == 2 && parts[0] == "detail" && parts[1] != "":
		return Result{
			Intent:     enums.IntentProductDetail,
			Entities:   Entities{SKU: strings.ToUpper(parts[1])},
			Confidence: 1,
			Source:     SourceCommand,
		}, true
	case len(parts) == 3 && parts[0] == "add" && parts[1] != "":
		qty := 1
		if parsed, err := strconv.Atoi(parts[2]); err == nil && parsed > 0 {
			qty = parsed
		}
		return Result{
			Intent:     enums.IntentAddToCart,
			Entities:   Entities{SKU: strings.ToUpper(parts[1]), Quantity: qty},
			Confidence: 1,
			Source:     SourceCommand,
		}, true
	}
	return Result{}, false
}
