package analyzer

import (
	"fmt"
	"strings"

	"github.com/macroferro/macroferro-backend/internal/llm"
	"github.com/macroferro/macroferro-backend/internal/session"
)

// systemPrompt enumerates the closed intent set and the output schema. Kept as
// data so prompt revisions do not touch control flow.
const systemPrompt = `You classify messages sent to a hardware wholesaler's sales assistant.
Reply with a single JSON object and nothing else:
{"intent": "<intent>", "confidence": <0..1>, "entities": {...}}

Intents (closed set):
product_search, product_detail, add_to_cart, update_quantity, remove_from_cart,
view_cart, clear_cart, checkout_start, checkout_answer, technical_question,
greeting, help, unknown

Entities by intent:
- product_search: {"keywords": "<search terms>"}
- product_detail, add_to_cart, update_quantity, remove_from_cart:
  {"sku": "<SKU>"} or {"position": <1-based index into the last listing>},
  plus {"quantity": <integer >= 1>} for cart operations
- checkout_answer: {"value": "<the user's literal answer>"}
- technical_question: {"sku" or "position", "question": "<the question>"}

Messages may be in Spanish or English. When the user refers to an item by
ordinal ("el segundo", "the third one"), resolve it to a position using the
numbered listing provided as context. Use "unknown" when nothing fits.`

func buildTurns(text string, recent []session.RecentProduct, history []llm.Turn) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history)+2)
	turns = append(turns, history...)

	if len(recent) > 0 {
		var b strings.Builder
		b.WriteString("Last listing shown to the user:\n")
		for i, p := range recent {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, p.Name, p.SKU)
		}
		turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: b.String()})
	}

	turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: text})
	return turns
}
