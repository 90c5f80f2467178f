package telegram

import (
	"encoding/json"
	"fmt"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/macroferro/macroferro-backend/internal/bot"
)

// Inbound is one decoded webhook delivery. CallbackID is set when the update
// came from a pressed inline button and should be acknowledged.
type Inbound struct {
	bot.Update
	CallbackID string
}

// DecodeUpdate parses a raw Telegram webhook body. Updates without a text
// message or callback are returned with an empty Text; the orchestrator
// drops those silently.
func DecodeUpdate(body []byte) (Inbound, error) {
	var update tgmodels.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return Inbound{}, fmt.Errorf("decoding update: %w", err)
	}

	inbound := Inbound{Update: bot.Update{UpdateID: update.ID}}

	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		inbound.CallbackID = cb.ID
		inbound.Text = cb.Data
		inbound.Username = cb.From.Username
		if cb.Message.Message != nil {
			inbound.ChatID = cb.Message.Message.Chat.ID
		}
	case update.Message != nil:
		msg := update.Message
		inbound.ChatID = msg.Chat.ID
		inbound.Text = msg.Text
		if msg.From != nil {
			inbound.Username = msg.From.Username
		}
	}

	if inbound.ChatID == 0 {
		return inbound, fmt.Errorf("update %d carries no chat", update.ID)
	}
	return inbound, nil
}
