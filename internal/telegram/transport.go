// Package telegram adapts the Telegram Bot API to the chat-platform surface
// the orchestrator consumes: outbound sends and inbound webhook decoding.
package telegram

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/macroferro/macroferro-backend/internal/bot"
	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/logger"
)

// Transport sends messages through the Telegram Bot API. It implements
// bot.Transport.
type Transport struct {
	api  *tgbot.Bot
	logg *logger.Logger
}

func NewTransport(cfg config.TelegramConfig, logg *logger.Logger, opts ...tgbot.Option) (*Transport, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token required")
	}
	api, err := tgbot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating telegram client: %w", err)
	}
	return &Transport{api: api, logg: logg}, nil
}

func (t *Transport) SendText(ctx context.Context, chatID int64, text string, buttons [][]bot.Button) error {
	params := &tgbot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeMarkdown,
	}
	if markup := inlineKeyboard(buttons); markup != nil {
		params.ReplyMarkup = markup
	}
	_, err := t.api.SendMessage(ctx, params)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

func (t *Transport) SendPhoto(ctx context.Context, chatID int64, url, caption string) error {
	_, err := t.api.SendPhoto(ctx, &tgbot.SendPhotoParams{
		ChatID:  chatID,
		Photo:   &tgmodels.InputFileString{Data: url},
		Caption: caption,
	})
	if err != nil {
		return fmt.Errorf("sending photo: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a pressed inline button so the client stops
// showing the progress spinner. Failures are log-only.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID string) {
	if callbackID == "" {
		return
	}
	_, err := t.api.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
	})
	if err != nil && t.logg != nil {
		t.logg.Warn(ctx, "answering callback failed: "+err.Error())
	}
}

func inlineKeyboard(buttons [][]bot.Button) *tgmodels.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]tgmodels.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		if len(row) == 0 {
			continue
		}
		cells := make([]tgmodels.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			cells = append(cells, tgmodels.InlineKeyboardButton{
				Text:         b.Label,
				CallbackData: b.Data,
			})
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return nil
	}
	return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}
