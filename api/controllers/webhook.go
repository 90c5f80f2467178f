package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/macroferro/macroferro-backend/internal/bot"
	"github.com/macroferro/macroferro-backend/internal/telegram"
	"github.com/macroferro/macroferro-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type updateHandler interface {
	HandleUpdate(ctx context.Context, update bot.Update) error
}

type callbackAcker interface {
	AnswerCallback(ctx context.Context, callbackID string)
}

// WebhookController receives Telegram webhook deliveries. It always answers
// 200 with an empty body: Telegram redelivers on any other status, and the
// orchestrator's dedup layer handles replays.
type WebhookController struct {
	orch  updateHandler
	acker callbackAcker
	logg  *logger.Logger
}

func NewWebhookController(orch updateHandler, acker callbackAcker, logg *logger.Logger) *WebhookController {
	return &WebhookController{orch: orch, acker: acker, logg: logg}
}

func (c *WebhookController) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		if c.logg != nil {
			c.logg.Warn(ctx, "reading webhook body failed: "+err.Error())
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	inbound, err := telegram.DecodeUpdate(body)
	if err != nil {
		if c.logg != nil {
			c.logg.Warn(ctx, "dropping undecodable update: "+err.Error())
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	if inbound.CallbackID != "" && c.acker != nil {
		c.acker.AnswerCallback(ctx, inbound.CallbackID)
	}

	if err := c.orch.HandleUpdate(ctx, inbound.Update); err != nil && c.logg != nil {
		c.logg.Error(ctx, "handling update failed", err)
	}
	w.WriteHeader(http.StatusOK)
}
