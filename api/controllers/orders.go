package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/macroferro/macroferro-backend/api/responses"
	"github.com/macroferro/macroferro-backend/api/validators"
	"github.com/macroferro/macroferro-backend/internal/orders"
	"github.com/macroferro/macroferro-backend/pkg/enums"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
	"github.com/macroferro/macroferro-backend/pkg/logger"
)

type OrdersController struct {
	orders orders.Service
	logg   *logger.Logger
}

func NewOrdersController(svc orders.Service, logg *logger.Logger) *OrdersController {
	return &OrdersController{orders: svc, logg: logg}
}

func (c *OrdersController) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID := strings.ToUpper(validators.SanitizeString(chi.URLParam(r, "orderID"), 32))
	if orderID == "" {
		responses.WriteError(ctx, c.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id is required"))
		return
	}

	detail, err := c.orders.Get(ctx, orderID)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, detail)
}

// ListByChat returns the recent orders of one conversation.
func (c *OrdersController) ListByChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawChat := strings.TrimSpace(r.URL.Query().Get("chat_id"))
	if rawChat == "" {
		responses.WriteError(ctx, c.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "chat_id is required"))
		return
	}
	chatID, err := strconv.ParseInt(rawChat, 10, 64)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "chat_id must be numeric"))
		return
	}

	limit, err := validators.ParseQueryInt(r, "limit", 10, 1, 50)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	summaries, err := c.orders.ListByChat(ctx, chatID, limit)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, summaries)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateStatus moves an order to a new fulfillment status.
func (c *OrdersController) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID := strings.ToUpper(validators.SanitizeString(chi.URLParam(r, "orderID"), 32))
	if orderID == "" {
		responses.WriteError(ctx, c.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id is required"))
		return
	}

	var req updateStatusRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	status, err := enums.ParseOrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		responses.WriteError(ctx, c.logg, w, pkgerrors.New(pkgerrors.CodeValidation, err.Error()))
		return
	}

	if err := c.orders.UpdateStatus(ctx, orderID, status); err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]string{"order_id": orderID, "status": string(status)})
}
