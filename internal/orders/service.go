package orders

import (
	"context"
	"fmt"

	"github.com/macroferro/macroferro-backend/pkg/enums"
)

// Service exposes the order read paths and the status transition used by the
// HTTP API.
type Service interface {
	Get(ctx context.Context, orderID string) (*OrderDetail, error)
	ListByChat(ctx context.Context, chatID int64, limit int) ([]OrderSummary, error)
	UpdateStatus(ctx context.Context, orderID string, status enums.OrderStatus) error
}

type service struct {
	repo Repository
}

// NewService builds an order service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Get(ctx context.Context, orderID string) (*OrderDetail, error) {
	order, err := s.repo.FindByIDWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return toOrderDetail(order), nil
}

func (s *service) ListByChat(ctx context.Context, chatID int64, limit int) ([]OrderSummary, error) {
	rows, err := s.repo.ListByChat(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]OrderSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, toOrderSummary(row))
	}
	return summaries, nil
}

func (s *service) UpdateStatus(ctx context.Context, orderID string, status enums.OrderStatus) error {
	return s.repo.UpdateStatus(ctx, orderID, status)
}
