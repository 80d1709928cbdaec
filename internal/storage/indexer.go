package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/nebula-market/internal/events"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
	"github.com/rovshanmuradov/nebula-market/internal/storage/models"
)

// Indexer mirrors market events into SQL storage: executed trades become
// orders and snapshots, refused operations become rejections.
type Indexer struct {
	store  Storage
	logger *zap.Logger
}

func NewIndexer(store Storage, logger *zap.Logger) *Indexer {
	return &Indexer{store: store, logger: logger.Named("indexer")}
}

// Handle implements events.Handler.
func (ix *Indexer) Handle(ctx context.Context, event events.Event) error {
	if !event.Success() {
		return ix.reject(ctx, event)
	}

	switch e := event.(type) {
	case events.BuyEvent:
		order := &models.Order{
			OrderID:    e.OrderID,
			Account:    e.Account,
			Type:       "buy",
			Amount:     numeric.String(e.Amount),
			Value:      numeric.String(e.Value),
			Price:      numeric.String(e.Price),
			Referer:    e.Referer,
			Commission: numeric.String(e.Commission),
			ExecutedAt: e.Timestamp(),
		}
		return ix.trade(ctx, order, numeric.String(e.ProfitPool), numeric.String(e.IssuedSupply))
	case events.SellEvent:
		order := &models.Order{
			OrderID:    e.OrderID,
			Account:    e.Account,
			Type:       "sell",
			Amount:     numeric.String(e.Amount),
			Value:      numeric.String(e.Value),
			Price:      numeric.String(e.Price),
			ExecutedAt: e.Timestamp(),
		}
		return ix.trade(ctx, order, numeric.String(e.ProfitPool), numeric.String(e.IssuedSupply))
	}
	return nil
}

func (ix *Indexer) trade(ctx context.Context, order *models.Order, pool, issued string) error {
	if err := ix.store.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to index order %d: %w", order.OrderID, err)
	}
	snap := &models.Snapshot{
		OrderID:      order.OrderID,
		Price:        order.Price,
		ProfitPool:   pool,
		IssuedSupply: issued,
		TakenAt:      order.ExecutedAt,
	}
	if err := ix.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to save snapshot %d: %w", order.OrderID, err)
	}

	ix.logger.Debug("Order indexed",
		zap.Uint64("order_id", order.OrderID),
		zap.String("type", order.Type))
	return nil
}

func (ix *Indexer) reject(ctx context.Context, event events.Event) error {
	r := &models.Rejection{
		EventType:   string(event.Type()),
		Account:     events.Account(event),
		Reason:      event.Failure(),
		AttemptedAt: event.Timestamp(),
	}
	if err := ix.store.SaveRejection(ctx, r); err != nil {
		return fmt.Errorf("failed to record rejection: %w", err)
	}
	return nil
}
