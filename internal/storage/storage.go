// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/rovshanmuradov/nebula-market/internal/storage/models"
)

// Storage определяет интерфейс SQL-зеркала торговой истории
type Storage interface {
	// Ордера
	SaveOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	ListOrders(ctx context.Context, account string, limit, offset int) ([]*models.Order, error)

	// Отклонённые операции
	SaveRejection(ctx context.Context, r *models.Rejection) error
	ListRejections(ctx context.Context, account string, limit int) ([]*models.Rejection, error)

	// Снимки состояния рынка
	SaveSnapshot(ctx context.Context, s *models.Snapshot) error
	LatestSnapshot(ctx context.Context) (*models.Snapshot, error)

	// Миграции
	RunMigrations() error
	Close() error
}
