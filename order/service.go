package order

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/cartsync/driver"
	"goflare.io/cartsync/models"
)

const defaultListLimit = 20

// Service is the receipt history a checkout writes to.
type Service interface {
	Record(ctx context.Context, sessionID string, receipt *models.Receipt) error
	GetReceipt(ctx context.Context, orderID string) (*models.Receipt, error)
	ListReceipts(ctx context.Context, sessionID string, limit, offset uint64) ([]*models.Receipt, error)
}

type service struct {
	repo               Repository
	transactionManager *driver.TransactionManager
	logger             *zap.Logger
}

func NewService(repo Repository, tm *driver.TransactionManager, logger *zap.Logger) Service {
	return &service{
		repo:               repo,
		transactionManager: tm,
		logger:             logger,
	}
}

func (s *service) Record(ctx context.Context, sessionID string, receipt *models.Receipt) error {
	if receipt == nil || receipt.OrderID == "" {
		return models.NewValidationError("orderId", "is required")
	}
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return s.repo.CreateReceipt(ctx, tx, sessionID, receipt)
	})
	if err != nil {
		return fmt.Errorf("failed to record receipt %s: %w", receipt.OrderID, err)
	}
	s.logger.Info("Receipt recorded",
		zap.String("order_id", receipt.OrderID),
		zap.String("total", receipt.Total.StringFixed(2)))
	return nil
}

func (s *service) GetReceipt(ctx context.Context, orderID string) (*models.Receipt, error) {
	return s.repo.GetReceipt(ctx, nil, orderID)
}

func (s *service) ListReceipts(ctx context.Context, sessionID string, limit, offset uint64) ([]*models.Receipt, error) {
	if limit == 0 {
		limit = defaultListLimit
	}
	return s.repo.ListReceipts(ctx, nil, sessionID, limit, offset)
}
