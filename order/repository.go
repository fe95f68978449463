// Package order keeps the receipt history of finalized carts.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/cartsync/driver"
	"goflare.io/cartsync/models"
)

var ErrReceiptNotFound = errors.New("receipt not found")

// Schema creates the receipts table. Amounts are stored in minor units.
const Schema = `
CREATE TABLE IF NOT EXISTS receipts (
    order_id         TEXT PRIMARY KEY,
    session_id       TEXT        NOT NULL,
    currency         TEXT        NOT NULL,
    subtotal_cents   BIGINT      NOT NULL,
    tax_cents        BIGINT      NOT NULL,
    shipping_cents   BIGINT      NOT NULL,
    total_cents      BIGINT      NOT NULL,
    shipping_address TEXT        NOT NULL,
    items            JSONB       NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS receipts_session_created_idx ON receipts (session_id, created_at DESC);`

const (
	insertReceiptSQL = `INSERT INTO receipts
    (order_id, session_id, currency, subtotal_cents, tax_cents, shipping_cents, total_cents, shipping_address, items, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (order_id) DO NOTHING`

	selectReceiptColumns = `SELECT order_id, currency, subtotal_cents, tax_cents, shipping_cents, total_cents, shipping_address, items, created_at
FROM receipts`

	getReceiptSQL   = selectReceiptColumns + ` WHERE order_id = $1`
	listReceiptsSQL = selectReceiptColumns + ` WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
)

var _ Repository = (*repository)(nil)

type Repository interface {
	CreateReceipt(ctx context.Context, tx pgx.Tx, sessionID string, receipt *models.Receipt) error
	GetReceipt(ctx context.Context, tx pgx.Tx, orderID string) (*models.Receipt, error)
	ListReceipts(ctx context.Context, tx pgx.Tx, sessionID string, limit, offset uint64) ([]*models.Receipt, error)
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

// Migrate applies Schema.
func Migrate(ctx context.Context, conn driver.PostgresPool) error {
	if _, err := conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate receipts: %w", err)
	}
	return nil
}

func (r *repository) querier(tx pgx.Tx) driver.Querier {
	if tx != nil {
		return tx
	}
	return r.conn
}

// CreateReceipt is idempotent on order id.
func (r *repository) CreateReceipt(ctx context.Context, tx pgx.Tx, sessionID string, receipt *models.Receipt) error {
	items, err := json.Marshal(receipt.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt items: %w", err)
	}

	_, err = r.querier(tx).Exec(ctx, insertReceiptSQL,
		receipt.OrderID,
		sessionID,
		string(receipt.Currency),
		models.MinorUnits(receipt.Subtotal),
		models.MinorUnits(receipt.Tax),
		models.MinorUnits(receipt.Shipping),
		models.MinorUnits(receipt.Total),
		receipt.ShippingAddress,
		items,
		receipt.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create receipt", zap.String("order_id", receipt.OrderID), zap.Error(err))
		return fmt.Errorf("failed to create receipt: %w", err)
	}
	return nil
}

func (r *repository) GetReceipt(ctx context.Context, tx pgx.Tx, orderID string) (*models.Receipt, error) {
	receipt, err := scanReceipt(r.querier(tx).QueryRow(ctx, getReceiptSQL, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, orderID)
	}
	if err != nil {
		r.logger.Error("Failed to get receipt", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return receipt, nil
}

func (r *repository) ListReceipts(ctx context.Context, tx pgx.Tx, sessionID string, limit, offset uint64) ([]*models.Receipt, error) {
	rows, err := r.querier(tx).Query(ctx, listReceiptsSQL, sessionID, int64(limit), int64(offset))
	if err != nil {
		r.logger.Error("Failed to list receipts", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*models.Receipt, 0)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipts: %w", err)
	}
	return receipts, nil
}

func scanReceipt(row pgx.Row) (*models.Receipt, error) {
	var (
		receipt                        models.Receipt
		currency                       string
		subtotal, tax, shipping, total int64
		items                          []byte
		createdAt                      time.Time
	)
	if err := row.Scan(&receipt.OrderID, &currency, &subtotal, &tax, &shipping, &total, &receipt.ShippingAddress, &items, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &receipt.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt items: %w", err)
	}

	receipt.Currency = stripe.Currency(currency)
	receipt.Subtotal = models.FromMinorUnits(subtotal)
	receipt.Tax = models.FromMinorUnits(tax)
	receipt.Shipping = models.FromMinorUnits(shipping)
	receipt.Total = models.FromMinorUnits(total)
	receipt.CreatedAt = createdAt
	return &receipt, nil
}
