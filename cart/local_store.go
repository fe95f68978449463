package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/cartsync/models"
)

const (
	entriesKey  = "cartEntries"
	syncFlagKey = "cartSyncFlag"

	syncFlagPending = "0"
	syncFlagMerged  = "1"

	maxTxRetries = 3
)

var _ LocalStore = (*localStore)(nil)

// LocalStore 是未登入期間使用的本地購物車
type LocalStore interface {
	Entries(ctx context.Context) ([]models.CartEntry, error)
	Get(ctx context.Context, productID int64) (models.CartEntry, bool, error)
	// Put stores the entry; a zero quantity deletes it.
	Put(ctx context.Context, entry models.CartEntry) error
	Delete(ctx context.Context, productID int64) error
	Clear(ctx context.Context) error
	SyncFlag(ctx context.Context) (bool, error)
	SetSyncFlag(ctx context.Context, merged bool) error
}

type localStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewLocalStore returns a store whose keys live under namespace, typically
// one per device or anonymous session.
func NewLocalStore(client *redis.Client, namespace string, ttl time.Duration, logger *zap.Logger) LocalStore {
	return &localStore{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

func (s *localStore) key(name string) string {
	return fmt.Sprintf("%s:%s", s.namespace, name)
}

func (s *localStore) Entries(ctx context.Context) ([]models.CartEntry, error) {
	entries, err := readEntries(ctx, s.client, s.key(entriesKey))
	if err != nil {
		s.logger.Error("Failed to read local cart entries", zap.Error(err))
		return nil, err
	}
	return entries, nil
}

func (s *localStore) Get(ctx context.Context, productID int64) (models.CartEntry, bool, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return models.CartEntry{}, false, err
	}
	for _, entry := range entries {
		if entry.ProductID == productID {
			return entry, true, nil
		}
	}
	return models.CartEntry{}, false, nil
}

func (s *localStore) Put(ctx context.Context, entry models.CartEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	return s.update(ctx, func(entries []models.CartEntry) []models.CartEntry {
		for i := range entries {
			if entries[i].ProductID == entry.ProductID {
				if entry.Quantity == 0 {
					return append(entries[:i], entries[i+1:]...)
				}
				entries[i].Quantity = entry.Quantity
				return entries
			}
		}
		if entry.Quantity == 0 {
			return entries
		}
		return append(entries, entry)
	})
}

func (s *localStore) Delete(ctx context.Context, productID int64) error {
	return s.Put(ctx, models.CartEntry{ProductID: productID, Quantity: 0})
}

func (s *localStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key(entriesKey)).Err(); err != nil {
		s.logger.Error("Failed to clear local cart", zap.Error(err))
		return fmt.Errorf("failed to clear local cart: %w", err)
	}
	return nil
}

func (s *localStore) SyncFlag(ctx context.Context) (bool, error) {
	val, err := s.client.Get(ctx, s.key(syncFlagKey)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read sync flag: %w", err)
	}

	switch val {
	case syncFlagMerged:
		return true, nil
	case syncFlagPending:
		return false, nil
	default:
		s.logger.Warn("Unexpected sync flag value, treating as not merged", zap.String("value", val))
		return false, nil
	}
}

func (s *localStore) SetSyncFlag(ctx context.Context, merged bool) error {
	val := syncFlagPending
	if merged {
		val = syncFlagMerged
	}
	if err := s.client.Set(ctx, s.key(syncFlagKey), val, s.ttl).Err(); err != nil {
		s.logger.Error("Failed to write sync flag", zap.Error(err))
		return fmt.Errorf("failed to write sync flag: %w", err)
	}
	return nil
}

// update runs a read-modify-write of the entry list inside a WATCH/MULTI
// transaction, retrying when another writer got in between.
func (s *localStore) update(ctx context.Context, fn func([]models.CartEntry) []models.CartEntry) error {
	key := s.key(entriesKey)

	txf := func(tx *redis.Tx) error {
		entries, err := readEntries(ctx, tx, key)
		if err != nil {
			return err
		}
		entries = fn(entries)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(entries) == 0 {
				pipe.Del(ctx, key)
				return nil
			}
			data, err := json.Marshal(entries)
			if err != nil {
				return fmt.Errorf("failed to marshal cart entries: %w", err)
			}
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			s.logger.Error("Failed to update local cart", zap.Error(err))
			return fmt.Errorf("failed to update local cart: %w", err)
		}
		s.logger.Warn("Local cart changed concurrently, retrying", zap.Int("attempt", i+1))
	}
	return fmt.Errorf("failed to update local cart after %d attempts: %w", maxTxRetries, err)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readEntries(ctx context.Context, cmd getter, key string) ([]models.CartEntry, error) {
	data, err := cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return make([]models.CartEntry, 0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart entries: %w", err)
	}

	var entries []models.CartEntry
	if err = json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart entries: %w", err)
	}

	// 數量為 0 的項目等同於不存在
	kept := entries[:0]
	for _, entry := range entries {
		if entry.Quantity > 0 {
			kept = append(kept, entry)
		}
	}
	return kept, nil
}
