package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"purser/internal/models"
)

// snapshotKey is the single well-known key the entitlement record lives
// under. Every write replaces the whole record.
const snapshotKey = "purser:entitlement:v1"

// EntitlementRepository persists the entitlement snapshot in Redis.
// It has exactly two writers: the purchase orchestrator and the reconciler.
type EntitlementRepository struct {
	RDB *redis.Client
}

func NewEntitlementRepository(rdb *redis.Client) *EntitlementRepository {
	return &EntitlementRepository{RDB: rdb}
}

// Load returns the persisted snapshot, or models.ErrNoSnapshot when the key
// is absent.
func (r *EntitlementRepository) Load(ctx context.Context) (models.EntitlementSnapshot, error) {
	data, err := r.RDB.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.EntitlementSnapshot{}, models.ErrNoSnapshot
	}
	if err != nil {
		return models.EntitlementSnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap models.EntitlementSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.EntitlementSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Save overwrites the snapshot as one record.
func (r *EntitlementRepository) Save(ctx context.Context, snap models.EntitlementSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.RDB.Set(ctx, snapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Clear removes the record; readers fall back to the free tier.
func (r *EntitlementRepository) Clear(ctx context.Context) error {
	if err := r.RDB.Del(ctx, snapshotKey).Err(); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
