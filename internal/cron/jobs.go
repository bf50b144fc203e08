package cron

import (
	"context"
	"errors"

	"github.com/angelmondragon/cartsync/pkg/logger"
)

const (
	JobSnapshotPurge = "snapshot_purge"
	JobCacheEvict    = "product_cache_evict"
)

// SnapshotPurger is implemented by snapshot stores that expire rows themselves.
type SnapshotPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type cacheEvicter interface {
	EvictExpired() int
}

// NewSnapshotPurgeJob deletes persisted cart snapshots past their TTL.
func NewSnapshotPurgeJob(store SnapshotPurger, logg *logger.Logger) (Job, error) {
	if store == nil {
		return nil, errors.New("snapshot store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return JobFunc{JobName: JobSnapshotPurge, Fn: func(ctx context.Context) error {
		purged, err := store.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		if purged > 0 {
			logg.Info(logg.WithField(ctx, "purged", purged), "expired cart snapshots removed")
		}
		return nil
	}}, nil
}

// NewCacheEvictJob drops expired product cache entries so ids that are
// never looked up again do not accumulate.
func NewCacheEvictJob(cache cacheEvicter, logg *logger.Logger) (Job, error) {
	if cache == nil {
		return nil, errors.New("product cache required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return JobFunc{JobName: JobCacheEvict, Fn: func(ctx context.Context) error {
		if evicted := cache.EvictExpired(); evicted > 0 {
			logg.Debug(logg.WithField(ctx, "evicted", evicted), "expired products evicted")
		}
		return nil
	}}, nil
}
