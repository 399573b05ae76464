package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oliverisaac/nudge/types"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const DefaultCacheTTL = 10 * time.Minute

// NotificationRepository persists scheduled notification records. Lookups by
// id go through an in-process cache; the database stays the source of truth.
type NotificationRepository struct {
	db    *gorm.DB
	cache *cache.Cache
	now   func() time.Time

	// serializes cache fills against writes so a lookup racing a delete
	// cannot put the deleted record back into the cache
	mu sync.Mutex
}

type NotificationOption func(*NotificationRepository)

func WithCacheTTL(ttl time.Duration) NotificationOption {
	return func(r *NotificationRepository) {
		if ttl > 0 {
			r.cache = cache.New(ttl, ttl*2)
		}
	}
}

func WithClock(now func() time.Time) NotificationOption {
	return func(r *NotificationRepository) {
		if now != nil {
			r.now = now
		}
	}
}

func NewNotificationRepository(db *gorm.DB, opts ...NotificationOption) *NotificationRepository {
	r := &NotificationRepository{
		db:    db,
		cache: cache.New(DefaultCacheTTL, DefaultCacheTTL*2),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create assigns an id and creation time and persists the record.
func (r *NotificationRepository) Create(ctx context.Context, rec types.NotificationRecord) (types.NotificationRecord, error) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = r.now().UnixMilli()
	if rec.Repeat == "" {
		rec.Repeat = types.RepeatNone
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return types.NotificationRecord{}, types.StorageError(err, "saving notification")
	}
	r.cache.Set(rec.ID, rec, cache.DefaultExpiration)
	return rec, nil
}

func (r *NotificationRepository) Get(ctx context.Context, id string) (types.NotificationRecord, error) {
	if cached, found := r.cache.Get(id); found {
		return cached.(types.NotificationRecord), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, found := r.cache.Get(id); found {
		return cached.(types.NotificationRecord), nil
	}

	var rec types.NotificationRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.NotificationRecord{}, types.NotFoundf("notification %s not found", id)
	}
	if err != nil {
		return types.NotificationRecord{}, types.StorageError(err, "loading notification")
	}
	r.cache.Set(id, rec, cache.DefaultExpiration)
	return rec, nil
}

// Delete removes the record. It reports whether a record was removed and is
// safe to call for ids that do not exist.
func (r *NotificationRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.db.WithContext(ctx).Delete(&types.NotificationRecord{}, "id = ?", id)
	r.cache.Delete(id)
	if res.Error != nil {
		return false, types.StorageError(res.Error, "deleting notification")
	}
	return res.RowsAffected > 0, nil
}

// Advance moves the record's scheduled time in a single update.
func (r *NotificationRepository) Advance(ctx context.Context, id string, scheduledTime int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.db.WithContext(ctx).
		Model(&types.NotificationRecord{}).
		Where("id = ?", id).
		Update("scheduled_time", scheduledTime)
	r.cache.Delete(id)
	if res.Error != nil {
		return types.StorageError(res.Error, "advancing notification")
	}
	if res.RowsAffected == 0 {
		return types.NotFoundf("notification %s not found", id)
	}
	return nil
}

// ListActive returns records that still have a firing ahead of now.
func (r *NotificationRepository) ListActive(ctx context.Context, now time.Time) ([]types.NotificationRecord, error) {
	ret := []types.NotificationRecord{}
	err := r.db.WithContext(ctx).
		Where("scheduled_time > ? OR repeat_policy <> ?", now.UnixMilli(), types.RepeatNone).
		Order("scheduled_time").
		Find(&ret).Error
	if err != nil {
		return nil, types.StorageError(err, "listing active notifications")
	}
	return ret, nil
}

// ListDue returns records scheduled in the half-open window (from, to].
func (r *NotificationRepository) ListDue(ctx context.Context, from, to time.Time) ([]types.NotificationRecord, error) {
	ret := []types.NotificationRecord{}
	err := r.db.WithContext(ctx).
		Where("scheduled_time > ? AND scheduled_time <= ?", from.UnixMilli(), to.UnixMilli()).
		Order("scheduled_time").
		Find(&ret).Error
	if err != nil {
		return nil, types.StorageError(err, "listing due notifications")
	}
	return ret, nil
}

func (r *NotificationRepository) List(ctx context.Context) ([]types.NotificationRecord, error) {
	ret := []types.NotificationRecord{}
	if err := r.db.WithContext(ctx).Order("scheduled_time").Find(&ret).Error; err != nil {
		return nil, types.StorageError(err, "listing notifications")
	}
	return ret, nil
}

// PruneExpired deletes one-shot records scheduled before the cutoff.
func (r *NotificationRepository) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.db.WithContext(ctx).
		Where("repeat_policy = ? AND scheduled_time < ?", types.RepeatNone, before.UnixMilli()).
		Delete(&types.NotificationRecord{})
	if res.Error != nil {
		return 0, types.StorageError(res.Error, "pruning notifications")
	}
	if res.RowsAffected > 0 {
		r.cache.Flush()
	}
	return res.RowsAffected, nil
}
