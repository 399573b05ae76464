package store

import (
	"context"

	"github.com/oliverisaac/nudge/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionRepository stores one row per push endpoint. Every call commits
// before it returns.
type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Save inserts the subscription or replaces the keys of an existing one with
// the same endpoint.
func (r *SubscriptionRepository) Save(ctx context.Context, sub types.PushSubscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "updated_at"}),
		}).
		Create(&sub).Error
	return types.StorageError(err, "saving subscription")
}

// Remove deletes every listed endpoint. Unknown endpoints are ignored.
func (r *SubscriptionRepository) Remove(ctx context.Context, endpoints ...string) (int64, error) {
	if len(endpoints) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("endpoint IN ?", endpoints).
		Delete(&types.PushSubscription{})
	if res.Error != nil {
		return 0, types.StorageError(res.Error, "removing subscriptions")
	}
	return res.RowsAffected, nil
}

func (r *SubscriptionRepository) List(ctx context.Context) ([]types.PushSubscription, error) {
	ret := []types.PushSubscription{}
	if err := r.db.WithContext(ctx).Order("created_at").Find(&ret).Error; err != nil {
		return nil, types.StorageError(err, "listing subscriptions")
	}
	return ret, nil
}

func (r *SubscriptionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&types.PushSubscription{}).Count(&count).Error
	return count, types.StorageError(err, "counting subscriptions")
}
