package types

import (
	"time"
)

// PushSubscription is a browser push endpoint. The endpoint URL is the identity.
type PushSubscription struct {
	Endpoint  string           `gorm:"primaryKey;size:768" json:"endpoint"`
	Keys      SubscriptionKeys `gorm:"embedded" json:"keys"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
}

type SubscriptionKeys struct {
	P256DH string `gorm:"column:p256dh" json:"p256dh"`
	Auth   string `gorm:"column:auth" json:"auth"`
}

func (s PushSubscription) Validate() error {
	if s.Endpoint == "" {
		return ErrInvalidSubscription
	}
	return nil
}
