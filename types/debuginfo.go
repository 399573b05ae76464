package types

import (
	"time"
)

const endpointPreviewLen = 50

type DebugInfo struct {
	Timestamp     time.Time          `json:"timestamp"`
	Subscriptions DebugSubscriptions `json:"subscriptions"`
	Notifications DebugNotifications `json:"scheduledNotifications"`
}

type DebugSubscriptions struct {
	Count     int                 `json:"count"`
	Endpoints []DebugSubscription `json:"endpoints"`
}

type DebugSubscription struct {
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"createdAt"`
}

type DebugNotifications struct {
	Count         int                 `json:"count"`
	Notifications []DebugNotification `json:"notifications"`
}

type DebugNotification struct {
	NotificationRecord
	IsPast bool `json:"isPast"`
}

func NewDebugInfo(now time.Time) DebugInfo {
	return DebugInfo{
		Timestamp:     now,
		Subscriptions: DebugSubscriptions{Endpoints: []DebugSubscription{}},
		Notifications: DebugNotifications{Notifications: []DebugNotification{}},
	}
}

func (d DebugInfo) WithSubscriptions(subs []PushSubscription) DebugInfo {
	for _, s := range subs {
		endpoint := s.Endpoint
		if len(endpoint) > endpointPreviewLen {
			endpoint = endpoint[:endpointPreviewLen] + "..."
		}
		d.Subscriptions.Endpoints = append(d.Subscriptions.Endpoints, DebugSubscription{
			Endpoint:  endpoint,
			CreatedAt: s.CreatedAt,
		})
	}
	d.Subscriptions.Count = len(d.Subscriptions.Endpoints)
	return d
}

func (d DebugInfo) WithNotifications(records []NotificationRecord) DebugInfo {
	for _, r := range records {
		d.Notifications.Notifications = append(d.Notifications.Notifications, DebugNotification{
			NotificationRecord: r,
			IsPast:             r.ScheduledTime <= d.Timestamp.UnixMilli(),
		})
	}
	d.Notifications.Count = len(d.Notifications.Notifications)
	return d
}
