package main

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oliverisaac/nudge/lib/store"
	"github.com/oliverisaac/nudge/types"
	"github.com/sirupsen/logrus"
)

func notificationDebug(subs *store.SubscriptionRepository, records *store.NotificationRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		all, err := subs.List(ctx)
		if err != nil {
			return apiError(c, err)
		}
		recs, err := records.List(ctx)
		if err != nil {
			return apiError(c, err)
		}

		logrus.Debugf("Generating debug view for %d subscriptions and %d notifications", len(all), len(recs))
		info := types.NewDebugInfo(time.Now()).
			WithSubscriptions(all).
			WithNotifications(recs)

		return c.JSON(http.StatusOK, info)
	}
}
