package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oliverisaac/nudge/lib/delivery"
	"github.com/oliverisaac/nudge/lib/metrics"
	"github.com/oliverisaac/nudge/lib/scheduler"
	"github.com/oliverisaac/nudge/lib/store"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	testTitle = "Test Notification"
	testBody  = "This is a test notification from the server."
)

// apiError answers with the Result envelope and a status derived from err.
func apiError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrNoSubscriptions):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		logrus.Error(err)
		return c.JSON(status, types.Result{}.WithErrorf("internal server error"))
	}
	logrus.Debug(err)
	return c.JSON(status, types.Result{}.WithError(err))
}

func bindError(err error) error {
	return types.InvalidInputf("invalid request body: %v", err)
}

func saveSubscription(subs *store.SubscriptionRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var sub types.PushSubscription
		if err := c.Bind(&sub); err != nil {
			return apiError(c, bindError(err))
		}

		if err := subs.Save(c.Request().Context(), sub); err != nil {
			return apiError(c, err)
		}

		logrus.WithField("endpoint", sub.Endpoint).Info("Subscription saved")
		return c.JSON(http.StatusCreated, types.NewResult("Subscription saved"))
	}
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func removeSubscription(subs *store.SubscriptionRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req unsubscribeRequest
		if err := c.Bind(&req); err != nil {
			return apiError(c, bindError(err))
		}
		if req.Endpoint == "" {
			return apiError(c, types.ErrInvalidSubscription)
		}

		if _, err := subs.Remove(c.Request().Context(), req.Endpoint); err != nil {
			return apiError(c, err)
		}
		return c.JSON(http.StatusOK, types.NewResult("Subscription removed"))
	}
}

func vapidPublicKey(cfg types.Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"publicKey": cfg.VapidPublicKey})
	}
}

func scheduleNotification(sched *scheduler.Scheduler) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req types.NotificationRequest
		if err := c.Bind(&req); err != nil {
			return apiError(c, bindError(err))
		}

		rec, err := req.Record()
		if err != nil {
			return apiError(c, err)
		}

		rec, err = sched.Schedule(c.Request().Context(), rec)
		if err != nil {
			return apiError(c, errors.Wrap(err, "scheduling notification"))
		}

		return c.JSON(http.StatusCreated, types.NewResult("Notification scheduled").WithID(rec.ID))
	}
}

func listNotifications(records *store.NotificationRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		all, err := records.List(c.Request().Context())
		if err != nil {
			return apiError(c, err)
		}
		return c.JSON(http.StatusOK, all)
	}
}

func deleteNotification(sched *scheduler.Scheduler) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		found, err := sched.Cancel(c.Request().Context(), id)
		if err != nil {
			return apiError(c, err)
		}
		if !found {
			return apiError(c, types.NotFoundf("notification %s not found", id))
		}
		return c.JSON(http.StatusOK, types.NewResult("Notification deleted"))
	}
}

func sendTestNotification(subs *store.SubscriptionRepository, engine *delivery.Engine, icon string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		count, err := subs.Count(ctx)
		if err != nil {
			return apiError(c, err)
		}
		if count == 0 {
			return apiError(c, types.ErrNoSubscriptions)
		}

		metrics.Firings.WithLabelValues("test").Inc()
		report, err := engine.Deliver(ctx, delivery.Payload{
			Title:     testTitle,
			Body:      testBody,
			Icon:      icon,
			Timestamp: time.Now().UnixMilli(),
		})
		if err != nil {
			return apiError(c, err)
		}

		return c.JSON(http.StatusOK, types.SendResult{
			Result:         types.NewResult(sentMessage(report)),
			Sent:           report.Sent,
			Failed:         report.Failed,
			ExpiredRemoved: report.Removed,
		})
	}
}

func sentMessage(r delivery.Report) string {
	if r.Empty() {
		return "No subscriptions to deliver to"
	}
	return fmt.Sprintf("Test notification sent to %d subscriptions", r.Total)
}
