package main

import (
	"net/http"
	"strings"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/oliverisaac/nudge/lib/delivery"
	"github.com/oliverisaac/nudge/lib/scheduler"
	"github.com/oliverisaac/nudge/lib/store"
	"github.com/oliverisaac/nudge/static"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type app struct {
	cfg     types.Config
	subs    *store.SubscriptionRepository
	records *store.NotificationRepository
	sched   *scheduler.Scheduler
	engine  *delivery.Engine
	icon    string
}

func skipInfra(c echo.Context) bool {
	p := c.Request().URL.Path
	return p == "/healthz" || p == "/metrics"
}

func newServer(a *app, reg prometheus.Registerer, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.StaticFS("/static", static.FS)

	origErrHandler := e.HTTPErrorHandler
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		logrus.Error(err)
		origErrHandler(err, c)
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		Skipper:           middleware.DefaultSkipper,
		StackSize:         4 << 10, // 4 KB
		DisableStackAll:   false,
		DisablePrintStack: false,
		LogLevel:          log.ERROR,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logrus.Error(errors.Wrap(err, "recovered panic:"))
			for _, l := range strings.Split(string(stack), "\n") {
				logrus.Errorf("stack: %s", strings.ReplaceAll(l, "\t", "  "))
			}
			return nil
		},
		DisableErrorHandler: false,
	}))

	e.Use(middleware.Secure())

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format:  "method=${method}, uri=${uri}, status=${status}\n",
		Skipper: skipInfra,
	}))

	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "nudge",
		Skipper:    skipInfra,
		Registerer: reg,
	}))

	e.GET("/serviceWorker.js", func(c echo.Context) error {
		sw, err := static.FS.ReadFile("serviceWorker.js")
		if err != nil {
			return errors.Wrap(err, "reading service worker from embed fs")
		}
		return c.Blob(http.StatusOK, "application/javascript", sw)
	})

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: gatherer}))

	api := e.Group("/api")
	api.POST("/save-subscription", saveSubscription(a.subs))
	api.POST("/unsubscribe", removeSubscription(a.subs))
	api.GET("/vapid-public-key", vapidPublicKey(a.cfg))
	api.POST("/schedule-notification", scheduleNotification(a.sched))
	api.GET("/get-scheduled-notifications", listNotifications(a.records))
	api.DELETE("/delete-notification/:id", deleteNotification(a.sched))
	api.POST("/send-test-notification", sendTestNotification(a.subs, a.engine, a.icon))
	api.GET("/notification-debug", notificationDebug(a.subs, a.records))

	return e
}
