// Package delivery fans a notification out to every stored push subscription.
package delivery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oliverisaac/nudge/lib/metrics"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize     = 10
	DefaultBatchInterval = time.Second
)

// Sender pushes one message to one subscription.
type Sender interface {
	Send(ctx context.Context, sub types.PushSubscription, message []byte) error
}

// Subscriptions is the part of the subscription store delivery needs.
type Subscriptions interface {
	List(ctx context.Context) ([]types.PushSubscription, error)
	Remove(ctx context.Context, endpoints ...string) (int64, error)
}

type Payload struct {
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	Icon      string      `json:"icon,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Data      PayloadData `json:"data"`
}

type PayloadData struct {
	NotificationID string `json:"notificationId,omitempty"`
}

func PayloadFor(rec types.NotificationRecord, icon string, now time.Time) Payload {
	return Payload{
		Title:     rec.Title,
		Body:      rec.Body,
		Icon:      icon,
		Timestamp: now.UnixMilli(),
		Data:      PayloadData{NotificationID: rec.ID},
	}
}

// Outcome is the result of pushing to a single subscription.
type Outcome struct {
	Endpoint string
	Err      error
	Gone     bool
}

type Report struct {
	Total    int
	Sent     int
	Failed   int
	Removed  int
	Outcomes []Outcome
}

// Empty reports that there was nobody to deliver to.
func (r Report) Empty() bool {
	return r.Total == 0
}

type Config struct {
	BatchSize     int
	BatchInterval time.Duration
}

type Engine struct {
	subs          Subscriptions
	sender        Sender
	batchSize     int
	batchInterval time.Duration

	inflight sync.WaitGroup
}

func NewEngine(subs Subscriptions, sender Sender, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchInterval < 0 {
		cfg.BatchInterval = DefaultBatchInterval
	}
	return &Engine{
		subs:          subs,
		sender:        sender,
		batchSize:     cfg.BatchSize,
		batchInterval: cfg.BatchInterval,
	}
}

// Deliver pushes the payload to every current subscription. Batch i starts
// i*BatchInterval after the call. Individual push failures never fail the
// call; subscriptions reported gone are removed once every batch is done.
func (e *Engine) Deliver(ctx context.Context, payload Payload) (Report, error) {
	logrus := logrus.WithFields(logrus.Fields{
		"component":    "delivery",
		"notification": payload.Data.NotificationID,
	})
	start := time.Now()

	subs, err := e.subs.List(ctx)
	if err != nil {
		return Report{}, errors.Wrap(err, "listing subscriptions")
	}
	if len(subs) == 0 {
		logrus.Info("No subscriptions, nothing to deliver to")
		return Report{}, nil
	}

	message, err := json.Marshal(payload)
	if err != nil {
		return Report{}, errors.Wrap(err, "marshalling push payload")
	}

	logrus.Infof("Sending notification %q to %d subscriptions", payload.Title, len(subs))

	outcomes := make([]Outcome, len(subs))
	var batches sync.WaitGroup
	for i, offset := 0, 0; offset < len(subs); i, offset = i+1, offset+e.batchSize {
		end := min(offset+e.batchSize, len(subs))
		batches.Add(1)
		go func() {
			defer batches.Done()
			e.sendBatch(ctx, start.Add(time.Duration(i)*e.batchInterval), subs[offset:end], outcomes[offset:end], message)
		}()
	}
	batches.Wait()

	report := Report{Total: len(subs), Outcomes: outcomes}
	gone := []string{}
	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			report.Sent++
			metrics.PushAttempts.WithLabelValues("sent").Inc()
		case o.Gone:
			report.Failed++
			gone = append(gone, o.Endpoint)
			metrics.PushAttempts.WithLabelValues("gone").Inc()
		default:
			report.Failed++
			metrics.PushAttempts.WithLabelValues("failed").Inc()
		}
	}

	if len(gone) > 0 {
		// prune even if the caller is shutting down
		removed, err := e.subs.Remove(context.WithoutCancel(ctx), gone...)
		if err != nil {
			logrus.Error(errors.Wrap(err, "removing expired subscriptions"))
		} else {
			report.Removed = int(removed)
			metrics.SubscriptionsRemoved.Add(float64(removed))
			logrus.Infof("Removed %d expired subscriptions", removed)
		}
	}

	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	logrus.Infof("Delivered to %d/%d subscriptions", report.Sent, report.Total)
	return report, nil
}

func (e *Engine) sendBatch(ctx context.Context, at time.Time, subs []types.PushSubscription, outcomes []Outcome, message []byte) {
	if err := sleepUntil(ctx, at); err != nil {
		for j, s := range subs {
			outcomes[j] = Outcome{Endpoint: s.Endpoint, Err: err}
		}
		return
	}

	var wg sync.WaitGroup
	for j, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[j] = e.push(ctx, s, message)
		}()
	}
	wg.Wait()
}

func (e *Engine) push(ctx context.Context, sub types.PushSubscription, message []byte) Outcome {
	logrus := logrus.WithField("endpoint", sub.Endpoint)

	err := e.sender.Send(ctx, sub, message)
	if err == nil {
		logrus.Debug("Sent push notification")
		return Outcome{Endpoint: sub.Endpoint}
	}

	if IsGone(err) {
		logrus.Info("Subscriber no longer active")
		return Outcome{Endpoint: sub.Endpoint, Err: err, Gone: true}
	}
	logrus.Warn(errors.Wrap(err, "sending push notification"))
	return Outcome{Endpoint: sub.Endpoint, Err: err}
}

// Dispatch runs Deliver in the background. Use Wait to join outstanding
// dispatches.
func (e *Engine) Dispatch(ctx context.Context, payload Payload) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		if _, err := e.Deliver(ctx, payload); err != nil {
			logrus.Error(errors.Wrapf(err, "delivering notification %q", payload.Title))
		}
	}()
}

func (e *Engine) Wait() {
	e.inflight.Wait()
}

func sleepUntil(ctx context.Context, at time.Time) error {
	d := time.Until(at)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
