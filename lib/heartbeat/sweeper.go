// Package heartbeat catches notifications whose trigger was missed and keeps
// the record table tidy.
package heartbeat

import (
	"context"
	"time"

	"github.com/oliverisaac/nudge/lib/delivery"
	"github.com/oliverisaac/nudge/lib/metrics"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPeriod = time.Minute
	// Window is how far back a sweep looks for due notifications.
	Window = 60 * time.Second
)

type DueRecords interface {
	ListDue(ctx context.Context, from, to time.Time) ([]types.NotificationRecord, error)
}

// Canceller tears down a one-shot after the sweep delivered it.
type Canceller interface {
	Cancel(ctx context.Context, id string) (bool, error)
}

type Deliverer interface {
	Dispatch(ctx context.Context, payload delivery.Payload)
}

type Sweeper struct {
	records   DueRecords
	canceller Canceller
	deliverer Deliverer
	period    time.Duration
	icon      string
	now       func() time.Time
	log       *logrus.Entry
}

type SweeperOption func(*Sweeper)

func WithPeriod(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.period = d
		}
	}
}

func WithNow(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIcon(url string) SweeperOption {
	return func(s *Sweeper) {
		s.icon = url
	}
}

func NewSweeper(records DueRecords, canceller Canceller, deliverer Deliverer, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		records:   records,
		canceller: canceller,
		deliverer: deliverer,
		period:    DefaultPeriod,
		now:       time.Now,
		log:       logrus.WithField("component", "heartbeat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately, catching anything that fell due while the
// process was down, and then every period until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.log.Infof("Heartbeat running every %s", s.period)
	if _, err := s.Sweep(ctx, s.now()); err != nil {
		s.log.Error(errors.Wrap(err, "running startup heartbeat sweep"))
	}
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Heartbeat stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.now()); err != nil {
				s.log.Error(errors.Wrap(err, "running heartbeat sweep"))
			}
		}
	}
}

// Sweep delivers every notification whose time lies in (now-Window, now],
// each id at most once. One-shots it delivers are cancelled afterwards.
// It returns the ids it delivered.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	due, err := s.records.ListDue(ctx, now.Add(-Window), now)
	if err != nil {
		return nil, errors.Wrap(err, "listing due notifications")
	}

	fired := []string{}
	seen := map[string]bool{}
	for _, rec := range due {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true

		logrus := s.log.WithField("notification", rec.ID)
		logrus.Infof("Heartbeat triggering notification: %s", rec.Title)
		metrics.Firings.WithLabelValues("heartbeat").Inc()
		s.deliverer.Dispatch(ctx, delivery.PayloadFor(rec, s.icon, now))
		fired = append(fired, rec.ID)

		if rec.Repeat.Repeats() {
			continue
		}
		if _, err := s.canceller.Cancel(ctx, rec.ID); err != nil {
			logrus.Error(errors.Wrap(err, "cancelling delivered one-shot"))
		}
	}
	return fired, nil
}
