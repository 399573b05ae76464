// Package scheduler turns notification records into cron triggers and fires
// them through the delivery engine.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oliverisaac/nudge/lib/delivery"
	"github.com/oliverisaac/nudge/lib/metrics"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Records is the notification store as seen by the scheduler.
type Records interface {
	Create(ctx context.Context, rec types.NotificationRecord) (types.NotificationRecord, error)
	Get(ctx context.Context, id string) (types.NotificationRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
	Advance(ctx context.Context, id string, scheduledTime int64) error
	ListActive(ctx context.Context, now time.Time) ([]types.NotificationRecord, error)
}

type Deliverer interface {
	Dispatch(ctx context.Context, payload delivery.Payload)
	Wait()
}

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type trigger struct {
	entry    cron.EntryID
	schedule cron.Schedule
}

type Scheduler struct {
	records   Records
	deliverer Deliverer
	cron      *cron.Cron
	now       func() time.Time
	loc       *time.Location
	icon      string
	log       *logrus.Entry
	catchUp   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	triggers map[string]trigger
}

type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone used to derive hour/minute/weekday of repeating triggers.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithIcon sets the icon URL sent with every payload.
func WithIcon(url string) Option {
	return func(s *Scheduler) {
		s.icon = url
	}
}

// WithCatchUp makes Restore leave repeating records that fell due within d of
// now at their stored time, so a heartbeat sweep can still deliver them.
func WithCatchUp(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.catchUp = d
		}
	}
}

func New(records Records, deliverer Deliverer, opts ...Option) *Scheduler {
	s := &Scheduler{
		records:   records,
		deliverer: deliverer,
		now:       time.Now,
		loc:       time.Local,
		log:       logrus.WithField("component", "scheduler"),
		triggers:  map[string]trigger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		logger := cron.PrintfLogger(logrus.StandardLogger())
		s.cron = cron.New(
			cron.WithLocation(s.loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// once fires a single time at an absolute instant and never again, so a
// trigger that was not torn down after firing stays dormant.
type once struct {
	at time.Time
}

func (o once) Next(t time.Time) time.Time {
	if o.at.After(t) {
		return o.at
	}
	return time.Time{}
}

// notBefore holds back a recurring schedule until its first occurrence.
type notBefore struct {
	cron.Schedule
	start time.Time
}

// Next never returns an instant before start. The cron fields only carry whole
// seconds, so a sub-second start is returned as is for the first firing.
func (n notBefore) Next(t time.Time) time.Time {
	if !t.Before(n.start) {
		return n.Schedule.Next(t)
	}
	next := n.Schedule.Next(n.start.Truncate(time.Second).Add(-time.Nanosecond))
	if next.Before(n.start) {
		return n.start
	}
	return next
}

// Expression is the cron spec (with seconds) a repeating record fires on.
func Expression(rec types.NotificationRecord, loc *time.Location) (string, error) {
	t := rec.FireTime().In(loc)
	switch rec.Repeat {
	case types.RepeatDaily:
		return fmt.Sprintf("%d %d %d * * *", t.Second(), t.Minute(), t.Hour()), nil
	case types.RepeatWeekly:
		return fmt.Sprintf("%d %d %d * * %d", t.Second(), t.Minute(), t.Hour(), int(t.Weekday())), nil
	default:
		return "", types.InvalidInputf("repeat %q has no cron expression", rec.Repeat)
	}
}

// scheduleFor returns nil when the record has nothing left to fire.
func (s *Scheduler) scheduleFor(rec types.NotificationRecord) (cron.Schedule, error) {
	at := rec.FireTime().In(s.loc)

	if !rec.Repeat.Repeats() {
		if !at.After(s.now()) {
			return nil, nil
		}
		return once{at: at}, nil
	}

	expr, err := Expression(rec, s.loc)
	if err != nil {
		return nil, err
	}
	spec, err := parser.Parse(fmt.Sprintf("CRON_TZ=%s %s", s.loc.String(), expr))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing cron expression %q", expr)
	}
	return notBefore{Schedule: spec, start: at}, nil
}

// Register arms the trigger for rec, replacing any previous trigger for the
// same id. One-shot records in the past are not armed.
func (s *Scheduler) Register(rec types.NotificationRecord) error {
	logrus := s.log.WithField("notification", rec.ID)

	schedule, err := s.scheduleFor(rec)
	if err != nil {
		return errors.Wrapf(err, "scheduling notification %s", rec.ID)
	}
	if schedule == nil {
		logrus.Infof("Notification time %s is in the past, not arming", rec.FireTime().In(s.loc))
		s.Unregister(rec.ID)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.triggers[rec.ID]; ok {
		s.cron.Remove(old.entry)
	}
	id := rec.ID
	entry := s.cron.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.Fire(s.ctx, id); err != nil {
			s.log.WithField("notification", id).Error(errors.Wrap(err, "firing notification"))
		}
	}))
	s.triggers[rec.ID] = trigger{entry: entry, schedule: schedule}
	metrics.RegisteredTriggers.Set(float64(len(s.triggers)))

	logrus.Infof("Scheduled notification %q (%s) for %s", rec.Title, rec.Repeat, schedule.Next(s.now()))
	return nil
}

// Unregister stops the trigger for id, if any.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.triggers[id]; ok {
		s.cron.Remove(t.entry)
		delete(s.triggers, id)
		metrics.RegisteredTriggers.Set(float64(len(s.triggers)))
	}
}

// Registered reports whether id has a live trigger.
func (s *Scheduler) Registered(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.triggers[id]
	return ok
}

// NextRun is when the trigger for id fires next.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[id]
	if !ok {
		return time.Time{}, false
	}
	next := t.schedule.Next(s.now())
	return next, !next.IsZero()
}

// Fire is the trigger body. It re-reads the record so a trigger racing a
// delete delivers nothing, persists the record's next state, and only then
// hands the payload to the delivery engine. It reports whether a delivery was
// dispatched.
func (s *Scheduler) Fire(ctx context.Context, id string) (bool, error) {
	logrus := s.log.WithField("notification", id)

	rec, err := s.records.Get(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		logrus.Info("Notification was deleted before it fired, skipping")
		metrics.SkippedFirings.Inc()
		s.Unregister(id)
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "loading notification")
	}

	if rec.Repeat.Repeats() {
		err := s.records.Advance(ctx, id, rec.NextTime())
		if errors.Is(err, types.ErrNotFound) {
			logrus.Info("Notification was deleted while firing, skipping")
			metrics.SkippedFirings.Inc()
			s.Unregister(id)
			return false, nil
		}
		if err != nil {
			// deliver anyway, a missed reminder is worse than a stale time
			logrus.Error(errors.Wrap(err, "advancing repeating notification"))
		}
	} else {
		s.Unregister(id)
		found, err := s.records.Delete(ctx, id)
		if err != nil {
			logrus.Error(errors.Wrap(err, "deleting fired notification"))
		} else if !found {
			logrus.Info("Notification was deleted while firing, skipping")
			metrics.SkippedFirings.Inc()
			return false, nil
		}
	}

	logrus.Infof("Executing scheduled notification: %s", rec.Title)
	metrics.Firings.WithLabelValues("cron").Inc()
	s.deliverer.Dispatch(ctx, delivery.PayloadFor(rec, s.icon, s.now()))
	return true, nil
}

// Schedule persists a new record and arms its trigger.
func (s *Scheduler) Schedule(ctx context.Context, rec types.NotificationRecord) (types.NotificationRecord, error) {
	created, err := s.records.Create(ctx, rec)
	if err != nil {
		return types.NotificationRecord{}, err
	}
	if err := s.Register(created); err != nil {
		return created, err
	}
	return created, nil
}

// Cancel stops the trigger and deletes the record. It reports whether the
// record existed.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	s.Unregister(id)
	return s.records.Delete(ctx, id)
}

// Restore re-arms every persisted record that still has a firing ahead.
// Triggers live in memory only, so this must run on every start.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	records, err := s.records.ListActive(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "loading notifications to reschedule")
	}

	var retErr error
	restored := 0
	for _, rec := range records {
		if next, ok := rollForward(rec, s.now().Add(-s.catchUp)); ok {
			if err := s.records.Advance(ctx, rec.ID, next); err != nil {
				s.log.WithField("notification", rec.ID).Error(errors.Wrap(err, "rolling notification forward"))
			} else {
				rec.ScheduledTime = next
			}
		}
		if err := s.Register(rec); err != nil {
			retErr = errors.Wrapf(err, "restoring notification %s", rec.ID)
			s.log.Error(retErr)
			continue
		}
		restored++
	}
	s.log.Infof("Restored %d of %d notifications", restored, len(records))
	return restored, retErr
}

// rollForward advances a repeating record by whole intervals to its first
// occurrence after cutoff. It reports false when nothing needs to move.
func rollForward(rec types.NotificationRecord, cutoff time.Time) (int64, bool) {
	step := rec.Repeat.Interval().Milliseconds()
	limit := cutoff.UnixMilli()
	if step <= 0 || rec.ScheduledTime > limit {
		return 0, false
	}
	missed := (limit-rec.ScheduledTime)/step + 1
	return rec.ScheduledTime + missed*step, true
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop, waits for running triggers and outstanding
// deliveries, and cancels deliveries still pending when ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	defer s.cancel()

	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.deliverer.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
