// Package clientsched keeps a local mirror of scheduled notifications and
// fires them from in-process timers, independent of the server.
package clientsched

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const serverDeleteTimeout = 10 * time.Second

type Notification struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Body          string       `json:"body"`
	ScheduledTime int64        `json:"scheduledTime"`
	Repeat        types.Repeat `json:"repeat"`
	ServerID      string       `json:"serverId,omitempty"`
}

func (n Notification) FireTime() time.Time {
	return time.UnixMilli(n.ScheduledTime)
}

// LocalStore persists the whole set between runs.
type LocalStore interface {
	Load() ([]Notification, error)
	Save([]Notification) error
}

// Relay receives the full set after every change.
type Relay interface {
	Relay(ctx context.Context, notifications []Notification) error
}

type Displayer interface {
	Show(n Notification) error
}

type ServerDeleter interface {
	DeleteNotification(ctx context.Context, id string) error
}

type armed struct {
	timer *time.Timer
	gen   uint64
}

type Scheduler struct {
	store   LocalStore
	relay   Relay
	display Displayer
	server  ServerDeleter
	now     func() time.Time
	log     *logrus.Entry

	mu     sync.Mutex
	items  []Notification
	timers map[string]armed
	gen    uint64
	closed bool

	// serializes store and relay writes in mutation order
	syncMu sync.Mutex
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithServer enables best-effort server deletes for entries linked to a
// server record.
func WithServer(server ServerDeleter) Option {
	return func(s *Scheduler) {
		s.server = server
	}
}

func New(store LocalStore, relay Relay, display Displayer, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		relay:   relay,
		display: display,
		now:     time.Now,
		log:     logrus.WithField("component", "clientsched"),
		timers:  map[string]armed{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load rehydrates the set from the local store, drops one-shots already in
// the past, rolls repeating entries forward to their next occurrence and arms
// a timer for each.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	saved, err := s.store.Load()
	if err != nil {
		return 0, errors.Wrap(err, "loading local notifications")
	}

	now := s.now()
	items := []Notification{}
	for _, n := range saved {
		if !n.Repeat.Repeats() && !n.FireTime().After(now) {
			s.log.WithField("notification", n.ID).Infof("Dropping expired notification %q", n.Title)
			continue
		}
		items = append(items, rollForward(n, now))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.New("scheduler is closed")
	}
	for id := range s.timers {
		s.disarmLocked(id)
	}
	s.items = items
	for _, n := range items {
		s.armLocked(n)
	}
	s.log.Infof("Loaded %d notifications", len(items))
	s.publishAndUnlock(ctx)
	return len(items), nil
}

// Schedule adds or replaces n and arms its timer. A notification whose time
// has already passed is ignored and Schedule reports false.
func (s *Scheduler) Schedule(ctx context.Context, n Notification) (bool, error) {
	if strings.TrimSpace(n.Title) == "" {
		return false, types.InvalidInputf("title is required")
	}
	if n.Repeat == "" {
		n.Repeat = types.RepeatNone
	}
	if !n.Repeat.Valid() {
		return false, types.InvalidInputf("invalid repeat value %q", n.Repeat)
	}
	if !n.FireTime().After(s.now()) {
		s.log.Infof("Notification %q is in the past, not scheduling", n.Title)
		return false, nil
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, errors.New("scheduler is closed")
	}
	if i := s.indexLocked(n.ID); i >= 0 {
		s.items[i] = n
	} else {
		s.items = append(s.items, n)
	}
	s.armLocked(n)
	s.log.WithField("notification", n.ID).Infof("Scheduled %q for %s", n.Title, n.FireTime())
	s.publishAndUnlock(ctx)
	return true, nil
}

// Remove cancels and forgets id. If the entry is linked to a server record
// that record is deleted in the background; failures are only logged.
func (s *Scheduler) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	s.disarmLocked(id)
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false, nil
	}
	n := s.items[i]
	s.items = slices.Delete(s.items, i, i+1)

	if n.ServerID != "" && s.server != nil && !s.closed {
		s.wg.Add(1)
		go s.deleteOnServer(context.WithoutCancel(ctx), n)
	}
	s.publishAndUnlock(ctx)
	return true, nil
}

// List returns a snapshot of the set in scheduling order.
func (s *Scheduler) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Close stops every timer and waits for running fires and server deletes.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id := range s.timers {
		s.disarmLocked(id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) deleteOnServer(ctx context.Context, n Notification) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, serverDeleteTimeout)
	defer cancel()

	if err := s.server.DeleteNotification(ctx, n.ServerID); err != nil {
		s.log.WithField("notification", n.ID).Warn(errors.Wrap(err, "deleting notification on server"))
	}
}

func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	a, ok := s.timers[id]
	if !ok || a.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)

	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	n := s.items[i]
	if n.Repeat.Repeats() {
		next := n
		next.ScheduledTime += n.Repeat.Interval().Milliseconds()
		next = rollForward(next, s.now())
		s.items[i] = next
		s.armLocked(next)
	} else {
		s.items = slices.Delete(s.items, i, i+1)
	}
	s.wg.Add(1)
	defer s.wg.Done()

	logrus := s.log.WithField("notification", id)
	logrus.Infof("Time to show notification: %s", n.Title)
	s.publishAndUnlock(context.Background())

	if err := s.display.Show(n); err != nil {
		logrus.Error(errors.Wrap(err, "showing notification"))
	}
}

// armLocked replaces any timer for n with a fresh one. s.mu must be held.
func (s *Scheduler) armLocked(n Notification) {
	s.disarmLocked(n.ID)

	delay := n.FireTime().Sub(s.now())
	if delay <= 0 {
		return
	}
	s.gen++
	gen, id := s.gen, n.ID
	s.timers[id] = armed{
		timer: time.AfterFunc(delay, func() { s.fire(id, gen) }),
		gen:   gen,
	}
}

func (s *Scheduler) disarmLocked(id string) {
	if a, ok := s.timers[id]; ok {
		a.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) indexLocked(id string) int {
	return slices.IndexFunc(s.items, func(n Notification) bool { return n.ID == id })
}

// publishAndUnlock writes the current set to the store and relay. It must be
// called with s.mu held and releases it.
func (s *Scheduler) publishAndUnlock(ctx context.Context) {
	snapshot := slices.Clone(s.items)
	s.syncMu.Lock()
	s.mu.Unlock()
	defer s.syncMu.Unlock()

	if err := s.store.Save(snapshot); err != nil {
		s.log.Error(errors.Wrap(err, "saving local notifications"))
	}
	if err := s.relay.Relay(ctx, snapshot); err != nil {
		s.log.Warn(errors.Wrap(err, "relaying notifications"))
	}
}

// rollForward advances a repeating notification past now by whole intervals.
func rollForward(n Notification, now time.Time) Notification {
	if !n.Repeat.Repeats() {
		return n
	}
	step := n.Repeat.Interval().Milliseconds()
	for !n.FireTime().After(now) {
		n.ScheduledTime += step
	}
	return n
}
