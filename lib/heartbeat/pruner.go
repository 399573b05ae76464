package heartbeat

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPruneAfter = 24 * time.Hour
	defaultPruneSpec  = "@hourly"
)

type Expirer interface {
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
}

// Pruner removes one-shot notifications that were never delivered because
// the server was down through their trigger and the heartbeat window.
type Pruner struct {
	records Expirer
	after   time.Duration
	spec    string
	cron    *cron.Cron
	now     func() time.Time
	log     *logrus.Entry
}

type PrunerOption func(*Pruner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) PrunerOption {
	return func(p *Pruner) {
		if c != nil {
			p.cron = c
		}
	}
}

func WithPruneSchedule(spec string) PrunerOption {
	return func(p *Pruner) {
		if spec != "" {
			p.spec = spec
		}
	}
}

func WithPrunerNow(now func() time.Time) PrunerOption {
	return func(p *Pruner) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPruner(records Expirer, after time.Duration, opts ...PrunerOption) *Pruner {
	if after <= 0 {
		after = DefaultPruneAfter
	}
	p := &Pruner{
		records: records,
		after:   after,
		spec:    defaultPruneSpec,
		now:     time.Now,
		log:     logrus.WithField("component", "pruner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cron == nil {
		p.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return p
}

func (p *Pruner) Start() error {
	if _, err := p.cron.AddFunc(p.spec, func() {
		if _, err := p.RunOnce(context.Background()); err != nil {
			p.log.Warn(err)
		}
	}); err != nil {
		return errors.Wrapf(err, "scheduling pruner with %q", p.spec)
	}
	p.cron.Start()
	return nil
}

// Stop halts the underlying cron, the returned context is done once a
// running prune has finished.
func (p *Pruner) Stop() context.Context {
	return p.cron.Stop()
}

func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	removed, err := p.records.PruneExpired(ctx, p.now().Add(-p.after))
	if err != nil {
		return 0, errors.Wrap(err, "pruning expired notifications")
	}
	if removed > 0 {
		p.log.Infof("Pruned %d expired notifications", removed)
	}
	return removed, nil
}
