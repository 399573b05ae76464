package delivery_test

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/oliverisaac/nudge/lib/delivery"
	"github.com/oliverisaac/nudge/lib/store"
	"github.com/oliverisaac/nudge/lib/store/storetest"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	start    time.Time
	failures map[string]error
	sent     map[string][]byte
	at       map[string]time.Duration
}

func newFakeSender(failures map[string]error) *fakeSender {
	return &fakeSender{
		start:    time.Now(),
		failures: failures,
		sent:     map[string][]byte{},
		at:       map[string]time.Duration{},
	}
}

func (f *fakeSender) Send(_ context.Context, sub types.PushSubscription, message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at[sub.Endpoint] = time.Since(f.start)
	if err, ok := f.failures[sub.Endpoint]; ok {
		return err
	}
	f.sent[sub.Endpoint] = message
	return nil
}

func seed(t *testing.T, repo *store.SubscriptionRepository, endpoints ...string) {
	t.Helper()
	for _, e := range endpoints {
		require.NoError(t, repo.Save(context.Background(), types.PushSubscription{
			Endpoint: e,
			Keys:     types.SubscriptionKeys{P256DH: "p", Auth: "a"},
		}))
	}
}

func TestDeliverPartialSuccessRemovesGone(t *testing.T) {
	ctx := context.Background()
	subs := store.NewSubscriptionRepository(storetest.MustOpen(t))
	seed(t, subs, "https://push.example.com/valid", "https://push.example.com/gone")

	sender := newFakeSender(map[string]error{
		"https://push.example.com/gone": &delivery.PushError{StatusCode: 410},
	})
	engine := delivery.NewEngine(subs, sender, delivery.Config{BatchSize: 10})

	payload := delivery.Payload{Title: "Water", Body: "Drink water", Data: delivery.PayloadData{NotificationID: "n1"}}
	report, err := engine.Deliver(ctx, payload)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Removed)

	var got delivery.Payload
	require.NoError(t, json.Unmarshal(sender.sent["https://push.example.com/valid"], &got))
	assert.Equal(t, payload, got)

	remaining, err := subs.List(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "https://push.example.com/valid", remaining[0].Endpoint)
}

func TestDeliverKeepsTransientFailures(t *testing.T) {
	ctx := context.Background()
	subs := store.NewSubscriptionRepository(storetest.MustOpen(t))
	seed(t, subs, "https://a", "https://b", "https://c")

	sender := newFakeSender(map[string]error{
		"https://a": errors.New("connection reset"),
		"https://b": &delivery.PushError{StatusCode: 429},
	})
	engine := delivery.NewEngine(subs, sender, delivery.Config{})

	report, err := engine.Deliver(ctx, delivery.Payload{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, report.Failed)
	assert.Zero(t, report.Removed)

	count, err := subs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestDeliverNoSubscriptions(t *testing.T) {
	subs := store.NewSubscriptionRepository(storetest.MustOpen(t))
	engine := delivery.NewEngine(subs, newFakeSender(nil), delivery.Config{})

	report, err := engine.Deliver(context.Background(), delivery.Payload{Title: "t"})
	require.NoError(t, err)
	assert.True(t, report.Empty())
}

func TestDeliverStaggersBatches(t *testing.T) {
	subs := store.NewSubscriptionRepository(storetest.MustOpen(t))
	endpoints := []string{}
	for i := 0; i < 25; i++ {
		endpoints = append(endpoints, fmt.Sprintf("https://push.example.com/%02d", i))
	}
	seed(t, subs, endpoints...)

	const interval = 60 * time.Millisecond
	sender := newFakeSender(nil)
	engine := delivery.NewEngine(subs, sender, delivery.Config{BatchSize: 10, BatchInterval: interval})

	sender.start = time.Now()
	report, err := engine.Deliver(context.Background(), delivery.Payload{Title: "t"})
	require.NoError(t, err)
	require.Equal(t, 25, report.Sent)

	at := make([]time.Duration, 0, len(sender.at))
	for _, d := range sender.at {
		at = append(at, d)
	}
	slices.Sort(at)

	const slack = 5 * time.Millisecond
	assert.GreaterOrEqual(t, at[10], interval-slack, "second batch must wait one interval")
	assert.GreaterOrEqual(t, at[20], 2*interval-slack, "third batch must wait two intervals")
}

func TestDeliverCancelledContextFailsPendingBatches(t *testing.T) {
	subs := store.NewSubscriptionRepository(storetest.MustOpen(t))
	endpoints := []string{}
	for i := 0; i < 12; i++ {
		endpoints = append(endpoints, fmt.Sprintf("https://push.example.com/%02d", i))
	}
	seed(t, subs, endpoints...)

	ctx, cancel := context.WithCancel(context.Background())
	sender := newFakeSender(nil)
	engine := delivery.NewEngine(subs, sender, delivery.Config{BatchSize: 10, BatchInterval: time.Hour})

	time.AfterFunc(50*time.Millisecond, cancel)
	report, err := engine.Deliver(ctx, delivery.Payload{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, 10, report.Sent)
	assert.Equal(t, 2, report.Failed)
	assert.Zero(t, report.Removed)
}

func TestDispatchAndWait(t *testing.T) {
	subs := store.NewSubscriptionRepository(storetest.MustOpen(t))
	seed(t, subs, "https://a")

	sender := newFakeSender(nil)
	engine := delivery.NewEngine(subs, sender, delivery.Config{})

	engine.Dispatch(context.Background(), delivery.Payload{Title: "t"})
	engine.Wait()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Contains(t, sender.sent, "https://a")
}

func TestPayloadFor(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	p := delivery.PayloadFor(types.NotificationRecord{ID: "n1", Title: "Water", Body: "Drink"}, "https://h/icon.png", now)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Water","body":"Drink","icon":"https://h/icon.png","timestamp":1700000000000,"data":{"notificationId":"n1"}}`, string(b))
}

func TestIsGone(t *testing.T) {
	assert.True(t, delivery.IsGone(&delivery.PushError{StatusCode: 410}))
	assert.True(t, delivery.IsGone(errors.Wrap(&delivery.PushError{StatusCode: 404}, "wrapped")))
	assert.False(t, delivery.IsGone(&delivery.PushError{StatusCode: 500}))
	assert.False(t, delivery.IsGone(errors.New("timeout")))
}
