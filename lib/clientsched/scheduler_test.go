package clientsched_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/oliverisaac/nudge/lib/clientsched"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	saved []clientsched.Notification
	saves int
}

func (m *memStore) Load() ([]clientsched.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]clientsched.Notification{}, m.saved...), nil
}

func (m *memStore) Save(n []clientsched.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = n
	m.saves++
	return nil
}

func (m *memStore) last() []clientsched.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved
}

type recordingRelay struct {
	mu    sync.Mutex
	calls [][]clientsched.Notification
}

func (r *recordingRelay) Relay(_ context.Context, n []clientsched.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, n)
	return nil
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type chanDisplayer struct {
	shown chan clientsched.Notification
}

func newChanDisplayer() *chanDisplayer {
	return &chanDisplayer{shown: make(chan clientsched.Notification, 8)}
}

func (c *chanDisplayer) Show(n clientsched.Notification) error {
	c.shown <- n
	return nil
}

type fakeServer struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeServer) DeleteNotification(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.err
}

func waitShown(t *testing.T, d *chanDisplayer) clientsched.Notification {
	t.Helper()
	select {
	case n := <-d.shown:
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("notification was never shown")
		return clientsched.Notification{}
	}
}

func TestSchedulePastIsNoop(t *testing.T) {
	store := &memStore{}
	relay := &recordingRelay{}
	s := clientsched.New(store, relay, newChanDisplayer())
	defer s.Close()

	ok, err := s.Schedule(context.Background(), clientsched.Notification{
		Title:         "Late",
		ScheduledTime: time.Now().Add(-time.Second).UnixMilli(),
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.List())
	assert.Zero(t, store.saves)
	assert.Zero(t, relay.count())
}

func TestScheduleValidates(t *testing.T) {
	s := clientsched.New(&memStore{}, &recordingRelay{}, newChanDisplayer())
	defer s.Close()

	at := time.Now().Add(time.Hour).UnixMilli()
	_, err := s.Schedule(context.Background(), clientsched.Notification{ScheduledTime: at})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = s.Schedule(context.Background(), clientsched.Notification{Title: "t", ScheduledTime: at, Repeat: "hourly"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestOneShotFiresAndIsRemoved(t *testing.T) {
	store := &memStore{}
	relay := &recordingRelay{}
	display := newChanDisplayer()
	s := clientsched.New(store, relay, display)
	defer s.Close()

	ok, err := s.Schedule(context.Background(), clientsched.Notification{
		ID:            "once",
		Title:         "Water",
		Body:          "Drink",
		ScheduledTime: time.Now().Add(50 * time.Millisecond).UnixMilli(),
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, store.last(), 1)
	assert.Equal(t, types.RepeatNone, store.last()[0].Repeat)

	n := waitShown(t, display)
	assert.Equal(t, "Water", n.Title)

	assert.Empty(t, s.List())
	assert.Eventually(t, func() bool { return len(store.last()) == 0 && relay.count() >= 2 }, time.Second, 10*time.Millisecond)
}

func TestRepeatingFiresAndAdvances(t *testing.T) {
	tests := []struct {
		repeat types.Repeat
		delta  int64
	}{
		{types.RepeatDaily, 86_400_000},
		{types.RepeatWeekly, 604_800_000},
	}

	for _, tt := range tests {
		t.Run(string(tt.repeat), func(t *testing.T) {
			store := &memStore{}
			display := newChanDisplayer()
			s := clientsched.New(store, &recordingRelay{}, display)
			defer s.Close()

			at := time.Now().Add(50 * time.Millisecond).UnixMilli()
			_, err := s.Schedule(context.Background(), clientsched.Notification{ID: "r", Title: "Stretch", ScheduledTime: at, Repeat: tt.repeat})
			require.NoError(t, err)

			waitShown(t, display)
			assert.Eventually(t, func() bool {
				saved := store.last()
				return len(saved) == 1 && saved[0].ScheduledTime == at+tt.delta
			}, time.Second, 10*time.Millisecond)
			list := s.List()
			require.Len(t, list, 1)
			assert.Equal(t, at+tt.delta, list[0].ScheduledTime)
		})
	}
}

func TestScheduleReplacesSameID(t *testing.T) {
	s := clientsched.New(&memStore{}, &recordingRelay{}, newChanDisplayer())
	defer s.Close()

	ctx := context.Background()
	first := time.Now().Add(time.Hour).UnixMilli()
	_, err := s.Schedule(ctx, clientsched.Notification{ID: "x", Title: "a", ScheduledTime: first})
	require.NoError(t, err)
	_, err = s.Schedule(ctx, clientsched.Notification{ID: "x", Title: "b", ScheduledTime: first + 1000})
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Title)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	display := newChanDisplayer()
	server := &fakeServer{err: errors.New("server unreachable")}
	s := clientsched.New(store, &recordingRelay{}, display, clientsched.WithServer(server))

	at := time.Now().Add(100 * time.Millisecond).UnixMilli()
	_, err := s.Schedule(ctx, clientsched.Notification{ID: "linked", Title: "t", ScheduledTime: at, ServerID: "srv-1"})
	require.NoError(t, err)
	_, err = s.Schedule(ctx, clientsched.Notification{ID: "local", Title: "t", ScheduledTime: at})
	require.NoError(t, err)

	found, err := s.Remove(ctx, "linked")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.Remove(ctx, "local")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	time.Sleep(200 * time.Millisecond)
	s.Close()

	select {
	case n := <-display.shown:
		t.Fatalf("removed notification %s fired", n.ID)
	default:
	}
	assert.Empty(t, store.last())
	assert.Equal(t, []string{"srv-1"}, server.deleted, "only linked entries are deleted on the server")
}

func TestLoadDropsExpiredAndRollsRepeatingForward(t *testing.T) {
	now := time.Now()
	store := &memStore{saved: []clientsched.Notification{
		{ID: "expired", Title: "t", ScheduledTime: now.Add(-time.Minute).UnixMilli(), Repeat: types.RepeatNone},
		{ID: "future", Title: "t", ScheduledTime: now.Add(time.Hour).UnixMilli(), Repeat: types.RepeatNone},
		{ID: "daily", Title: "t", ScheduledTime: now.Add(-49 * time.Hour).UnixMilli(), Repeat: types.RepeatDaily},
	}}
	relay := &recordingRelay{}
	s := clientsched.New(store, relay, newChanDisplayer(), clientsched.WithNow(func() time.Time { return now }))
	defer s.Close()

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "future", list[0].ID)
	assert.Equal(t, "daily", list[1].ID)
	assert.Equal(t, now.Add(-49*time.Hour).UnixMilli()+3*86_400_000, list[1].ScheduledTime)

	assert.Len(t, store.last(), 2)
	assert.Equal(t, 1, relay.count())
}

func TestFileStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := clientsched.NewFileStore(fs, "/state/notifications.json")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	want := []clientsched.Notification{
		{ID: "a", Title: "Water", Body: "Drink", ScheduledTime: 1_700_000_000_000, Repeat: types.RepeatDaily, ServerID: "s"},
	}
	require.NoError(t, store.Save(want))

	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, loaded)

	exists, err := afero.Exists(fs, "/state/notifications.json.tmp")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, afero.WriteFile(fs, "/state/notifications.json", []byte("{not json"), 0o644))
	_, err = store.Load()
	assert.Error(t, err)
}

func TestWebhookRelay(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var got clientsched.RelayMessage
	transport.RegisterResponder(http.MethodPost, "http://relay.local/sync",
		func(req *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(req.Body)
			if err := json.Unmarshal(b, &got); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
		})
	transport.RegisterResponder(http.MethodPost, "http://relay.local/broken",
		httpmock.NewStringResponder(http.StatusBadGateway, ""))

	client := &http.Client{Transport: transport}
	relay := clientsched.NewWebhookRelay("http://relay.local/sync", client)
	require.NoError(t, relay.Relay(context.Background(), []clientsched.Notification{{ID: "a", Title: "t"}}))
	assert.Equal(t, "SETUP_NOTIFICATIONS", got.Type)
	require.Len(t, got.Notifications, 1)
	assert.Equal(t, "a", got.Notifications[0].ID)

	err := clientsched.NewWebhookRelay("http://relay.local/broken", client).Relay(context.Background(), nil)
	assert.ErrorContains(t, err, "502")
}
