package pushclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/oliverisaac/nudge/lib/pushclient"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, endpoint string) (*pushclient.Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	c, err := pushclient.New(endpoint, pushclient.WithHTTPClient(&http.Client{Transport: transport}))
	require.NoError(t, err)
	return c, transport
}

func TestScheduleNotification(t *testing.T) {
	c, transport := newClient(t, "nudge.example.com")

	var got map[string]any
	transport.RegisterResponder(http.MethodPost, "https://nudge.example.com/api/schedule-notification",
		func(req *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(req.Body)
			require.NoError(t, json.Unmarshal(b, &got))
			return httpmock.NewJsonResponse(http.StatusCreated, types.NewResult("scheduled").WithID("abc"))
		})

	id, err := c.ScheduleNotification(context.Background(), types.NotificationRequest{
		Title:         "Water",
		Body:          "Drink",
		ScheduledTime: 1_700_000_000_000,
		Repeat:        "daily",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "Water", got["title"])
	assert.Equal(t, float64(1_700_000_000_000), got["scheduledTime"])
	assert.Equal(t, "daily", got["repeat"])
}

func TestListNotifications(t *testing.T) {
	c, transport := newClient(t, "http://localhost:8080/")
	transport.RegisterResponder(http.MethodGet, "http://localhost:8080/api/get-scheduled-notifications",
		httpmock.NewStringResponder(http.StatusOK, `[{"id":"a","title":"t","body":"","scheduledTime":5,"repeat":"weekly","createdAt":1}]`))

	records, err := c.ListNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.RepeatWeekly, records[0].Repeat)
	assert.Equal(t, int64(5), records[0].ScheduledTime)
}

func TestDeleteNotificationNotFound(t *testing.T) {
	c, transport := newClient(t, "http://localhost:8080")
	transport.RegisterResponder(http.MethodDelete, "http://localhost:8080/api/delete-notification/missing",
		httpmock.NewJsonResponderOrPanic(http.StatusNotFound, types.Result{Message: "notification not found"}))

	err := c.DeleteNotification(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *pushclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "notification not found", apiErr.Message)
}

func TestSendTest(t *testing.T) {
	c, transport := newClient(t, "http://localhost:8080")
	transport.RegisterResponder(http.MethodPost, "http://localhost:8080/api/send-test-notification",
		httpmock.NewStringResponder(http.StatusOK, `{"success":true,"message":"sent","sent":2,"failed":1,"expiredRemoved":1}`))

	result, err := c.SendTest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.ExpiredRemoved)
}

func TestNewRejectsEmptyHost(t *testing.T) {
	_, err := pushclient.New("https://")
	assert.Error(t, err)
}
