package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
)

// PushError is a non-2xx answer from the push service.
type PushError struct {
	StatusCode int
	Body       string
}

func (e *PushError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("push service returned status %d: %s", e.StatusCode, e.Body)
}

// Gone reports that the subscription no longer exists and will never accept
// another push.
func (e *PushError) Gone() bool {
	return e.StatusCode == http.StatusGone || e.StatusCode == http.StatusNotFound
}

func IsGone(err error) bool {
	var perr *PushError
	return errors.As(err, &perr) && perr.Gone()
}

type WebPushSender struct {
	options webpush.Options
}

type SenderOption func(*webpush.Options)

// WithHTTPClient replaces the client used to reach push services.
func WithHTTPClient(c webpush.HTTPClient) SenderOption {
	return func(o *webpush.Options) {
		o.HTTPClient = c
	}
}

func WithUrgency(u webpush.Urgency) SenderOption {
	return func(o *webpush.Options) {
		o.Urgency = u
	}
}

func NewWebPushSender(cfg types.Config, opts ...SenderOption) *WebPushSender {
	options := webpush.Options{
		Subscriber:      cfg.VapidSubscriber,
		VAPIDPublicKey:  cfg.VapidPublicKey,
		VAPIDPrivateKey: cfg.VapidPrivateKey,
		TTL:             int(cfg.PushTTL.Seconds()),
		Urgency:         webpush.UrgencyNormal,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &WebPushSender{options: options}
}

func (s *WebPushSender) Send(ctx context.Context, sub types.PushSubscription, message []byte) error {
	options := s.options
	resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256DH,
			Auth:   sub.Keys.Auth,
		},
	}, &options)
	if err != nil {
		return errors.Wrap(err, "sending push notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &PushError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
