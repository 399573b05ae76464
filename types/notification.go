package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Repeat string

const (
	RepeatNone   Repeat = "none"
	RepeatDaily  Repeat = "daily"
	RepeatWeekly Repeat = "weekly"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

func ParseRepeat(s string) (Repeat, error) {
	switch r := Repeat(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RepeatNone, nil
	case RepeatNone, RepeatDaily, RepeatWeekly:
		return r, nil
	default:
		return "", InvalidInputf("unknown repeat %q", s)
	}
}

func (r Repeat) Valid() bool {
	return r == RepeatNone || r == RepeatDaily || r == RepeatWeekly
}

// Interval is how far scheduledTime moves after each firing. Zero for one-shots.
func (r Repeat) Interval() time.Duration {
	switch r {
	case RepeatDaily:
		return Day
	case RepeatWeekly:
		return Week
	default:
		return 0
	}
}

func (r Repeat) Repeats() bool {
	return r.Interval() > 0
}

// NotificationRecord is a scheduled reminder. It is delivered to every
// subscription, not to a single subscriber.
type NotificationRecord struct {
	ID            string `gorm:"primaryKey;size:64" json:"id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	ScheduledTime int64  `gorm:"index" json:"scheduledTime"`
	Repeat        Repeat `gorm:"column:repeat_policy;size:16" json:"repeat"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"createdAt"`
}

func (n NotificationRecord) FireTime() time.Time {
	return time.UnixMilli(n.ScheduledTime)
}

// NextTime is the scheduled time after one more firing.
func (n NotificationRecord) NextTime() int64 {
	return n.ScheduledTime + n.Repeat.Interval().Milliseconds()
}

// Active reports whether the record still has a firing ahead of now.
func (n NotificationRecord) Active(now time.Time) bool {
	return n.ScheduledTime > now.UnixMilli() || n.Repeat.Repeats()
}

// NotificationRequest is the body of a schedule request.
type NotificationRequest struct {
	Title         string `json:"title"`
	Body          string `json:"body"`
	ScheduledTime Millis `json:"scheduledTime"`
	Repeat        string `json:"repeat"`
}

func (r NotificationRequest) Record() (NotificationRecord, error) {
	if strings.TrimSpace(r.Title) == "" {
		return NotificationRecord{}, InvalidInputf("title is required")
	}
	if r.ScheduledTime <= 0 {
		return NotificationRecord{}, InvalidInputf("scheduledTime is required")
	}
	repeat, err := ParseRepeat(r.Repeat)
	if err != nil {
		return NotificationRecord{}, err
	}
	return NotificationRecord{
		Title:         r.Title,
		Body:          r.Body,
		ScheduledTime: int64(r.ScheduledTime),
		Repeat:        repeat,
	}, nil
}

// Millis is an epoch-millisecond instant that also decodes from an RFC 3339
// string or a quoted number.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	if b[0] != '"' {
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return InvalidInputf("scheduledTime: %v", err)
		}
		*m = Millis(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "decoding scheduledTime")
	}
	if s == "" {
		*m = 0
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*m = Millis(v)
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			*m = Millis(t.UnixMilli())
			return nil
		}
	}
	return InvalidInputf("scheduledTime %q is neither epoch milliseconds nor a date-time", s)
}
