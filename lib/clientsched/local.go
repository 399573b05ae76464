package clientsched

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// FileStore keeps the set as a JSON array in a single file.
type FileStore struct {
	fs   afero.Fs
	path string
}

func NewFileStore(fs afero.Fs, path string) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs, path: path}
}

func (f *FileStore) Load() ([]Notification, error) {
	b, err := afero.ReadFile(f.fs, f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Notification{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", f.path)
	}

	notifications := []Notification{}
	if len(bytes.TrimSpace(b)) == 0 {
		return notifications, nil
	}
	if err := json.Unmarshal(b, &notifications); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", f.path)
	}
	return notifications, nil
}

// Save replaces the file through a rename so a crash never leaves it half written.
func (f *FileStore) Save(notifications []Notification) error {
	if notifications == nil {
		notifications = []Notification{}
	}
	b, err := json.MarshalIndent(notifications, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding notifications")
	}

	dir := filepath.Dir(f.path)
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	tmp := f.path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	return errors.Wrapf(f.fs.Rename(tmp, f.path), "replacing %s", f.path)
}

// LogDisplayer "shows" a notification by logging it.
type LogDisplayer struct{}

func (LogDisplayer) Show(n Notification) error {
	logrus.WithFields(logrus.Fields{
		"notification": n.ID,
		"repeat":       n.Repeat,
	}).Infof("Notification: %s: %s", n.Title, n.Body)
	return nil
}

type LogRelay struct{}

func (LogRelay) Relay(_ context.Context, notifications []Notification) error {
	logrus.WithField("component", "relay").Debugf("Syncing %d notifications", len(notifications))
	return nil
}

// RelayMessage is the body a WebhookRelay posts.
type RelayMessage struct {
	Type          string         `json:"type"`
	Notifications []Notification `json:"notifications"`
}

const relayMessageType = "SETUP_NOTIFICATIONS"

// WebhookRelay posts the full set as JSON to a URL after every change.
type WebhookRelay struct {
	url    string
	client *http.Client
}

func NewWebhookRelay(url string, client *http.Client) *WebhookRelay {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookRelay{url: url, client: client}
}

func (w *WebhookRelay) Relay(ctx context.Context, notifications []Notification) error {
	if notifications == nil {
		notifications = []Notification{}
	}
	b, err := json.Marshal(RelayMessage{Type: relayMessageType, Notifications: notifications})
	if err != nil {
		return errors.Wrap(err, "encoding relay message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "building relay request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "posting to %s", w.url)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay %s returned status %d", w.url, resp.StatusCode)
	}
	return nil
}
