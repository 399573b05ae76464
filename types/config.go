package types

import (
	errs "errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/oliverisaac/goli"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Hostname        string
	Listen          string
	LogLevel        logrus.Level
	DBDriver        string
	DBPath          string
	DBDSN           string
	VapidPublicKey  string
	VapidPrivateKey string
	VapidSubscriber string
	PushTTL         time.Duration
	BatchSize       int
	BatchInterval   time.Duration
	HeartbeatPeriod time.Duration
	PruneAfter      time.Duration
	CacheTTL        time.Duration
	Location        *time.Location
}

func ConfigFromEnv() (Config, error) {
	ret := Config{}
	var retErr error
	var err error
	var ok bool

	ret.LogLevel, err = logrus.ParseLevel(goli.DefaultEnv("NUDGE_LOG_LEVEL", "info"))
	if err != nil {
		retErr = errs.Join(retErr, errors.Wrap(err, "parsing NUDGE_LOG_LEVEL"))
	}

	ret.DBDriver = strings.ToLower(goli.DefaultEnv("NUDGE_DB_DRIVER", "sqlite"))
	switch ret.DBDriver {
	case "sqlite":
		ret.DBPath, ok = os.LookupEnv("NUDGE_DB_PATH")
		if !ok {
			retErr = errs.Join(retErr, fmt.Errorf("You must define env NUDGE_DB_PATH"))
		} else if _, err := os.Stat(path.Dir(ret.DBPath)); err != nil {
			retErr = errs.Join(retErr, errors.Wrap(err, "Directory for NUDGE_DB_PATH must exist"))
		}
	case "postgres", "mysql":
		ret.DBDSN, ok = os.LookupEnv("NUDGE_DB_DSN")
		if !ok {
			retErr = errs.Join(retErr, fmt.Errorf("You must define env NUDGE_DB_DSN for driver %s", ret.DBDriver))
		}
	default:
		retErr = errs.Join(retErr, fmt.Errorf("unsupported NUDGE_DB_DRIVER %q", ret.DBDriver))
	}

	ret.VapidPrivateKey, ok = os.LookupEnv("VAPID_PRIVATE_KEY")
	if !ok {
		retErr = errs.Join(retErr, fmt.Errorf("You must define env VAPID_PRIVATE_KEY"))
	}

	ret.VapidPublicKey, ok = os.LookupEnv("VAPID_PUBLIC_KEY")
	if !ok {
		retErr = errs.Join(retErr, fmt.Errorf("You must define env VAPID_PUBLIC_KEY"))
	}

	ret.VapidSubscriber = goli.DefaultEnv("VAPID_SUBSCRIBER", "mailto:admin@localhost")

	ret.BatchSize, err = strconv.Atoi(goli.DefaultEnv("NUDGE_BATCH_SIZE", "10"))
	if err != nil {
		retErr = errs.Join(retErr, errors.Wrap(err, "parsing NUDGE_BATCH_SIZE"))
	} else if ret.BatchSize < 1 {
		retErr = errs.Join(retErr, fmt.Errorf("NUDGE_BATCH_SIZE must be positive, got %d", ret.BatchSize))
	}

	durations := []struct {
		env string
		def string
		dst *time.Duration
	}{
		{"NUDGE_PUSH_TTL", "1h", &ret.PushTTL},
		{"NUDGE_BATCH_INTERVAL", "1s", &ret.BatchInterval},
		{"NUDGE_HEARTBEAT_PERIOD", "1m", &ret.HeartbeatPeriod},
		{"NUDGE_PRUNE_AFTER", "24h", &ret.PruneAfter},
		{"NUDGE_CACHE_TTL", "10m", &ret.CacheTTL},
	}
	for _, d := range durations {
		*d.dst, err = time.ParseDuration(goli.DefaultEnv(d.env, d.def))
		if err != nil {
			retErr = errs.Join(retErr, errors.Wrapf(err, "parsing %s", d.env))
		}
	}

	ret.Listen = goli.DefaultEnv("NUDGE_LISTEN", ":8080")
	ret.Hostname = goli.DefaultEnv("NUDGE_HOSTNAME", "localhost")
	ret.Location = time.Local

	return ret, retErr
}

// IconURL points at a static asset served by this host.
func (c Config) IconURL(name string) string {
	return fmt.Sprintf("https://%s/static/%s", c.Hostname, name)
}
