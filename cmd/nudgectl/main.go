package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/oliverisaac/goli"
	"github.com/oliverisaac/nudge/lib/clientsched"
	"github.com/oliverisaac/nudge/lib/pushclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := rootCommand(viper.New(), afero.NewOsFs()).Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "nudge", "notifications.json")
}

func rootCommand(v *viper.Viper, fs afero.Fs) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nudgectl",
		Short:         "Mirror and fire nudge reminders locally",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("server", "", "nudge server URL; reminders are also scheduled there when set")
	rootCmd.PersistentFlags().String("state", defaultStatePath(), "File holding the local reminder set")
	rootCmd.PersistentFlags().String("relay", "", "URL that receives the full reminder set after every change")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")

	v.SetEnvPrefix("NUDGECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return errors.Wrap(err, "binding flags")
		}
		level, err := logrus.ParseLevel(v.GetString("log-level"))
		if err != nil {
			return errors.Wrap(err, "parsing log level")
		}
		goli.InitLogrus(level)
		return nil
	}

	rootCmd.AddCommand(
		runCommand(v, fs),
		addCommand(v, fs),
		listCommand(v, fs),
		rmCommand(v, fs),
	)
	return rootCmd
}

// server returns nil when no server is configured.
func server(v *viper.Viper) (*pushclient.Client, error) {
	endpoint := v.GetString("server")
	if endpoint == "" {
		return nil, nil
	}
	return pushclient.New(endpoint)
}

func newScheduler(v *viper.Viper, fs afero.Fs) (*clientsched.Scheduler, error) {
	var relay clientsched.Relay = clientsched.LogRelay{}
	if url := v.GetString("relay"); url != "" {
		relay = clientsched.NewWebhookRelay(url, nil)
	}

	opts := []clientsched.Option{}
	client, err := server(v)
	if err != nil {
		return nil, err
	}
	if client != nil {
		opts = append(opts, clientsched.WithServer(client))
	}

	store := clientsched.NewFileStore(fs, v.GetString("state"))
	return clientsched.New(store, relay, clientsched.LogDisplayer{}, opts...), nil
}
