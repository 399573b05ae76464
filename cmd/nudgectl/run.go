package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func runCommand(v *viper.Viper, fs afero.Fs) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load the local reminder set and fire reminders until interrupted",
		Long: `Load the local reminder set, arm a timer for every pending reminder and
block until SIGINT or SIGTERM. Send SIGHUP to reload the set after editing it
with add or rm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := newScheduler(v, fs)
			if err != nil {
				return err
			}
			defer sched.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := sched.Load(ctx); err != nil {
				return err
			}

			reload := make(chan os.Signal, 1)
			signal.Notify(reload, syscall.SIGHUP)
			defer signal.Stop(reload)

			for {
				select {
				case <-ctx.Done():
					logrus.Info("Shutting down")
					return nil
				case <-reload:
					if _, err := sched.Load(context.WithoutCancel(ctx)); err != nil {
						logrus.Error(errors.Wrap(err, "reloading reminders"))
					}
				}
			}
		},
	}
}
