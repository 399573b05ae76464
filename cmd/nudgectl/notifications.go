package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/oliverisaac/nudge/lib/clientsched"
	"github.com/oliverisaac/nudge/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// parseAt accepts an RFC 3339 instant, a local "2006-01-02T15:04" time or a
// duration from now such as "90m".
func parseAt(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", s, time.Local); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	return time.Time{}, types.InvalidInputf("cannot parse time %q", s)
}

func addCommand(v *viper.Viper, fs afero.Fs) *cobra.Command {
	var (
		title  string
		body   string
		at     string
		repeat string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a reminder locally and, when a server is configured, on the server",
		Example: `  nudgectl add --title "Water" --body "Drink a glass" --at 30m
  nudgectl add --title "Stretch" --at 2030-03-14T09:00 --repeat daily`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			now := time.Now()
			when, err := parseAt(at, now)
			if err != nil {
				return err
			}
			if !when.After(now) {
				return types.InvalidInputf("%s is in the past", when.Format(time.RFC3339))
			}
			req := types.NotificationRequest{
				Title:         title,
				Body:          body,
				ScheduledTime: types.Millis(when.UnixMilli()),
				Repeat:        repeat,
			}
			rec, err := req.Record()
			if err != nil {
				return err
			}

			sched, err := newScheduler(v, fs)
			if err != nil {
				return err
			}
			defer sched.Close()
			if _, err := sched.Load(ctx); err != nil {
				return err
			}

			n := clientsched.Notification{
				Title:         rec.Title,
				Body:          rec.Body,
				ScheduledTime: rec.ScheduledTime,
				Repeat:        rec.Repeat,
			}

			client, err := server(v)
			if err != nil {
				return err
			}
			if client != nil {
				n.ServerID, err = client.ScheduleNotification(ctx, req)
				if err != nil {
					return err
				}
			}

			ok, err := sched.Schedule(ctx, n)
			if err == nil && !ok {
				err = types.InvalidInputf("%s is in the past", when.Format(time.RFC3339))
			}
			if err != nil {
				if n.ServerID != "" {
					if delErr := client.DeleteNotification(context.WithoutCancel(ctx), n.ServerID); delErr != nil {
						logrus.Warn(errors.Wrapf(delErr, "removing server copy %s", n.ServerID))
					}
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %q for %s\n", title, when.Format(time.RFC1123))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Reminder title")
	cmd.Flags().StringVar(&body, "body", "", "Reminder body")
	cmd.Flags().StringVar(&at, "at", "", "When to fire: RFC 3339, 2006-01-02T15:04 or a duration from now")
	cmd.Flags().StringVar(&repeat, "repeat", "none", "none, daily or weekly")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("at")

	return cmd
}

func listCommand(v *viper.Viper, fs afero.Fs) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			if remote {
				client, err := server(v)
				if err != nil {
					return err
				}
				if client == nil {
					return errors.New("--remote needs --server")
				}
				records, err := client.ListNotifications(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "ID\tWHEN\tREPEAT\tTITLE")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.FireTime().Format(time.RFC1123), r.Repeat, r.Title)
				}
				return nil
			}

			notifications, err := clientsched.NewFileStore(fs, v.GetString("state")).Load()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "ID\tWHEN\tREPEAT\tTITLE\tSERVER ID")
			for _, n := range notifications {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.FireTime().Format(time.RFC1123), n.Repeat, n.Title, n.ServerID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "List the server's reminders instead of the local set")
	return cmd
}

func rmCommand(v *viper.Viper, fs afero.Fs) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID",
		Short: "Remove a local reminder and its server copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := newScheduler(v, fs)
			if err != nil {
				return err
			}
			// Close waits for the server delete
			defer sched.Close()

			if _, err := sched.Load(cmd.Context()); err != nil {
				return err
			}
			found, err := sched.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return types.NotFoundf("reminder %s not found", args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}
