package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/synctab/synctab/internal/api"
	"github.com/synctab/synctab/internal/model"
)

var flagWatchListen string // value of watch --listen flag

func addClientCommands(root *cobra.Command) {
	watchCmd.Flags().StringVar(&flagWatchListen, "listen", "127.0.0.1:0", "local address the daemon pushes notifications to")

	root.AddCommand(
		jobsCmd,
		tasksCmd,
		startCmd,
		stopCmd,
		statusCmd,
		cronCmd,
		historyCmd,
		watchCmd,
		shutdownCmd,
	)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "jobs lists the jobs of the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			jobs, err := c.Jobs(ctx)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), jobs)
		})
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "tasks lists the tasks of the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			tasks, err := c.Tasks(ctx)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), tasks)
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start <job>",
	Short: "start runs a job now, the job is named by id or by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			st, err := c.StartJob(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "started %s run=%s\n", st.JobName, st.RunID)
			return err
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <job>",
	Short: "stop cancels the running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			return c.StopJob(ctx, args[0])
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "status shows the state of the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), st)
		})
	},
}

var cronCmd = &cobra.Command{
	Use:       "cron [on|off]",
	Short:     "cron shows or switches the scheduler",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			if len(args) == 1 {
				if err := c.SetCronActive(ctx, args[0] == "on"); err != nil {
					return err
				}
			}
			active, err := c.IsCronActive(ctx)
			if err != nil {
				return err
			}
			state := "off"
			if active {
				state = "on"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cron: %s\n", state)
			return err
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "history prints the run records of a job or a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			recs, err := c.History(ctx, args[0])
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rec.Kind, rec.Text()); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "shutdown cancels all runs and stops the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			return c.Shutdown(ctx)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "watch registers as an observer and prints notifications until interrupted",
	Args:  cobra.NoArgs,
	RunE:  doWatch,
}

func doWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", flagWatchListen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", flagWatchListen, err)
	}

	out := cmd.OutOrStdout()
	var mx sync.Mutex
	server := &http.Server{
		Handler: api.NewReceiver(func(_ context.Context, n model.Notification) {
			mx.Lock()
			defer mx.Unlock()
			printNotification(out, n)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	callback := "http://" + ln.Addr().String() + "/"
	hostname, _ := os.Hostname()
	if err := client.RegisterClient(ctx, callback, hostname); err != nil {
		_ = server.Close()
		return fmt.Errorf("registering %s: %w", callback, err)
	}
	slog.DebugContext(ctx, "watching", "callback", callback)

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := client.RemoveClient(cleanup, callback, hostname); rerr != nil && !errors.Is(rerr, context.DeadlineExceeded) {
		slog.WarnContext(ctx, "removing observer", "error", rerr)
	}
	_ = server.Shutdown(cleanup)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func printNotification(w io.Writer, n model.Notification) {
	switch {
	case n.Process != nil:
		ev := n.Process
		var sb strings.Builder
		sb.WriteString(ev.Time.Format(time.TimeOnly))
		sb.WriteString(" ")
		sb.WriteString(ev.JobID)
		if ev.TaskID != "" {
			sb.WriteString("/" + ev.TaskID)
		}
		fmt.Fprintf(&sb, " %s %s", ev.Stage, ev.Kind)
		switch ev.Kind {
		case model.EventOutput:
			fmt.Fprintf(&sb, " [%s] %s", ev.Stream, ev.Text)
		case model.EventFinished:
			fmt.Fprintf(&sb, " exit=%d", ev.ExitCode)
			if ev.State != "" {
				fmt.Fprintf(&sb, " state=%s", ev.State)
			}
		}
		if ev.Message != "" {
			sb.WriteString(" " + ev.Message)
		}
		fmt.Fprintln(w, sb.String())
	case n.Server != nil:
		ev := n.Server
		fmt.Fprintf(w, "%s server %s", ev.Time.Format(time.TimeOnly), ev.Kind)
		if ev.Kind == model.ServerCron {
			fmt.Fprintf(w, " active=%t", ev.CronActive)
		}
		if ev.Message != "" {
			fmt.Fprintf(w, " %s", ev.Message)
		}
		fmt.Fprintln(w)
	}
}

func newClient() (*api.Client, error) {
	return api.NewClient(viper.GetString("addr"))
}

func withClient(cmd *cobra.Command, fn func(context.Context, *api.Client) error) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	return fn(ctx, client)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
