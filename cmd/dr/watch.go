package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dailyrise/internal/alarm"
	"dailyrise/internal/app"
	"dailyrise/internal/challenge"
	"dailyrise/internal/config"
	"dailyrise/internal/domain"
	"dailyrise/internal/engine"
	"dailyrise/internal/logging"
	dailyrisesdk "dailyrise/sdk/go"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the alarm client",
		Long: `Polls your challenges and rings when an accepted one is due.

While it runs, type:
  d          done: stop the alarm and claim the win
  s          skip the ringing alarm
  a <id>     accept an incoming challenge
  x <id>     decline an incoming challenge
  q          quit

With --server the client talks to a remote DailyRise API using --token or
--api-key; otherwise it works on the local workspace as --user-id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if serverURL := strings.TrimSpace(viper.GetString("server")); serverURL != "" {
				client := dailyrisesdk.New(serverURL)
				client.BearerToken = viper.GetString("token")
				client.APIKey = viper.GetString("api-key")
				me, err := client.Me(ctx)
				if err != nil {
					return fmt.Errorf("resolve user on %s: %w", serverURL, err)
				}
				return runWatch(ctx, cfg, me.UserID, client, client)
			}
			user, err := currentUser()
			if err != nil {
				return err
			}
			return withWorkspace(ctx, func(ctx context.Context, w *app.Workspace) error {
				gw := engine.LocalGateway{Engine: w.Engine, UserID: user}
				return runWatch(ctx, w.Config, user, gw, gw)
			})
		},
	}
	cmd.Flags().String("server", "", "DailyRise API base URL")
	cmd.Flags().String("token", "", "bearer token for --server")
	cmd.Flags().String("api-key", "", "API key for --server")
	_ = viper.BindPFlag("server", cmd.Flags().Lookup("server"))
	_ = viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	_ = viper.BindPFlag("api-key", cmd.Flags().Lookup("api-key"))
	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config, user string, gw alarm.Gateway, ledger alarm.Ledger) error {
	log := logging.Component("watch").With().Str("user_id", user).Logger()
	session := alarm.NewPollingSession(alarm.Options{
		UserID:   user,
		Gateway:  gw,
		Ledger:   ledger,
		Notifier: terminalNotifier{out: os.Stdout, user: user, log: log},
		Timings:  alarm.TimingsFromConfig(cfg.Alarm),
		Machine:  challenge.Machine{WinPoints: cfg.Points.ChallengeWin},
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sup := newSupervisor("dailyrise-watch")
	sup.Add(session)
	errCh := sup.ServeBackground(ctx)

	fmt.Printf("Watching challenges for %s. Type d (done), s (skip), a <id>, x <id> or q.\n", user)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok || handleWatchLine(ctx, session, line, os.Stdout) {
				break loop
			}
		}
	}
	cancel()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type alarmControls interface {
	Acknowledge() error
	Skip() error
	Respond(ctx context.Context, id string, status domain.ChallengeStatus) (domain.Challenge, error)
}

// handleWatchLine runs one typed command and reports whether to quit.
func handleWatchLine(ctx context.Context, s alarmControls, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	var err error
	switch strings.ToLower(fields[0]) {
	case "q", "quit", "exit":
		return true
	case "d", "done":
		err = s.Acknowledge()
	case "s", "skip":
		err = s.Skip()
	case "a", "accept", "x", "decline":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: a <challenge-id> | x <challenge-id>")
			return false
		}
		status := domain.StatusAccepted
		if verb := strings.ToLower(fields[0]); verb == "x" || verb == "decline" {
			status = domain.StatusDeclined
		}
		var c domain.Challenge
		if c, err = s.Respond(ctx, fields[1], status); err == nil {
			fmt.Fprintf(out, "Challenge %s %s.\n", c.ID, c.Status)
		}
	default:
		fmt.Fprintf(out, "unknown command %q\n", fields[0])
		return false
	}
	switch {
	case errors.Is(err, alarm.ErrNoActiveAlarm):
		fmt.Fprintln(out, "No alarm is ringing.")
	case errors.Is(err, challenge.ErrInvalidTransition):
		fmt.Fprintln(out, "That challenge can no longer be answered.")
	case err != nil:
		fmt.Fprintln(out, "error:", err)
	}
	return false
}

type terminalNotifier struct {
	out  io.Writer
	user string
	log  zerolog.Logger
}

func (n terminalNotifier) IncomingChallenge(c domain.Challenge) {
	fmt.Fprintf(n.out, "New challenge from %s on %q at %s. Accept: a %s  Decline: x %s\n",
		c.ChallengerID, habitLabel(c), c.ScheduledAt.Local().Format("Mon 15:04"), c.ID, c.ID)
}

func (n terminalNotifier) AlarmStarted(c domain.Challenge) {
	fmt.Fprintf(n.out, "\aWake up! %q against %s. Type d when done, s to skip.\n", habitLabel(c), c.Opponent(n.user))
}

func (n terminalNotifier) AlarmBeep(c domain.Challenge, remaining time.Duration) {
	fmt.Fprintf(n.out, "\a  %s left\n", remaining.Round(time.Second))
}

func (n terminalNotifier) AlarmStopped(c domain.Challenge, outcome alarm.Outcome) {
	switch outcome {
	case alarm.OutcomeSuccess:
		fmt.Fprintf(n.out, "Alarm stopped. Recording %q...\n", habitLabel(c))
	case alarm.OutcomeLost:
		fmt.Fprintf(n.out, "Alarm stopped: %s got there first.\n", c.Opponent(n.user))
	case alarm.OutcomeExpired:
		fmt.Fprintln(n.out, "Alarm timed out.")
	default:
		fmt.Fprintln(n.out, "Alarm skipped.")
	}
}

func (n terminalNotifier) AlarmMissed(c domain.Challenge) {
	fmt.Fprintf(n.out, "Missed %q scheduled at %s.\n", habitLabel(c), c.ScheduledAt.Local().Format("15:04"))
}

func (n terminalNotifier) ChallengeWon(c domain.Challenge) {
	fmt.Fprintf(n.out, "You won %q!\n", habitLabel(c))
}

func (n terminalNotifier) Error(err error) {
	n.log.Warn().Err(err).Msg("alarm client error")
}

func habitLabel(c domain.Challenge) string {
	if c.HabitName != "" {
		return c.HabitName
	}
	return c.HabitID
}
