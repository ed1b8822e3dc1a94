package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dailyrise/internal/app"
	"dailyrise/internal/db"
	"dailyrise/internal/domain"
	"dailyrise/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "dr",
	Short: "DailyRise CLI",
	Long: `DailyRise pairs users on a habit and rings both of them at the same
instant. Whoever stops the alarm first by doing the habit wins the challenge
and its points.

- Habits belong to one user; challenges name a habit, a challenger and a
  challenged user.
- Challenges go pending -> accepted|declined, and accepted -> completed once,
  for exactly one winner.
- 'dr serve' exposes the HTTP API; 'dr watch' runs the alarm client against a
  local workspace or a remote server.
- Every change lands in the event log, see 'dr log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		cfg, err := app.LoadConfig(workspace)
		if err != nil {
			return err
		}
		app.ConfigureLogging(cfg, viper.GetString("log-level"))
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DAILYRISE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user-id", "u", "", "acting user id")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(habitCmd())
	rootCmd.AddCommand(challengeCmd())
	rootCmd.AddCommand(pointsCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(watchCmd())
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	w, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer w.Close()
	return fn(ctx, w)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withWorkspace(ctx, func(ctx context.Context, w *app.Workspace) error {
		return fn(ctx, w.Engine)
	})
}

func currentUser() (string, error) {
	id := strings.TrimSpace(viper.GetString("user-id"))
	if id == "" {
		return "", errors.New("user id required; use --user-id or DAILYRISE_USER_ID")
	}
	return id, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printChallenges(items []domain.Challenge) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Habit", "Challenger", "Challenged", "Status", "Scheduled", "Winner"})
	for _, c := range items {
		habit := c.HabitName
		if habit == "" {
			habit = c.HabitID
		}
		tw.AppendRow(table.Row{c.ID, habit, c.ChallengerID, c.ChallengedUserID, c.Status, c.ScheduledAt.Local().Format(time.DateTime), optionalValue(c.WinnerID)})
	}
	tw.Render()
	return nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optionalValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
