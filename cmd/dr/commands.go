package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"dailyrise/internal/app"
	"dailyrise/internal/config"
	"dailyrise/internal/domain"
	"dailyrise/internal/engine"
	"dailyrise/internal/engine/auth"
	"dailyrise/internal/repo"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and a starter dailyrise.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				fmt.Printf("Initialized DailyRise workspace in %s\n", w.Dir)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect dailyrise.yml"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "********"
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	})
	return c
}

func habitCmd() *cobra.Command {
	h := &cobra.Command{Use: "habit", Short: "Manage habits"}
	h.AddCommand(habitAddCmd())
	h.AddCommand(habitListCmd())
	h.AddCommand(habitLogCmd())
	return h
}

func habitAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Create a habit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				habit, err := e.CreateHabit(ctx, user, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printJSONOrTable(habit)
			})
		},
	}
}

func habitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your habits",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				habits, err := e.ListHabits(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(habits)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, h := range habits {
					tw.AppendRow(table.Row{h.ID, h.Name, h.CreatedAt.Local().Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func habitLogCmd() *cobra.Command {
	var date, status, notes string
	cmd := &cobra.Command{
		Use:   "log <habit-id>",
		Short: "Record a habit completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.LogHabitCompletion(ctx, domain.HabitLog{
					HabitID: args[0],
					UserID:  user,
					LogDate: date,
					Status:  status,
					Notes:   notes,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "log date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&status, "status", "done", "done or skipped")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	return cmd
}

func challengeCmd() *cobra.Command {
	c := &cobra.Command{Use: "challenge", Short: "Send and answer challenges"}
	c.AddCommand(challengeSendCmd())
	c.AddCommand(challengeListCmd())
	c.AddCommand(challengeShowCmd())
	c.AddCommand(challengeRespondCmd("accept", domain.StatusAccepted))
	c.AddCommand(challengeRespondCmd("decline", domain.StatusDeclined))
	return c
}

func challengeSendCmd() *cobra.Command {
	var to, habitID, at, tz, scheduledAt, community string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Challenge another user on one of your habits",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			opts := engine.ChallengeCreateOptions{
				ChallengerID:     user,
				ChallengedUserID: to,
				HabitID:          habitID,
				CommunityID:      optionalString(community),
				TimeOfDay:        at,
				Location:         time.Local,
			}
			if tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return fmt.Errorf("invalid --tz: %w", err)
				}
				opts.Location = loc
			}
			if scheduledAt != "" {
				ts, err := time.Parse(time.RFC3339, scheduledAt)
				if err != nil {
					return fmt.Errorf("invalid --scheduled-at: %w", err)
				}
				opts.ScheduledAt = ts
			}
			if opts.TimeOfDay == "" && opts.ScheduledAt.IsZero() {
				return errors.New("--at or --scheduled-at is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateChallenge(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "challenged user id")
	cmd.Flags().StringVar(&habitID, "habit", "", "habit id")
	cmd.Flags().StringVar(&at, "at", "", "time of day HH:MM (next occurrence)")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone for --at (default local)")
	cmd.Flags().StringVar(&scheduledAt, "scheduled-at", "", "absolute RFC3339 instant")
	cmd.Flags().StringVar(&community, "community", "", "community id")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("habit")
	return cmd
}

func challengeListCmd() *cobra.Command {
	var status, exclude, role string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your challenges",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			f := domain.ChallengeFilter{Limit: limit}
			if f.StatusIn, err = parseStatusList(status); err != nil {
				return err
			}
			if f.ExcludeStatus, err = parseStatusList(exclude); err != nil {
				return err
			}
			switch role {
			case "":
			case "challenger":
				f.ChallengerID = user
			case "challenged":
				f.ChallengedUserID = user
			default:
				return fmt.Errorf("--role must be challenger or challenged")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListChallenges(ctx, user, f)
				if err != nil {
					return err
				}
				return printChallenges(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma-separated statuses to include")
	cmd.Flags().StringVar(&exclude, "exclude-status", "", "comma-separated statuses to exclude")
	cmd.Flags().StringVar(&role, "role", "", "challenger or challenged")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func challengeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetChallenge(ctx, user, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func challengeRespondCmd(use string, status domain.ChallengeStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a pending challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateChallengeStatus(ctx, args[0], status, user)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func pointsCmd() *cobra.Command {
	var community string
	var limit int
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Show your point total and recent awards",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				total, err := e.PointsTotal(ctx, user, optionalString(community))
				if err != nil {
					return err
				}
				awards, err := e.Repo.ListPointAwards(ctx, user, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user_id": user, "total": total, "awards": awards})
				}
				fmt.Printf("%s: %d points\n", user, total)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Amount", "Reason", "Challenge"})
				for _, a := range awards {
					tw.AppendRow(table.Row{a.CreatedAt.Local().Format(time.DateTime), a.Amount, a.Reason, optionalValue(a.ChallengeID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&community, "community", "", "restrict the total to a community")
	cmd.Flags().IntVar(&limit, "limit", 10, "recent awards to show")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := auth.Tokens{Secret: cfg.Auth.JWTSecret}.Issue(user, ttl)
			if err != nil {
				if errors.Is(err, auth.ErrSecretMissing) {
					return fmt.Errorf("%w: set auth.jwt_secret or %s", err, app.JWTSecretEnv)
				}
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(&cobra.Command{
		Use:   "create [name]",
		Short: "Create an API key; the secret is shown once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, user, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				fmt.Printf("API key %s created for %s\n%s\n", key.ID, user, secret)
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt.Local().Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := currentUser()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, user, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	})
	return k
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor id")
	return cmd
}

func parseStatusList(raw string) ([]domain.ChallengeStatus, error) {
	var out []domain.ChallengeStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s := domain.ChallengeStatus(part)
		if !s.Valid() {
			return nil, fmt.Errorf("unknown status %q", part)
		}
		out = append(out, s)
	}
	return out, nil
}
