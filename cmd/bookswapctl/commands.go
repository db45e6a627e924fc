package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bookswap/internal/chaos"
	"bookswap/internal/config"
	"bookswap/internal/exchange"
	"bookswap/internal/identity"
	"bookswap/internal/store"
	"bookswap/internal/templates"
	"bookswap/pkg/logger"
)

type rootOptions struct {
	envFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "bookswapctl",
		Short:         "Operate the bookswap exchange store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Init("development")
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			logger.Init(cfg.Env)
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "optional .env file")

	root.AddCommand(
		newMigrateCmd(opts),
		newReconcileCmd(opts),
		newRenderCmd(),
		newTokenCmd(opts),
		newChaosCmd(opts),
	)
	return root
}

func (o *rootOptions) open(ctx context.Context) (*store.DB, error) {
	return store.Open(ctx, o.cfg.DatabaseDriver, o.cfg.DatabaseURL)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			version, err := db.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair books whose availability disagrees with their exchanges",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			r := exchange.NewReconciler(db)
			var drifts []exchange.Drift
			if dryRun {
				drifts, err = r.Scan(cmd.Context())
			} else {
				drifts, err = r.Repair(cmd.Context())
			}
			if err != nil {
				return err
			}

			verb := "repaired"
			if dryRun {
				verb = "drifted"
			}
			for _, d := range drifts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s -> %s\n", verb, d.BookID, d.Actual, d.Expected)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d book(s) %s\n", len(drifts), verb)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report drift")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var data map[string]string

	cmd := &cobra.Command{
		Use:       "render <template>",
		Short:     "Render a message template",
		Args:      cobra.ExactArgs(1),
		ValidArgs: keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := templates.Render(templates.Key(args[0]), templates.Data(data))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&data, "set", nil, "placeholder values, e.g. --set book_title=Dune")
	return cmd
}

func keys() []string {
	var out []string
	for _, k := range templates.Keys() {
		out = append(out, string(k))
	}
	return out
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	var issuer string

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("user id: %w", err)
			}
			token, err := identity.NewJWT(opts.cfg.JWTSecret, issuer).Issue(userID, ttl)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
				"user_id":      userID.String(),
				"access_token": token,
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer claim")
	return cmd
}

func newChaosCmd(opts *rootOptions) *cobra.Command {
	var window, interval, pause time.Duration

	cmd := &cobra.Command{
		Use:   "chaos",
		Short: "Run the exchange invariant game day against the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return err
			}

			target := chaos.NewTarget(db, exchange.SyncOptions{
				MaxTries: opts.cfg.SyncMaxRetries,
				Interval: opts.cfg.SyncRetryInterval,
			})
			engine := chaos.NewEngine(interval, pause)
			target.Register(engine, window)

			return engine.ExecuteGameDay(ctx, chaos.GameDay{
				Name:      "Exchange invariant game day",
				Date:      time.Now(),
				Scenarios: engine.Experiments(),
			}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&window, "window", 5*time.Second, "observation window per experiment")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "metric sampling interval")
	cmd.Flags().DurationVar(&pause, "pause", 2*time.Second, "pause between experiments")
	return cmd
}
