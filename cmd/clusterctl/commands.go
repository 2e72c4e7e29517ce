package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/NIRALUser/clusterpost/internal/app/delegation"
	"github.com/NIRALUser/clusterpost/internal/config"
	"github.com/NIRALUser/clusterpost/internal/config/viperloader"
	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
	"github.com/NIRALUser/clusterpost/internal/domain/jobs"
	"github.com/NIRALUser/clusterpost/internal/infra/ssh"
	"github.com/NIRALUser/clusterpost/internal/infra/storage"
	"github.com/NIRALUser/clusterpost/pkg/common/logger"
)

type cli struct {
	configFile string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	c := new(cli)

	root := &cobra.Command{
		Use:           "clusterctl",
		Short:         "Administer a clusterpost deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", os.Getenv("CLUSTERPOST_CONFIG"), "config file path")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "log level")

	root.AddCommand(c.migrateCommand())
	root.AddCommand(c.serversCommand())
	root.AddCommand(c.tokenCommand())
	root.AddCommand(c.distributeCommand())

	return root
}

func (c *cli) load(ctx context.Context) (*config.Config, error) {
	return viperloader.New(c.configFile).Load(ctx)
}

func (c *cli) logger(cmd *cobra.Command) *logger.Logger {
	return logger.New(cmd.ErrOrStderr(), logger.ParseLevel(c.logLevel), "clusterctl", nil)
}

func (c *cli) services(ctx context.Context) (*config.Config, *executionserver.Registry, *delegation.Service, error) {
	cfg, err := c.load(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	servers, err := cfg.Servers()
	if err != nil {
		return nil, nil, nil, err
	}
	registry, err := executionserver.NewRegistry(servers)
	if err != nil {
		return nil, nil, nil, err
	}

	tokens, err := delegation.NewService(delegation.Config{
		Secret:      []byte(cfg.Tokens.Secret),
		ServerTTL:   cfg.Tokens.ServerTTL,
		DownloadTTL: cfg.Tokens.DownloadTTL,
		UserTTL:     cfg.Tokens.UserTTL,
	}, registry)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, registry, tokens, nil
}

func (c *cli) migrateCommand() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the job registry schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := c.load(ctx)
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.StorePostgres {
				return fmt.Errorf("migrate needs the postgres store driver, got %q", cfg.Store.Driver)
			}

			dir := storage.Up
			if len(args) == 1 && args[0] == "down" {
				dir = storage.Down
			}

			pool, err := pgxpool.New(ctx, cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			if err := storage.Migrate(pool, source, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "file://db/migrations", "migration source URL")

	return cmd
}

func (c *cli) serversCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List the configured execution servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, registry, _, err := c.services(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMODE\tADDRESS\tQUEUES")
			for _, s := range registry.Configs() {
				addr := "-"
				if !s.IsRemote() {
					addr = s.Address()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Key, s.Mode, addr, strings.Join(s.Queues, ","))
			}
			return w.Flush()
		},
	}
}

func (c *cli) tokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue signed tokens",
	}

	server := &cobra.Command{
		Use:   "server <executionserver>",
		Short: "Issue the identity token of an execution server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, tokens, err := c.services(cmd.Context())
			if err != nil {
				return err
			}

			tok, err := tokens.IssueServerToken(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, delegation.ServerToken{Token: tok.Token, ExecutionServer: args[0]})
		},
	}

	var (
		scopes []string
		ttl    time.Duration
	)
	user := &cobra.Command{
		Use:   "user <email>",
		Short: "Issue a user token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, tokens, err := c.services(cmd.Context())
			if err != nil {
				return err
			}

			tok, err := tokens.IssueUserToken(args[0], scopes, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd, tok)
		},
	}
	user.Flags().StringSliceVar(&scopes, "scope", []string{jobs.ScopeClusterpost}, "scopes granted to the user")
	user.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to tokens.user_ttl")

	cmd.AddCommand(server, user)
	return cmd
}

func (c *cli) distributeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "distribute",
		Short: "Install identity tokens on every local execution server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, registry, tokens, err := c.services(ctx)
			if err != nil {
				return err
			}

			log := c.logger(cmd)
			tracer := noop.NewTracerProvider().Tracer("clusterctl")
			transport := ssh.NewTransport(log, tracer, ssh.WithBinaries(cfg.Dispatch.SSHBinary, cfg.Dispatch.SCPBinary))

			opts := []delegation.DistributorOption{delegation.WithConcurrency(cfg.Distribution.Concurrency)}
			if cfg.Distribution.TempDir != "" {
				opts = append(opts, delegation.WithTempDir(cfg.Distribution.TempDir))
			}

			return delegation.NewDistributor(tokens, registry, transport, log, tracer, opts...).Distribute(ctx)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
