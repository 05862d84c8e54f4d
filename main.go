package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"calculogic/internal/builder"
	"calculogic/internal/storage/redisstore"
	"calculogic/internal/storage/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the state shared by every command.
type app struct {
	envFile string
	verbose bool
	cfg     Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:          "calculogic",
		Short:        "Calculogic builder item service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.envFile)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("store") {
				cfg.Store, _ = flags.GetString("store")
			}
			if flags.Changed("redis-addr") {
				cfg.RedisAddr, _ = flags.GetString("redis-addr")
			}
			if flags.Changed("sqlite-path") {
				cfg.SQLitePath, _ = flags.GetString("sqlite-path")
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.logger, err = newLogger(cfg.LogLevel, a.verbose)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	pf.String("store", storeRedis, "storage backend: redis or sqlite")
	pf.String("redis-addr", "localhost:6379", "Redis address")
	pf.String("sqlite-path", "calculogic.db", "SQLite database file")

	rootCmd.AddCommand(a.serveCmd(), a.migrateCmd(), a.seedCmd(), a.tokenCmd())
	return rootCmd
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTPAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "HTTP listen address")
	return cmd
}

// serve runs the HTTP server until ctx is done, then shuts it down
// gracefully.
func (a *app) serve(ctx context.Context) error {
	if err := a.cfg.requireSecret(); err != nil {
		return err
	}
	store, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := builder.NewService(store)
	handler := NewHandler(svc, NewSessions(a.cfg.SessionSecret, a.cfg.NonceTTL), a.logger)
	server := &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server is listening", zap.String("addr", server.Addr), zap.String("store", a.cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("server is shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		a.logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQLite migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open(cmd.Context(), a.cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()
			applied := store.AppliedMigrations()
			a.logger.Info("migrations applied", zap.String("path", a.cfg.SQLitePath), zap.Strings("applied", applied))
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func (a *app) seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load configurations and items from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := loadSeed(file)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			report, err := applySeed(cmd.Context(), builder.NewService(store), seed)
			if err != nil {
				return err
			}
			a.logger.Info("seed loaded",
				zap.String("owner", seed.Owner),
				zap.Int("configurations", report.Configurations),
				zap.Int("knowledge", report.Knowledge),
				zap.Int("items", report.Items),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "created %d configurations, %d knowledge entries and %d items\n",
				report.Configurations, report.Knowledge, report.Items)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed file")
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	var (
		user  string
		admin bool
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for local use",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.requireSecret(); err != nil {
				return err
			}
			token, err := NewSessions(a.cfg.SessionSecret, a.cfg.NonceTTL).IssueSession(builder.Principal{UserID: user, Admin: admin}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant administrative rights")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// openStore connects the backend named by cfg.Store.
func openStore(ctx context.Context, cfg Config) (builder.Store, error) {
	switch cfg.Store {
	case storeRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("could not connect to redis (%s): %w", cfg.RedisAddr, err)
		}
		return redisstore.New(client), nil
	case storeSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}
