// Package admincli is the operator command line: the admin API server, the
// presence sweeper and one-off maintenance commands.
package admincli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sessiontrack/internal/backend"
	"sessiontrack/internal/config"
	"sessiontrack/internal/handlers"
	"sessiontrack/internal/jobs"
	"sessiontrack/internal/log"
	"sessiontrack/internal/models"
	"sessiontrack/internal/security"
	"sessiontrack/internal/server"
	"sessiontrack/internal/service"
)

type options struct {
	loadConfig func() (*config.AppConfig, error)
	driver     string
}

// NewRootCommand builds the admin CLI. loadConfig is config.Load outside
// tests.
func NewRootCommand(loadConfig func() (*config.AppConfig, error)) *cobra.Command {
	opts := &options{loadConfig: loadConfig}
	cmd := &cobra.Command{
		Use:           "sessiontrack-admin",
		Short:         "Operate session and presence tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.driver, "store", "", "override store.driver (memory, redis, postgres)")
	cmd.AddCommand(
		newServeCommand(opts),
		newTokenCommand(opts),
		newSweepCommand(opts),
		newBroadcastCommand(opts),
	)
	return cmd
}

func (o *options) load() (*config.AppConfig, zerolog.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if o.driver != "" {
		cfg.Store.Driver = o.driver
	}
	return cfg, log.New(cfg.Environment, cfg.Logging.Level), nil
}

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the scheduled presence sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			be, err := backend.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close()

			channel, notifyPingers, err := backend.Notifier(ctx, cfg, logger)
			if err != nil {
				return err
			}

			sweeper := jobs.NewSweeper(be.Store, cfg.Sweeper.StaleAfter, nil, log.Component(logger, "sweeper"))
			scheduler := jobs.NewScheduler(log.Component(logger, "scheduler"))
			if _, err := scheduler.AddFunc("sweeper", cfg.Sweeper.Schedule, sweeper.Job(cfg.Sweeper.Timeout)); err != nil {
				return fmt.Errorf("schedule sweeper: %w", err)
			}
			scheduler.Start()

			admin := service.NewAdminService(be.Store, sweeper, channel, cfg, nil, log.Component(logger, "admin"))
			pingers := append(be.Pingers, notifyPingers...)
			srv := server.NewHTTPServer(cfg, cfg.AdminHTTP, logger, handlers.NewAdminHandlers(logger, cfg, admin, pingers...))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				logger.Info().Msg("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Error().Err(serr).Msg("graceful shutdown failed")
			}
			select {
			case <-scheduler.Stop().Done():
			case <-shutdownCtx.Done():
			}
			return err
		},
	}
}

func newTokenCommand(opts *options) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Security.JWTSecret == "" {
				return fmt.Errorf("security.jwtsecret is not set")
			}
			if ttl <= 0 {
				ttl = cfg.Security.AdminTokenTTL
			}
			token, err := security.GenerateAdminToken(cfg.Security.JWTSecret, subject, handlers.RoleAdmin, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.admintokenttl)")
	return cmd
}

func newSweepCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark stale users offline and stale sessions inactive once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Sweeper.Timeout)
			defer cancel()

			be, err := backend.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close()

			result, err := jobs.NewSweeper(be.Store, cfg.Sweeper.StaleAfter, nil, logger).Run(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "users offline: %d\nsessions inactive: %d\n", result.UsersOffline, result.SessionsInactive)
			return err
		},
	}
}

func newBroadcastCommand(opts *options) *cobra.Command {
	var in service.BroadcastInput
	var target, action, kind string
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Publish a broadcast command to every tracked session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Store.Timeout)
			defer cancel()

			be, err := backend.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close()

			in.Target = models.BroadcastTarget(target)
			in.Action = models.BroadcastAction(action)
			in.Type = models.NoticeType(kind)
			msg, err := service.NewAdminService(be.Store, nil, nil, cfg, nil, logger).PublishBroadcast(ctx, in)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&target, "target", string(models.TargetAll), "all, verified, premium, trial, online, specific, specific_user")
	cmd.Flags().StringVar(&action, "action", string(models.ActionShowNotification), "broadcast action")
	cmd.Flags().StringVar(&kind, "type", string(models.NoticeInfo), "notice type for show_notification")
	cmd.Flags().StringVar(&in.Message, "message", "", "message shown to users")
	cmd.Flags().StringVar(&in.TargetPhone, "phone", "", "target phone for specific broadcasts")
	cmd.Flags().StringVar(&in.TargetUserID, "user", "", "target user id for specific_user broadcasts")
	return cmd
}
