package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/config"
	"github.com/toolhub/hubauth/internal/db"
	"github.com/toolhub/hubauth/internal/fallback"
	"github.com/toolhub/hubauth/internal/job"
	"github.com/toolhub/hubauth/internal/ratelimit"
	"github.com/toolhub/hubauth/internal/repo"
	"github.com/toolhub/hubauth/internal/schedule"
	"github.com/toolhub/hubauth/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "hubauth",
		Short: "hubauth authentication server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	load := func() (*config.Config, error) {
		if configPath == "" {
			return nil, fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
		return cfg, nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the auth server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			conn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer conn.Close()
			if err := db.ApplyMigrations(conn); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			logutil.GetLogger(cmd.Context()).Info("migrations applied")
			return nil
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "delete expired sessions and verification codes once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			conn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer conn.Close()
			limiter := ratelimit.New(ratelimit.NewMemoryStore(0))
			jobs := []schedule.Job{
				job.NewVerificationPurgeJob(service.NewVerificationService(repo.NewVerificationCodeRepo(conn), limiter)),
				job.NewSessionPurgeJob(service.NewSessionService(repo.NewSessionRepo(conn))),
			}
			for _, j := range jobs {
				if err := schedule.RunOnce(cmd.Context(), j); err != nil {
					return err
				}
			}
			return nil
		},
	}

	var otpEmail string
	fallbackOTPCmd := &cobra.Command{
		Use:   "fallback-otp",
		Short: "print the current fallback login code for the default admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			email := otpEmail
			if email == "" {
				email = cfg.Fallback.AdminEmail
			}
			provider := fallback.NewProvider(fallbackConfig(cfg), nil, nil, nil, nil)
			if !provider.IsDefaultAdmin(email) {
				return fmt.Errorf("%s is not the fallback admin", email)
			}
			code, err := provider.GenerateFallbackOTP(email)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, code)
			return nil
		},
	}
	fallbackOTPCmd.Flags().StringVar(&otpEmail, "email", "", "admin email, defaults to fallback.admin_email")

	rootCmd.AddCommand(runCmd, migrateCmd, purgeCmd, fallbackOTPCmd, newUserCmd(load))

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func fallbackConfig(cfg *config.Config) fallback.Config {
	return fallback.Config{
		AdminEmail:       cfg.Fallback.AdminEmail,
		AdminPassword:    cfg.Fallback.AdminPassword,
		AdminDisplayName: cfg.Fallback.AdminDisplayName,
		AdminNotifyEmail: cfg.Fallback.AdminNotifyEmail,
		OTPSecret:        cfg.Fallback.OTPSecret,
	}
}
