package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/config"
	"github.com/toolhub/hubauth/internal/db"
	"github.com/toolhub/hubauth/internal/fallback"
	"github.com/toolhub/hubauth/internal/model"
	"github.com/toolhub/hubauth/internal/pkg/password"
	"github.com/toolhub/hubauth/internal/repo"
)

// newUserCmd provisions durable accounts. Self-service signup is not
// offered, so operators create users here.
func newUserCmd(load func() (*config.Config, error)) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "manage durable user accounts",
	}

	var (
		email       string
		plain       string
		displayName string
		role        string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := model.Role(role)
			if !r.Valid() {
				return fmt.Errorf("invalid role %q", role)
			}
			if err := password.CheckPolicy(plain); err != nil {
				return err
			}
			hash, err := password.Hash(plain)
			if err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			conn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer conn.Close()
			now := time.Now().Unix()
			user := &model.User{
				Email:          fallback.NormalizeEmail(email),
				PasswordHash:   hash,
				DisplayName:    displayName,
				Role:           r,
				EmailVerified:  true,
				AdminConfirmed: true,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := repo.NewUserRepo(conn).Create(cmd.Context(), user); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			logutil.GetLogger(cmd.Context()).Info("user created",
				zap.Int64("user_id", user.ID), zap.String("email", user.Email), zap.String("role", role))
			return nil
		},
	}
	addCmd.Flags().StringVar(&email, "email", "", "login email")
	addCmd.Flags().StringVar(&plain, "password", "", "initial password")
	addCmd.Flags().StringVar(&displayName, "name", "", "display name")
	addCmd.Flags().StringVar(&role, "role", string(model.RoleUser), "user, dev or admin")
	_ = addCmd.MarkFlagRequired("email")
	_ = addCmd.MarkFlagRequired("password")

	var (
		roleEmail string
		newRole   string
	)
	roleCmd := &cobra.Command{
		Use:   "role",
		Short: "change a user's role; takes effect on their next request",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := model.Role(newRole)
			if !r.Valid() {
				return fmt.Errorf("invalid role %q", newRole)
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			conn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer conn.Close()
			users := repo.NewUserRepo(conn)
			user, err := users.GetByEmail(cmd.Context(), fallback.NormalizeEmail(roleEmail))
			if err != nil {
				return fmt.Errorf("find user: %w", err)
			}
			if err := users.UpdateRole(cmd.Context(), user.ID, r, time.Now().Unix()); err != nil {
				return fmt.Errorf("update role: %w", err)
			}
			logutil.GetLogger(cmd.Context()).Info("role updated",
				zap.Int64("user_id", user.ID), zap.String("from", string(user.Role)), zap.String("to", newRole))
			return nil
		},
	}
	roleCmd.Flags().StringVar(&roleEmail, "email", "", "login email")
	roleCmd.Flags().StringVar(&newRole, "role", "", "user, dev or admin")
	_ = roleCmd.MarkFlagRequired("email")
	_ = roleCmd.MarkFlagRequired("role")

	userCmd.AddCommand(addCmd, roleCmd)
	return userCmd
}
