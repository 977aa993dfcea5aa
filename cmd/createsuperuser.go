/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/jjudge-oj/accounts/config"
	"github.com/jjudge-oj/accounts/internal/db"
	"github.com/jjudge-oj/accounts/internal/logging"
	"github.com/jjudge-oj/accounts/internal/server"
	"github.com/spf13/cobra"
)

const superuserPasswordEnv = "ACCOUNTS_SUPERUSER_PASSWORD"

var (
	superuserEmail    string
	superuserPassword string
)

// createSuperuserCmd represents the createsuperuser command
var createSuperuserCmd = &cobra.Command{
	Use:   "createsuperuser",
	Short: "Create a staff superuser",
	Long: `Creates a user with staff and superuser rights. The password may be
passed with --password or through ` + superuserPasswordEnv + `.

	accounts createsuperuser --email admin@example.com
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := superuserPassword
		if password == "" {
			password = os.Getenv(superuserPasswordEnv)
		}
		if password == "" {
			return errors.New("password is required (--password or " + superuserPasswordEnv + ")")
		}

		cfg := config.LoadConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger := logging.New(cfg.Log, os.Stderr)
		ctx := logging.WithContext(cmd.Context(), logger)

		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer func() {
			_ = conn.Close()
		}()

		users, _, err := server.NewUserService(conn, cfg, nil)
		if err != nil {
			return err
		}

		user, err := users.CreateSuperuser(ctx, superuserEmail, password)
		if err != nil {
			return fmt.Errorf("create superuser: %w", err)
		}

		logger.Info("superuser created", "user_id", user.ID, "email", user.Email)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createSuperuserCmd)

	createSuperuserCmd.Flags().StringVar(&superuserEmail, "email", "", "Email address of the superuser")
	createSuperuserCmd.Flags().StringVar(&superuserPassword, "password", "", "Password of the superuser")
	_ = createSuperuserCmd.MarkFlagRequired("email")
}
