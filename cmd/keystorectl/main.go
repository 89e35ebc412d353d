package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/go-keystore-auth/cmd/keystorectl/admin"
	"github.com/redmonkez12/go-keystore-auth/cmd/keystorectl/ui"
	"github.com/redmonkez12/go-keystore-auth/internal/config"
	"github.com/redmonkez12/go-keystore-auth/internal/database"
	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
	"github.com/redmonkez12/go-keystore-auth/internal/password"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "keystorectl",
		Short:         "Operate the keystore auth service",
		Long:          "Run migrations and manage accounts and sessions directly against the configured stores.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().Bool("status", false, "Only print the current schema version")

	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	userCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account (interactive unless --email and --password are set)",
		RunE:  runUserCreate,
	}
	userCreateCmd.Flags().String("email", "", "Account email")
	userCreateCmd.Flags().String("password", "", "Account password")
	userCreateCmd.Flags().String("name", "", "Display name")
	userCreateCmd.Flags().String("roles", "", "Comma separated role codes")
	userCreateCmd.Flags().Bool("verified", false, "Mark the email as verified")

	userDeactivateCmd := &cobra.Command{
		Use:   "deactivate <email>",
		Short: "Disable an account and end all of its sessions",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserDeactivate,
	}
	userDeactivateCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")

	userActivateCmd := &cobra.Command{
		Use:   "activate <email>",
		Short: "Re-enable a deactivated account",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserActivate,
	}

	userCmd.AddCommand(userCreateCmd, userDeactivateCmd, userActivateCmd)

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage keystore entries",
	}

	sessionsRevokeCmd := &cobra.Command{
		Use:   "revoke <email>",
		Short: "End every session of an account",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsRevoke,
	}

	sessionsPruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete keystore entries older than REFRESH_TOKEN_TTL",
		RunE:  runSessionsPrune,
	}

	sessionsCmd.AddCommand(sessionsRevokeCmd, sessionsPruneCmd)
	rootCmd.AddCommand(migrateCmd, userCmd, sessionsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	statusOnly, _ := cmd.Flags().GetBool("status")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if statusOnly {
		version, err := database.MigrationStatus(cmd.Context(), db.DB, goose.DialectPostgres)
		if err != nil {
			return err
		}
		ui.PrintHint(fmt.Sprintf("schema version %d", version))
		return nil
	}

	applied, err := database.Migrate(cmd.Context(), db.DB, goose.DialectPostgres)
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		ui.PrintHint("schema is up to date")
		return nil
	}
	ui.PrintSuccess(fmt.Sprintf("applied %d migration(s): %v", len(applied), applied))
	return nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	pw, _ := cmd.Flags().GetString("password")
	name, _ := cmd.Flags().GetString("name")
	roles, _ := cmd.Flags().GetString("roles")
	verified, _ := cmd.Flags().GetBool("verified")

	input := admin.UserInput{
		Email:       email,
		Password:    pw,
		DisplayName: name,
		Roles:       admin.ParseRoles(roles),
		Verified:    verified,
	}

	// Interactive mode
	if email == "" || pw == "" {
		var err error
		input, err = ui.RunUserForm(input)
		if err != nil {
			return fmt.Errorf("form cancelled: %w", err)
		}
	}

	return withAdmin(cmd, func(a *admin.Admin) error {
		u, err := a.CreateUser(cmd.Context(), input)
		if err != nil {
			return err
		}
		ui.PrintUser(u)
		return nil
	})
}

func runUserDeactivate(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")

	if !yes {
		ok, err := ui.Confirm(fmt.Sprintf("Deactivate %s and end all of its sessions?", args[0]))
		if err != nil {
			return err
		}
		if !ok {
			ui.PrintHint("Aborted.")
			return nil
		}
	}

	return withAdmin(cmd, func(a *admin.Admin) error {
		n, err := a.DeactivateUser(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("deactivated %s, ended %d session(s)", args[0], n))
		return nil
	})
}

func runUserActivate(cmd *cobra.Command, args []string) error {
	return withAdmin(cmd, func(a *admin.Admin) error {
		if err := a.ActivateUser(cmd.Context(), args[0]); err != nil {
			return err
		}
		ui.PrintSuccess("activated " + args[0])
		return nil
	})
}

func runSessionsRevoke(cmd *cobra.Command, args []string) error {
	return withAdmin(cmd, func(a *admin.Admin) error {
		n, err := a.RevokeSessions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("ended %d session(s) for %s", n, args[0]))
		return nil
	})
}

func runSessionsPrune(cmd *cobra.Command, args []string) error {
	return withAdmin(cmd, func(a *admin.Admin) error {
		n, err := a.PruneSessions(cmd.Context())
		if err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("pruned %d expired session(s)", n))
		return nil
	})
}

// withAdmin opens the configured stores, runs fn and closes them again.
func withAdmin(cmd *cobra.Command, fn func(a *admin.Admin) error) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := keystore.Repository(keystore.NewBunRepository(db))
	if cfg.Auth.KeystoreBackend == config.KeystoreBackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping Redis: %w", err)
		}
		repo = keystore.NewRedisRepository(client, cfg.Auth.RefreshTokenTTL)
	}

	hasher, err := password.New(password.Algorithm(cfg.Auth.PasswordAlgorithm), cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	ks := keystore.New(repo,
		keystore.WithSecretBytes(cfg.Auth.SecretBytes),
		keystore.WithLifetime(cfg.Auth.RefreshTokenTTL),
	)

	return fn(admin.New(user.NewRepository(db), ks, hasher, cfg.Auth.DefaultRole))
}

func openDB(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	return database.OpenPostgres(ctx, cfg.Database.ConnectionString(), database.PoolOptions{
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	})
}
