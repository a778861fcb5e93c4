package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dwizi/agent-orchestrator/internal/app"
	"github.com/dwizi/agent-orchestrator/internal/catalog"
	"github.com/dwizi/agent-orchestrator/internal/config"
	"github.com/dwizi/agent-orchestrator/internal/store"
)

func openStore(ctx context.Context) (*store.Store, error) {
	return app.OpenStore(ctx, config.FromEnv())
}

func newMigrateCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer sqlStore.Close()
			logger.Info("database migrated", "driver", sqlStore.Driver())
			cmd.Println("migrations applied")
			return nil
		},
	}
}

func newCreateAdminCommand() *cobra.Command {
	var email, username, password, tenantName string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin user and its tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer sqlStore.Close()

			user, tenant, err := sqlStore.CreateAdmin(cmd.Context(), store.CreateAdminInput{
				Email:      email,
				Username:   username,
				Password:   password,
				TenantName: tenantName,
			})
			if errors.Is(err, store.ErrDuplicateUser) {
				return fmt.Errorf("admin %s already exists", strings.ToLower(strings.TrimSpace(email)))
			}
			if err != nil {
				return err
			}
			cmd.Printf("admin created: %s (%s)\n", user.Email, user.ID)
			cmd.Printf("tenant: %s (%s)\n", tenant.Name, tenant.ID)
			cmd.Printf("api key: %s\n", tenant.APIKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&username, "username", "", "admin username")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cmd.Flags().StringVar(&tenantName, "tenant", "admin", "tenant to create or join")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newCreateTenantCommand() *cobra.Command {
	var name, apiKey string
	cmd := &cobra.Command{
		Use:   "create-tenant",
		Short: "Create a tenant and print its API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer sqlStore.Close()

			tenant, err := sqlStore.CreateTenant(cmd.Context(), store.CreateTenantInput{Name: name, APIKey: apiKey})
			if err != nil {
				return err
			}
			cmd.Printf("tenant created: %s (%s)\n", tenant.Name, tenant.ID)
			cmd.Printf("api key: %s\n", tenant.APIKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "tenant name")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "explicit API key (generated when empty)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSeedCommand(logger *slog.Logger) *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply an agent catalog file to the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := catalog.Load(catalogPath)
			if err != nil {
				return err
			}
			sqlStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer sqlStore.Close()

			result, err := catalog.Apply(cmd.Context(), sqlStore, parsed, logger.With("component", "catalog"))
			if err != nil {
				return err
			}
			cmd.Printf("agents created: %d, updated: %d, permissions granted: %d, examples added: %d\n",
				result.Created, result.Updated, result.Granted, result.ExamplesAdded)
			if len(result.UnknownTenants) > 0 {
				cmd.Printf("unknown tenants: %s\n", strings.Join(result.UnknownTenants, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "path to the agent catalog YAML file")
	_ = cmd.MarkFlagRequired("catalog")
	return cmd
}
