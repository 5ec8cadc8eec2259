package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/restoreassist/pkg/auth"
	"github.com/platinummonkey/restoreassist/pkg/config"
	"github.com/platinummonkey/restoreassist/pkg/storage/postgres"
)

var apikeyFlags struct {
	org       string
	user      string
	name      string
	scopes    string
	expiresIn time.Duration
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key and print it once",
	Long: `Create an API key for a user of an organization. The plaintext key is
printed to stdout and cannot be recovered later.

  restoreassist apikey create --org <id> --user user-1 --name ci --scopes files:read,files:write`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, err := uuid.Parse(apikeyFlags.org)
		if err != nil {
			return fmt.Errorf("--org must be an organization id: %w", err)
		}
		scopes, err := parseScopes(apikeyFlags.scopes)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cfg := config.Load()
		db, err := postgres.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer db.Close()

		created, err := auth.NewAPIKeyService(db).Create(ctx, auth.CreateKeyRequest{
			OrganizationID: orgID,
			UserID:         apikeyFlags.user,
			Name:           apikeyFlags.name,
			Scopes:         scopes,
			ExpiresIn:      apikeyFlags.expiresIn,
		})
		if err != nil {
			return err
		}

		log.WithField("key_id", created.APIKey.ID).
			WithField("prefix", created.APIKey.KeyPrefix).
			Info("API key created")
		fmt.Fprintln(cmd.OutOrStdout(), created.Key)
		return nil
	},
}

func init() {
	f := apikeyCreateCmd.Flags()
	f.StringVar(&apikeyFlags.org, "org", "", "organization id")
	f.StringVar(&apikeyFlags.user, "user", "", "user the key acts as")
	f.StringVar(&apikeyFlags.name, "name", "", "key name")
	f.StringVar(&apikeyFlags.scopes, "scopes", "*", "comma separated scopes")
	f.DurationVar(&apikeyFlags.expiresIn, "expires-in", 0, "key lifetime, 0 for no expiry")
	_ = apikeyCreateCmd.MarkFlagRequired("org")
	_ = apikeyCreateCmd.MarkFlagRequired("user")
	_ = apikeyCreateCmd.MarkFlagRequired("name")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func parseScopes(raw string) ([]auth.Scope, error) {
	var scopes []auth.Scope
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		scope := auth.Scope(part)
		if !auth.IsValidScope(scope) {
			return nil, fmt.Errorf("unknown scope %q", part)
		}
		scopes = append(scopes, scope)
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	return scopes, nil
}
