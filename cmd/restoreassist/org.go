package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/restoreassist/pkg/config"
	"github.com/platinummonkey/restoreassist/pkg/orgs"
	"github.com/platinummonkey/restoreassist/pkg/storage/postgres"
)

var orgFlags struct {
	name  string
	slug  string
	owner string
}

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Manage organizations",
}

var orgCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an organization with an owner",
	Long: `Create an organization whose owner is the given user. Use this to
bootstrap the first organization before any API key exists.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cfg := config.Load()
		db, err := postgres.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer db.Close()

		org, err := orgs.NewPostgresService(db).CreateOrganization(ctx, orgs.CreateOrgRequest{
			Name: orgFlags.name,
			Slug: orgFlags.slug,
		}, orgFlags.owner)
		if err != nil {
			return err
		}

		log.WithField("slug", org.Slug).Info("organization created")
		fmt.Fprintln(cmd.OutOrStdout(), org.ID)
		return nil
	},
}

func init() {
	f := orgCreateCmd.Flags()
	f.StringVar(&orgFlags.name, "name", "", "organization name")
	f.StringVar(&orgFlags.slug, "slug", "", "URL slug, derived from the name when empty")
	f.StringVar(&orgFlags.owner, "owner", "", "user id of the owner")
	_ = orgCreateCmd.MarkFlagRequired("name")
	_ = orgCreateCmd.MarkFlagRequired("owner")

	orgCmd.AddCommand(orgCreateCmd)
	rootCmd.AddCommand(orgCmd)
}
