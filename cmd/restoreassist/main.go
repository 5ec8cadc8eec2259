// Command restoreassist runs the RestoreAssist API server and its
// operational tasks.
//
//	# Generate a token encryption key
//	export TOKEN_ENCRYPTION_KEY=$(restoreassist keygen)
//
//	# Apply schema migrations
//	restoreassist migrate up
//
//	# Bootstrap an organization and an API key for its owner
//	restoreassist org create --name "Acme Restoration" --owner user-1
//	restoreassist apikey create --org <id> --user user-1 --name bootstrap --scopes '*'
//
//	# Serve the API
//	restoreassist serve
//
// Configuration is read from the environment. A .env file in the working
// directory, or the file named by --env-file, is loaded first.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	envFile string
	log     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:           "restoreassist",
	Short:         "RestoreAssist API server and operational commands",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
			return nil
		}
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
		return nil
	},
}

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
