// Package commands implements the CLI commands for dtnadmin.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dtnd/internal/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configPath string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dtnadmin",
	Short: "dtnadmin - Bundle daemon administration",
	Long: `dtnadmin manages a dtnd node's declarative configuration and inspects
its persistent state: links, routes, registrations, and the bundle store.

Changes made against the configuration file take effect on the next
daemon start (or on the sections the daemon hot-reloads).

Use "dtnadmin [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the dtnd config file")

	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(registrationCmd)
	rootCmd.AddCommand(sdnvCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// savePath resolves where mutations are written back: the --config flag
// when given, the default location otherwise.
func savePath() string {
	if configPath != "" {
		return configPath
	}
	return config.GetDefaultConfigPath()
}
