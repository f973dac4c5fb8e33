// Package cmd implements the cardswap command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cardswap/internal/config"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cardswap",
	Short: "Proximity business card exchange hub",
	Long: "cardswap runs a websocket hub where nearby devices discover each other " +
		"and swap business cards. Without a subcommand it starts the gateway.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $CARDSWAP_CONFIG or ./config.json5)")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(qrCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	return config.ResolvePath(cfgFile)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cardswap %s\n", Version)
		},
	}
}
