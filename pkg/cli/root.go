// Package cli implements the mockhive command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "mockhive",
	Short: "mockhive manages programmable multi-instance HTTP mock servers",
	Long: `mockhive runs a control plane that creates and tears down independent
mock HTTP(S) endpoints at runtime. Each instance serves configured
expectations or relays traffic upstream with OAuth2 credential
injection.

Startup configuration is a jsonmc document (JSON with comments,
backtick multiline strings, and @{ENV} references).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("mockhive %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
