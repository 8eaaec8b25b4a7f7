package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rentpeek/rentpeek/internal/paywall"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "rentpeek",
	Short:   "Rentpeek paywall - paid access to protected property details",
	Long:    `Rentpeek paywall reconciles checkout requests and payment provider webhooks into durable entitlement records.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return paywall.Run(context.Background(), Version)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Rentpeek %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
