package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bosun",
	Short: "Bosun - declarative orchestrator for stateful services",
	Long: `Bosun deploys and operates stateful services from a declarative spec:
pod groups with stable identities, persistent volumes, readiness-gated
rolling updates, and automatic replacement of failed instances.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Bosun version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("api-addr", "127.0.0.1:8080", "Address of the bosun API")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(podCmd)
	rootCmd.AddCommand(instanceCmd)
	rootCmd.AddCommand(eventsCmd)
}
