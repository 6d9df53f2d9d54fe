// Command respcache-proxy is a caching HTTP proxy in front of a JSON API,
// built on the respcache store, client and orchestrator.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information, set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func versionString() string {
	return fmt.Sprintf("respcache-proxy %s (%s, %s)", version, commit[:min(7, len(commit))], runtime.Version())
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "respcache-proxy",
		Short: "Caching proxy for JSON APIs",
		Long: `Caching proxy for JSON APIs.

Responses are cached per category with the TTL and storage tier of the
category's policy. Entries close to expiry are refreshed in the
background; failed upstream requests fall back to stale entries.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newPoliciesCmd(&configPath))

	return root
}
