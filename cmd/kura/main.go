package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:           "kura",
		Short:         "Run and drive managed caches",
		Long:          `kura hosts file caches over a content store, purges them when watched content changes and exposes health and purge endpoints.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Activate the configured services and serve HTTP",
		RunE:  runServe,
	}
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Activate the configured services once and print their health",
		RunE:  runCheck,
	}
	cachesCmd = &cobra.Command{
		Use:   "caches",
		Short: "List caches on a running host",
		Args:  cobra.NoArgs,
		RunE:  runCaches,
	}
	purgeCmd = &cobra.Command{
		Use:   "purge [cache]",
		Short: "Purge a cache on a running host",
		Args:  cobra.ExactArgs(1),
		RunE:  runCacheAction("purge"),
	}
	enableCmd = &cobra.Command{
		Use:   "enable [cache]",
		Short: "Purge and enable a cache on a running host",
		Args:  cobra.ExactArgs(1),
		RunE:  runCacheAction("enable"),
	}
	disableCmd = &cobra.Command{
		Use:   "disable [cache]",
		Short: "Purge and disable a cache on a running host",
		Args:  cobra.ExactArgs(1),
		RunE:  runCacheAction("disable"),
	}

	serverURL string
	actor     string
)

func init() {
	for _, cmd := range []*cobra.Command{cachesCmd, purgeCmd, enableCmd, disableCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the kura host")
	}
	for _, cmd := range []*cobra.Command{purgeCmd, enableCmd, disableCmd} {
		cmd.Flags().StringVar(&actor, "actor", currentUser(), "identity recorded as the purger")
	}
	rootCmd.AddCommand(serveCmd, checkCmd, cachesCmd, purgeCmd, enableCmd, disableCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kura:", err)
		os.Exit(1)
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "anonymous"
}
