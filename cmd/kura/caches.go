package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/52poke/kura/internal/cache"
	"github.com/52poke/kura/internal/client"
)

func runCaches(cmd *cobra.Command, _ []string) error {
	list, err := client.NewClient(serverURL).Caches(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, list)
}

func runCacheAction(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c := client.NewClient(serverURL)
		var (
			st  cache.Status
			err error
		)
		switch action {
		case "purge":
			st, err = c.Purge(cmd.Context(), args[0], actor)
		case "enable":
			st, err = c.Enable(cmd.Context(), args[0], actor)
		case "disable":
			st, err = c.Disable(cmd.Context(), args[0], actor)
		default:
			return fmt.Errorf("unknown action %s", action)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
