package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var useCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the active cluster",
	Args:  cobra.ExactArgs(1),
	RunE:  runUse,
}

func runUse(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	name := args[0]
	if err := store.Use(name); err != nil {
		return fmt.Errorf("set active cluster: %w", err)
	}

	fmt.Printf("Switched to cluster %q.\n", name)
	return nil
}
