package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List stored clusters, marking the active one",
	RunE:  runPs,
}

func runPs(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	names, err := store.ListNames()
	if err != nil {
		return err
	}

	active, err := store.Active()
	if err != nil {
		return err
	}

	fmt.Printf("%-8s%s\n", "CURRENT", "CLUSTERNAME")
	for _, name := range names {
		marker := ""
		if name == active {
			marker = "*"
		}
		fmt.Printf("%-8s%s\n", marker, name)
	}
	return nil
}
