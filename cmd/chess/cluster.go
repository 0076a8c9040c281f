package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/chess/pkg/types"
)

// clusterCmd groups the stored-declaration mutation helpers the
// distillation dropped but the original shipped (SPEC_FULL.md §12:
// add_host/remove_host).
var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Mutate a stored cluster declaration's server groups",
}

var clusterAddHostCmd = &cobra.Command{
	Use:   "add-host <ip>",
	Short: "Add a host to a cluster's server groups",
	Args:  cobra.ExactArgs(1),
	RunE:  runClusterAddHost,
}

var clusterRemoveHostCmd = &cobra.Command{
	Use:   "remove-host <ip>",
	Short: "Remove a host from a cluster's server groups",
	Args:  cobra.ExactArgs(1),
	RunE:  runClusterRemoveHost,
}

func init() {
	clusterAddHostCmd.Flags().String("cluster", "", "cluster name (default: active cluster)")
	clusterAddHostCmd.Flags().StringSlice("role", []string{"node"}, "roles for the new host's server group")

	clusterRemoveHostCmd.Flags().String("cluster", "", "cluster name (default: active cluster)")

	clusterCmd.AddCommand(clusterAddHostCmd)
	clusterCmd.AddCommand(clusterRemoveHostCmd)
}

func runClusterAddHost(cmd *cobra.Command, args []string) error {
	clusterFlag, _ := cmd.Flags().GetString("cluster")
	roles, _ := cmd.Flags().GetStringSlice("role")

	store, err := openStore()
	if err != nil {
		return err
	}
	clusterName, err := activeClusterName(store, clusterFlag)
	if err != nil {
		return err
	}

	group := types.ServerGroup{Roles: roles, IPs: []string{args[0]}}
	if err := store.AddHost(clusterName, group); err != nil {
		return fmt.Errorf("add host to cluster %s: %w", clusterName, err)
	}

	fmt.Printf("Added %s to cluster %q with roles %v.\n", args[0], clusterName, roles)
	return nil
}

func runClusterRemoveHost(cmd *cobra.Command, args []string) error {
	clusterFlag, _ := cmd.Flags().GetString("cluster")

	store, err := openStore()
	if err != nil {
		return err
	}
	clusterName, err := activeClusterName(store, clusterFlag)
	if err != nil {
		return err
	}

	if err := store.RemoveHost(clusterName, args[0]); err != nil {
		return fmt.Errorf("remove host from cluster %s: %w", clusterName, err)
	}

	fmt.Printf("Removed %s from cluster %q.\n", args[0], clusterName)
	return nil
}
