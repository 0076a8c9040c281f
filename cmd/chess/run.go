package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/chess/pkg/bootstrap"
	"github.com/cuemby/chess/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run <images...>",
	Short: "Bootstrap a cluster over SSH from a master/node address list and a set of images",
	Long: `run drives the full bootstrap pipeline: it probes every host for SSH
and root access, extracts the given images into the local cache, uploads
them to every host, runs the common init commands, then runs the
root/master/worker kubeadm init stages in order. The declaration is
persisted to the cluster store once the run completes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("master", "", "comma-separated master node addresses")
	runCmd.Flags().String("node", "", "comma-separated worker node addresses")
	runCmd.Flags().String("cluster", "", "cluster name to run/persist (default: active cluster)")
	runCmd.Flags().String("user", "root", "SSH username to connect as")
	runCmd.Flags().Int("port", 22, "SSH port")
	runCmd.Flags().String("password", "", "SSH password (key auth from ~/.ssh/id_rsa is tried first)")
	runCmd.Flags().String("containerd-socket", "", "containerd socket path (default: runtime's own default)")
}

func runRun(cmd *cobra.Command, args []string) error {
	masterCSV, _ := cmd.Flags().GetString("master")
	nodeCSV, _ := cmd.Flags().GetString("node")
	clusterFlag, _ := cmd.Flags().GetString("cluster")
	user, _ := cmd.Flags().GetString("user")
	port, _ := cmd.Flags().GetInt("port")
	password, _ := cmd.Flags().GetString("password")
	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")

	masters := splitCSV(masterCSV)
	nodes := splitCSV(nodeCSV)

	allIPs := append(append([]string{}, masters...), nodes...)
	if dup, ok := firstDuplicate(allIPs); ok {
		fmt.Printf("Duplicate IP address found: %s\n", dup)
		return nil
	}

	store, err := openStore()
	if err != nil {
		return err
	}

	clusterName, err := activeClusterName(store, clusterFlag)
	if err != nil {
		return err
	}

	var servers []types.ServerGroup
	if len(masters) > 0 {
		servers = append(servers, types.ServerGroup{Roles: []string{"master"}, IPs: masters})
	}
	if len(nodes) > 0 {
		servers = append(servers, types.ServerGroup{Roles: []string{"node"}, IPs: nodes})
	}

	cluster := types.ClusterSpec{
		APIVersion: "chess/v1",
		Kind:       "Cluster",
		Metadata:   types.ClusterMetadata{Name: clusterName},
		Spec: types.ClusterBody{
			Servers: servers,
			Images:  args,
		},
	}

	cfg := bootstrap.Config{
		User:             user,
		Port:             port,
		Auth:             defaultKeyAuth(password),
		ContainerdSocket: containerdSocket,
	}

	if err := bootstrap.Run(cmd.Context(), cfg, cluster); err != nil {
		return fmt.Errorf("run cluster %s: %w", clusterName, err)
	}

	if err := store.SaveWithBackup(cluster); err != nil {
		return fmt.Errorf("persist cluster %s: %w", clusterName, err)
	}

	fmt.Printf("Cluster %q bootstrap complete.\n", clusterName)
	return nil
}

func firstDuplicate(items []string) (string, bool) {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			return item, true
		}
		seen[item] = struct{}{}
	}
	return "", false
}
