package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/chess/pkg/clusterstore"
	"github.com/cuemby/chess/pkg/types"
)

// chessConfigRoot returns ~/.chess, resolved against $HOME, matching
// spec §6's "HOME — ... for ~/.chess config root".
func chessConfigRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", fmt.Errorf("resolve HOME for cluster config root: %w", err)
	}
	return filepath.Join(home, ".chess"), nil
}

func openStore() (*clusterstore.Store, error) {
	root, err := chessConfigRoot()
	if err != nil {
		return nil, err
	}
	return clusterstore.New(root)
}

// defaultKeyAuth builds an AuthMethod from ~/.ssh/id_rsa{,.pub}, the
// fallback identity spec §6 describes for every host endpoint the CLI
// builds, when no explicit password is supplied.
func defaultKeyAuth(password string) types.AuthMethod {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return types.AuthMethod{Password: password}
	}
	return types.AuthMethod{
		PrivateKeyPath: filepath.Join(home, ".ssh", "id_rsa"),
		PublicKeyPath:  filepath.Join(home, ".ssh", "id_rsa.pub"),
		Password:       password,
	}
}

// splitCSV splits a comma-separated flag value into trimmed,
// non-empty entries.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// activeClusterName resolves the cluster a command should act against:
// an explicit --cluster flag wins, then $CLUSTER_NAME, then the store's
// active pointer.
func activeClusterName(store *clusterstore.Store, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if envName := os.Getenv("CLUSTER_NAME"); envName != "" {
		return envName, nil
	}
	return store.Active()
}
