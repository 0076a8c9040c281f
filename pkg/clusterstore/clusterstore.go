// Package clusterstore implements the cluster store (C7): a YAML file
// per cluster declaration under a config root, an active-cluster
// pointer file, and drift-detection backups on save.
package clusterstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/chess/pkg/log"
	"github.com/cuemby/chess/pkg/types"
)

const (
	defaultClusterName = "default"
	activeFileName     = ".active"
	clusterFileName    = "cluster.yaml"
	historyDirName     = ".history"
)

// Store is a YAML-backed cluster declaration store rooted at one
// config directory (typically ~/.chess).
type Store struct {
	configRoot string
}

// New returns a Store rooted at configRoot, creating it if absent.
func New(configRoot string) (*Store, error) {
	if err := os.MkdirAll(configRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create config root %s: %w", configRoot, err)
	}
	return &Store{configRoot: configRoot}, nil
}

// ListNames returns the names of direct subdirectories of the config
// root, each one a stored cluster.
func (s *Store) ListNames() ([]string, error) {
	entries, err := os.ReadDir(s.configRoot)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Active returns the contents of the active-cluster pointer file,
// creating it with the default cluster name if it is missing or empty.
func (s *Store) Active() (string, error) {
	path := filepath.Join(s.configRoot, activeFileName)

	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read active pointer: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultClusterName), 0o644); err != nil {
			return "", fmt.Errorf("write active pointer: %w", err)
		}
		return defaultClusterName, nil
	}

	name := strings.TrimSpace(string(content))
	if name == "" {
		if err := os.WriteFile(path, []byte(defaultClusterName), 0o644); err != nil {
			return "", fmt.Errorf("write active pointer: %w", err)
		}
		return defaultClusterName, nil
	}

	return name, nil
}

// Use writes name to the active-cluster pointer file. It performs no
// existence check against the stored cluster names — an operator may
// point at a cluster that does not exist yet, matching the source's
// behavior of logging (not rejecting) a switch to an unknown name.
func (s *Store) Use(name string) error {
	if valid, err := s.ListNames(); err == nil && !containsString(valid, name) {
		log.WithComponent("clusterstore").Info().Str("name", name).Msg("cluster does not exist yet")
	}
	path := filepath.Join(s.configRoot, activeFileName)
	return os.WriteFile(path, []byte(name), 0o644)
}

// Load reads and parses the declaration for name.
func (s *Store) Load(name string) (types.ClusterSpec, error) {
	var cluster types.ClusterSpec
	data, err := os.ReadFile(s.clusterPath(name))
	if err != nil {
		return cluster, fmt.Errorf("read cluster %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, &cluster); err != nil {
		return cluster, fmt.Errorf("parse cluster %s: %w", name, err)
	}
	return cluster, nil
}

// Save writes cluster to its on-disk path unconditionally, with no
// drift detection or backup.
func (s *Store) Save(cluster types.ClusterSpec) error {
	path := s.clusterPath(cluster.Metadata.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cluster dir: %w", err)
	}

	data, err := yaml.Marshal(cluster)
	if err != nil {
		return fmt.Errorf("marshal cluster %s: %w", cluster.Metadata.Name, err)
	}

	return os.WriteFile(path, data, 0o644)
}

// SaveWithBackup loads the existing declaration for the same name (if
// any) and compares it against cluster using structural equality that
// ignores the order of ips/roles within a group but not the order of
// the group list itself. On drift, it copies the current on-disk file
// to .history/cluster.yaml.<unix-seconds> before overwriting.
func (s *Store) SaveWithBackup(cluster types.ClusterSpec) error {
	path := s.clusterPath(cluster.Metadata.Name)

	existing, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read existing cluster: %w", err)
		}
		return s.Save(cluster)
	}

	var previous types.ClusterSpec
	if err := yaml.Unmarshal(existing, &previous); err != nil {
		return fmt.Errorf("parse existing cluster %s: %w", cluster.Metadata.Name, err)
	}

	if !equalClusters(previous, cluster) {
		historyDir := filepath.Join(filepath.Dir(path), historyDirName)
		if err := os.MkdirAll(historyDir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
		backupPath := filepath.Join(historyDir, fmt.Sprintf("%s.%d", clusterFileName, time.Now().Unix()))
		if err := os.WriteFile(backupPath, existing, 0o644); err != nil {
			return fmt.Errorf("write backup %s: %w", backupPath, err)
		}
		log.WithComponent("clusterstore").Info().Str("name", cluster.Metadata.Name).Str("backup", backupPath).
			Msg("cluster declaration drifted, backed up previous version")
	}

	return s.Save(cluster)
}

// AddHost appends a server group to the named cluster and saves it.
func (s *Store) AddHost(name string, group types.ServerGroup) error {
	cluster, err := s.Load(name)
	if err != nil {
		return err
	}
	cluster.Spec.Servers = append(cluster.Spec.Servers, group)
	return s.Save(cluster)
}

// RemoveHost drops every server group containing ip from the named
// cluster and saves it.
func (s *Store) RemoveHost(name, ip string) error {
	cluster, err := s.Load(name)
	if err != nil {
		return err
	}

	kept := cluster.Spec.Servers[:0]
	for _, g := range cluster.Spec.Servers {
		if !containsString(g.IPs, ip) {
			kept = append(kept, g)
		}
	}
	cluster.Spec.Servers = kept

	return s.Save(cluster)
}

func (s *Store) clusterPath(name string) string {
	return filepath.Join(s.configRoot, name, clusterFileName)
}

func equalClusters(a, b types.ClusterSpec) bool {
	if a.APIVersion != b.APIVersion || a.Kind != b.Kind || a.Metadata.Name != b.Metadata.Name {
		return false
	}
	if !equalStringSlices(a.Spec.Images, b.Spec.Images) {
		return false
	}
	if len(a.Spec.Servers) != len(b.Spec.Servers) {
		return false
	}
	for i := range a.Spec.Servers {
		if !equalSet(a.Spec.Servers[i].Roles, b.Spec.Servers[i].Roles) {
			return false
		}
		if !equalSet(a.Spec.Servers[i].IPs, b.Spec.Servers[i].IPs) {
			return false
		}
	}
	return true
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sortedA := append([]string(nil), a...)
	sortedB := append([]string(nil), b...)
	sort.Strings(sortedA)
	sort.Strings(sortedB)
	return equalStringSlices(sortedA, sortedB)
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
