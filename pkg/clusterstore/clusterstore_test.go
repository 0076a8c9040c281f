package clusterstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/chess/pkg/types"
)

func sampleCluster(name string) types.ClusterSpec {
	return types.ClusterSpec{
		APIVersion: "chess/v1",
		Kind:       "Cluster",
		Metadata:   types.ClusterMetadata{Name: name},
		Spec: types.ClusterBody{
			Servers: []types.ServerGroup{
				{Roles: []string{"master"}, IPs: []string{"10.0.0.1"}},
				{Roles: []string{"node"}, IPs: []string{"10.0.0.2", "10.0.0.3"}},
			},
			Images: []string{"example.com/app:latest"},
		},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	cluster := sampleCluster("prod")
	require.NoError(t, store.Save(cluster))

	loaded, err := store.Load("prod")
	require.NoError(t, err)
	assert.Equal(t, cluster, loaded)
}

func TestActiveDefaultsAndPersists(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	name, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "default", name)

	require.NoError(t, store.Use("prod"))
	name, err = store.Active()
	require.NoError(t, err)
	assert.Equal(t, "prod", name)
}

func TestUseDoesNotValidateExistence(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Use("does-not-exist"))
	name, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "does-not-exist", name)
}

func TestListNames(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleCluster("alpha")))
	require.NoError(t, store.Save(sampleCluster("beta")))

	names, err := store.ListNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestSaveWithBackupNoDriftWritesNoHistory(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	cluster := sampleCluster("prod")
	require.NoError(t, store.Save(cluster))

	// Reorder ips within a group only — should not count as drift.
	reordered := sampleCluster("prod")
	reordered.Spec.Servers[1].IPs = []string{"10.0.0.3", "10.0.0.2"}

	require.NoError(t, store.SaveWithBackup(reordered))

	historyDir := filepath.Join(root, "prod", ".history")
	_, err = os.Stat(historyDir)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveWithBackupDriftWritesHistory(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	cluster := sampleCluster("prod")
	require.NoError(t, store.Save(cluster))

	changed := sampleCluster("prod")
	changed.Spec.Images = append(changed.Spec.Images, "example.com/extra:latest")

	require.NoError(t, store.SaveWithBackup(changed))

	historyDir := filepath.Join(root, "prod", ".history")
	entries, err := os.ReadDir(historyDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	reloaded, err := store.Load("prod")
	require.NoError(t, err)
	assert.Equal(t, changed, reloaded)
}

func TestAddAndRemoveHost(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleCluster("prod")))

	require.NoError(t, store.AddHost("prod", types.ServerGroup{Roles: []string{"node"}, IPs: []string{"10.0.0.4"}}))
	cluster, err := store.Load("prod")
	require.NoError(t, err)
	assert.Len(t, cluster.Spec.Servers, 3)

	require.NoError(t, store.RemoveHost("prod", "10.0.0.1"))
	cluster, err = store.Load("prod")
	require.NoError(t, err)
	for _, g := range cluster.Spec.Servers {
		assert.NotContains(t, g.IPs, "10.0.0.1")
	}
}
