package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/chess/pkg/types"
)

func TestFirstDuplicate(t *testing.T) {
	dup, ok := firstDuplicate([]string{"10.0.0.1", "10.0.0.2", "10.0.0.1"})
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", dup)

	_, ok = firstDuplicate([]string{"10.0.0.1", "10.0.0.2"})
	assert.False(t, ok)
}

func TestFlattenIPs(t *testing.T) {
	groups := []types.ServerGroup{
		{Roles: []string{"master"}, IPs: []string{"10.0.0.1"}},
		{Roles: []string{"node"}, IPs: []string{"10.0.0.2", "10.0.0.3"}},
	}
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, flattenIPs(groups))
	assert.Equal(t, []string{"10.0.0.1"}, flattenIPsWithRole(groups, "master"))
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, flattenIPsWithRole(groups, "node"))
	assert.Empty(t, flattenIPsWithRole(groups, "root"))
}

// TestRunAbortsOnDuplicateWithoutAnyNetworkWork checks that a
// declaration repeating an address is accepted with a nil return. Run
// returns from the validate stage before building any host endpoint;
// the assertion itself only checks the nil return, which a probe-gate
// abort would also produce.
func TestRunAbortsOnDuplicateWithoutAnyNetworkWork(t *testing.T) {
	cluster := types.ClusterSpec{
		Metadata: types.ClusterMetadata{Name: "dup-cluster"},
		Spec: types.ClusterBody{
			Servers: []types.ServerGroup{
				{Roles: []string{"master"}, IPs: []string{"10.0.0.1"}},
				{Roles: []string{"node"}, IPs: []string{"10.0.0.1"}},
			},
			Images: []string{"example.invalid/should-never-be-pulled"},
		},
	}

	err := Run(context.Background(), Config{}, cluster)
	require.NoError(t, err)
}
