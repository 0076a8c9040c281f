// Package types holds the shared data model for cluster declarations,
// host endpoints, and the results that flow between the bootstrap
// pipeline's components.
package types

// ClusterSpec is the immutable configuration describing a target topology.
// It is the on-disk shape persisted by pkg/clusterstore.
type ClusterSpec struct {
	APIVersion string          `yaml:"apiVersion" json:"apiVersion"`
	Kind       string          `yaml:"kind" json:"kind"`
	Metadata   ClusterMetadata `yaml:"metadata" json:"metadata"`
	Spec       ClusterBody     `yaml:"spec" json:"spec"`
}

// ClusterMetadata names the cluster; the name also becomes the on-disk directory.
type ClusterMetadata struct {
	Name string `yaml:"name" json:"name"`
}

// ClusterBody is the server topology plus the image set to bootstrap with.
type ClusterBody struct {
	Servers []ServerGroup `yaml:"servers" json:"servers"`
	Images  []string      `yaml:"images" json:"images"`
}

// ServerGroup is a set of hosts sharing the same roles (e.g. "master", "node").
type ServerGroup struct {
	Roles []string `yaml:"roles" json:"roles"`
	IPs   []string `yaml:"ips" json:"ips"`
}

// AuthMethod is how a host endpoint authenticates. The SSH layer tries
// a key first when PrivateKeyPath is set, then falls back to Password.
type AuthMethod struct {
	PrivateKeyPath string
	PublicKeyPath  string
	Passphrase     string
	Password       string
}

// HostEndpoint is a host, port, username, and auth method. Created per
// operation; never persisted.
type HostEndpoint struct {
	Host string
	Port int
	User string
	Auth AuthMethod
}

// ReachabilityResult is the per-host output of the reachability prober (C2).
type ReachabilityResult struct {
	Host                string
	SSHAccessible       bool
	AuthMethod          string // "key", "password", or "" if unauthenticated
	HasRoot             bool
	HasPasswordlessSudo bool
	CanSudoWithPassword bool
}

// Gated reports whether the orchestrator should treat this host as a probe
// failure: not SSH-accessible, or accessible but without root.
func (r ReachabilityResult) Gated() bool {
	return !r.SSHAccessible || !r.HasRoot
}

// JoinCredential is the triplet extracted from a kubeadm join-print command.
// Each field is optional; all three must be present for later stages to proceed.
type JoinCredential struct {
	APIServer  string
	JoinToken  string
	CACertHash string
}

// Complete reports whether all three join-credential fields were parsed.
func (j JoinCredential) Complete() bool {
	return j.APIServer != "" && j.JoinToken != "" && j.CACertHash != ""
}

// HostCommandResult is one host's outcome from the remote executor (C5).
type HostCommandResult struct {
	Host    string
	Success bool
	Outputs []CommandOutput
	Err     error
}

// CommandOutput is one command's combined stdout+stderr and its exit code.
type CommandOutput struct {
	Command  string
	Output   string
	ExitCode int
}
