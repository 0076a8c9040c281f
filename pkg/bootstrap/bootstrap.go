// Package bootstrap implements the bootstrap orchestrator (C6): the
// state machine that drives reachability checking, image extraction,
// upload, and staged remote command execution for one cluster
// declaration, ending with a kubeadm join handshake between the root
// master and the rest of the topology.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/cuemby/chess/pkg/imagecache"
	"github.com/cuemby/chess/pkg/log"
	"github.com/cuemby/chess/pkg/metrics"
	"github.com/cuemby/chess/pkg/probe"
	"github.com/cuemby/chess/pkg/remoteexec"
	"github.com/cuemby/chess/pkg/sshtransport"
	"github.com/cuemby/chess/pkg/types"
	"github.com/cuemby/chess/pkg/upload"
)

// Config carries the cross-cutting settings every stage needs: how to
// authenticate to hosts, and where image caches live locally and
// remotely.
type Config struct {
	User             string
	Auth             types.AuthMethod
	Port             int
	LocalCacheDir    string
	RemoteCacheDir   string
	ContainerdSocket string
}

const (
	defaultPort           = 22
	defaultLocalCacheDir  = "/var/tmp/chess"
	defaultRemoteCacheDir = "/tmp/.chess"
)

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.LocalCacheDir == "" {
		c.LocalCacheDir = defaultLocalCacheDir
	}
	if c.RemoteCacheDir == "" {
		c.RemoteCacheDir = defaultRemoteCacheDir
	}
	return c
}

// Run drives one cluster declaration through the full state machine.
// Every stage logs its outcome but the overall run only returns an
// error for a condition that should stop the CLI from treating the
// invocation as accepted; all the "warn and stop early" exits described
// by the state machine return nil, matching the source's "operator
// reads the logs" design.
func Run(ctx context.Context, cfg Config, cluster types.ClusterSpec) error {
	cfg = cfg.withDefaults()
	runLog := log.WithCluster(cluster.Metadata.Name)

	// 1. Validate
	allIPs := flattenIPs(cluster.Spec.Servers)
	if dup, ok := firstDuplicate(allIPs); ok {
		runLog.Warn().Str("ip", dup).Msg("duplicate address in cluster declaration, aborting run")
		return nil
	}

	hosts := make([]types.HostEndpoint, 0, len(allIPs))
	for _, ip := range allIPs {
		hosts = append(hosts, cfg.endpoint(ip))
	}

	// 2. Probe
	stageTimer := metrics.NewTimer()
	results := probe.CheckAll(hosts)
	stageTimer.ObserveDurationVec(metrics.BootstrapStageDuration, "probe")
	for _, r := range results {
		if r.Gated() {
			runLog.Warn().Str("host", r.Host).Bool("ssh_accessible", r.SSHAccessible).Bool("has_root", r.HasRoot).
				Msg("host failed reachability gate, aborting run")
			metrics.BootstrapStageTotal.WithLabelValues("probe", "gated").Inc()
			return nil
		}
	}
	metrics.BootstrapStageTotal.WithLabelValues("probe", "ok").Inc()

	// 3. Extract
	imageIDs, err := extractImages(ctx, cfg, cluster.Spec.Images)
	if err != nil {
		metrics.BootstrapStageTotal.WithLabelValues("extract", "error").Inc()
		return fmt.Errorf("extract images: %w", err)
	}
	metrics.BootstrapStageTotal.WithLabelValues("extract", "ok").Inc()

	// 4. Upload
	uploadStage(hosts, imageIDs, cfg)

	// 5. CommonInit
	commonInitStage(hosts, imageIDs)

	// 6. Topology split
	masters := flattenIPsWithRole(cluster.Spec.Servers, "master")
	workers := flattenIPsWithRole(cluster.Spec.Servers, "node")
	if len(masters) == 0 {
		runLog.Info().Msg("no master group present, ending after common init")
		return nil
	}

	root := masters[0]
	plane := masters[1:]

	// 7. RootInit
	cred := rootInitStage(ctx, cfg, root, imageIDs)

	// 8. MasterInit / WorkerInit
	if !cred.Complete() {
		runLog.Warn().Msg("join credential incomplete, skipping master/worker init")
		return nil
	}

	if len(plane) > 0 {
		roleInitStage(cfg, plane, imageIDs, "master", cred, "master_init")
	}
	if len(workers) > 0 {
		roleInitStage(cfg, workers, imageIDs, "node", cred, "worker_init")
	}

	runLog.Info().Msg("bootstrap run complete")
	return nil
}

func (c Config) endpoint(ip string) types.HostEndpoint {
	user := c.User
	if user == "" {
		user = "root"
	}
	return types.HostEndpoint{Host: ip, Port: c.Port, User: user, Auth: c.Auth}
}

func extractImages(ctx context.Context, cfg Config, images []string) ([]string, error) {
	cache, err := imagecache.New(cfg.ContainerdSocket, cfg.LocalCacheDir)
	if err != nil {
		return nil, err
	}
	defer cache.Close()
	return cache.ExtractAll(ctx, images)
}

func uploadStage(hosts []types.HostEndpoint, imageIDs []string, cfg Config) {
	timer := metrics.NewTimer()
	pairs := make([]upload.Pair, 0, len(hosts)*len(imageIDs))
	for _, h := range hosts {
		for _, id := range imageIDs {
			pairs = append(pairs, upload.Pair{Host: h, ImageID: id})
		}
	}
	results := upload.UploadAll(pairs, cfg.LocalCacheDir, cfg.RemoteCacheDir)
	timer.ObserveDurationVec(metrics.BootstrapStageDuration, "upload")

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	label := "ok"
	if failed > 0 {
		label = "partial"
	}
	metrics.BootstrapStageTotal.WithLabelValues("upload", label).Inc()
}

// commonInitStage runs the extract-stage commands on every host. A
// non-zero exit on some hosts does not stop later stages: operators
// retry idempotently.
func commonInitStage(hosts []types.HostEndpoint, imageIDs []string) {
	timer := metrics.NewTimer()
	commands := remoteexec.BuildTarExtractCommands(imageIDs)
	_, allSuccess := remoteexec.RunOnHosts(hosts, commands, false)
	timer.ObserveDurationVec(metrics.BootstrapStageDuration, "common_init")

	label := "ok"
	if !allSuccess {
		label = "partial"
	}
	metrics.BootstrapStageTotal.WithLabelValues("common_init", label).Inc()
}

func rootInitStage(ctx context.Context, cfg Config, root string, imageIDs []string) types.JoinCredential {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.BootstrapStageDuration, "root_init")

	rootHost := cfg.endpoint(root)
	commands := remoteexec.BuildNodeInitCommands(map[string]string{"NODE_ROLE": "root"}, imageIDs)
	remoteexec.RunOnHosts([]types.HostEndpoint{rootHost}, commands, true)

	client, err := sshtransport.Connect(ctx, rootHost)
	if err != nil {
		log.WithHost(root).Warn().Err(err).Msg("failed to connect to root for join-info extraction")
		metrics.BootstrapStageTotal.WithLabelValues("root_init", "error").Inc()
		return types.JoinCredential{}
	}
	defer client.Close()

	cred, err := client.GetJoinInfo()
	if err != nil {
		log.WithHost(root).Warn().Err(err).Msg("failed to extract join credential")
		metrics.BootstrapStageTotal.WithLabelValues("root_init", "error").Inc()
		return types.JoinCredential{}
	}

	metrics.BootstrapStageTotal.WithLabelValues("root_init", "ok").Inc()
	return cred
}

func roleInitStage(cfg Config, ips []string, imageIDs []string, role string, cred types.JoinCredential, stage string) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.BootstrapStageDuration, stage)

	hosts := make([]types.HostEndpoint, 0, len(ips))
	for _, ip := range ips {
		hosts = append(hosts, cfg.endpoint(ip))
	}

	env := map[string]string{
		"NODE_ROLE":         role,
		"KUBE_API_SERVER":   cred.APIServer,
		"KUBE_JOIN_TOKEN":   cred.JoinToken,
		"KUBE_CA_CERT_HASH": cred.CACertHash,
	}
	commands := remoteexec.BuildNodeInitCommands(env, imageIDs)
	_, allSuccess := remoteexec.RunOnHosts(hosts, commands, true)

	label := "ok"
	if !allSuccess {
		label = "partial"
	}
	metrics.BootstrapStageTotal.WithLabelValues(stage, label).Inc()
}

func flattenIPs(groups []types.ServerGroup) []string {
	var ips []string
	for _, g := range groups {
		ips = append(ips, g.IPs...)
	}
	return ips
}

func flattenIPsWithRole(groups []types.ServerGroup, role string) []string {
	var ips []string
	for _, g := range groups {
		if hasRole(g.Roles, role) {
			ips = append(ips, g.IPs...)
		}
	}
	return ips
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
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
