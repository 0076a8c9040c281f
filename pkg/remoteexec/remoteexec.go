// Package remoteexec implements the remote command executor (C5): run
// an ordered list of shell commands on a set of hosts, bounded to 10
// in-flight host sessions at a time, and aggregate a per-host success
// flag plus combined output.
package remoteexec

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/chess/pkg/log"
	"github.com/cuemby/chess/pkg/metrics"
	"github.com/cuemby/chess/pkg/sshtransport"
	"github.com/cuemby/chess/pkg/types"
)

// maxInFlight bounds concurrent host sessions, mirroring the source's
// buffer_unordered(10).
const maxInFlight = 10

// cacheRoot is where uploaded image archives land on the remote host,
// matching pkg/upload's remote base.
const cacheRoot = "/tmp/.chess"

// RunOnHosts runs commands sequentially through a single SSH connection
// per host, fanning out across hosts with at most maxInFlight
// concurrent connections. A command's non-zero exit marks its host
// failed but does not stop later commands on that host. The boolean
// return is the AND over every host's success.
func RunOnHosts(hosts []types.HostEndpoint, commands []string, verbose bool) ([]types.HostCommandResult, bool) {
	results := make([]types.HostCommandResult, len(hosts))
	sem := make(chan struct{}, maxInFlight)
	var wg sync.WaitGroup

	for i, host := range hosts {
		wg.Add(1)
		go func(idx int, h types.HostEndpoint) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = runOneHost(h, commands, verbose)
		}(i, host)
	}

	wg.Wait()

	allSuccess := true
	for _, r := range results {
		if !r.Success {
			allSuccess = false
		}
	}
	return results, allSuccess
}

func runOneHost(host types.HostEndpoint, commands []string, verbose bool) types.HostCommandResult {
	hostLog := log.WithHost(host.Host)
	hostLog.Info().Msg("starting commands on host")
	timer := metrics.NewTimer()

	client, err := sshtransport.Connect(context.Background(), host)
	if err != nil {
		timer.ObserveDuration(metrics.RemoteExecDuration)
		metrics.RemoteExecTotal.WithLabelValues("error").Inc()
		return types.HostCommandResult{Host: host.Host, Success: false, Err: err}
	}
	defer client.Close()

	outputs, err := client.ExecStream(commands, verbose)
	timer.ObserveDuration(metrics.RemoteExecDuration)

	success := err == nil
	for _, out := range outputs {
		if out.ExitCode != 0 {
			success = false
			hostLog.Warn().Str("command", out.Command).Int("exit_code", out.ExitCode).Msg("command failed")
		} else {
			hostLog.Debug().Str("command", out.Command).Msg("command succeeded")
		}
	}

	label := "ok"
	if !success {
		label = "error"
	}
	metrics.RemoteExecTotal.WithLabelValues(label).Inc()

	hostLog.Info().Bool("success", success).Msg("finished commands on host")
	return types.HostCommandResult{Host: host.Host, Success: success, Outputs: outputs, Err: err}
}

// BuildTarExtractCommands returns, for each image ID, a command that
// extracts any *.gz package found under <cacheRoot>/<id>/ to the
// filesystem root, a no-op when the package is absent.
func BuildTarExtractCommands(imageIDs []string) []string {
	commands := make([]string, 0, len(imageIDs))
	for _, id := range imageIDs {
		source := fmt.Sprintf("%s/%s/*.gz", cacheRoot, id)
		commands = append(commands, fmt.Sprintf(
			"if ls %s 1>/dev/null 2>&1; then tar -zxvf %s -C /; fi", source, source))
	}
	return commands
}

// BuildNodeInitCommands returns, for each image ID, a command that
// runs that image's run.sh with the given environment variables
// prefixed inline.
func BuildNodeInitCommands(env map[string]string, imageIDs []string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, env[k]))
	}
	envPart := ""
	if len(parts) > 0 {
		envPart = strings.Join(parts, " ") + " "
	}

	commands := make([]string, 0, len(imageIDs))
	for _, id := range imageIDs {
		commands = append(commands, fmt.Sprintf("%sbash %s/%s/run.sh", envPart, cacheRoot, id))
	}
	return commands
}
