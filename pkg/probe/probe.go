// Package probe implements the reachability gate (C2): a bounded-concurrency
// fan-out of SSH connect + auth + root/sudo checks across a host list, each
// under its own 5-second deadline.
package probe

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cuemby/chess/pkg/log"
	"github.com/cuemby/chess/pkg/metrics"
	"github.com/cuemby/chess/pkg/types"
)

const (
	connectTimeout   = 3 * time.Second
	handshakeTimeout = 3 * time.Second
	overallDeadline  = 5 * time.Second

	// defaultConcurrency bounds the OS-thread worker pool used for the
	// blocking SSH handshakes, mirroring the source's rayon thread pool.
	defaultConcurrency = 16
)

const passwordlessSudoProbe = `
if sudo -n true 2>/dev/null; then
    exit 0
fi
if sudo -l 2>/dev/null | grep -q '(ALL) NOPASSWD: ALL'; then
    exit 0
fi
exit 1
`

// CheckAll probes every host in parallel and returns results in input order.
func CheckAll(hosts []types.HostEndpoint) []types.ReachabilityResult {
	results := make([]types.ReachabilityResult, len(hosts))

	sem := make(chan struct{}, defaultConcurrency)
	var wg sync.WaitGroup

	for i, host := range hosts {
		wg.Add(1)
		go func(idx int, h types.HostEndpoint) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			timer := metrics.NewTimer()
			result := checkOneWithDeadline(h)
			timer.ObserveDuration(metrics.ProbeDuration)

			label := "unreachable"
			switch {
			case result.Gated():
				label = "gated"
			default:
				label = "ok"
			}
			metrics.ProbeTotal.WithLabelValues(label).Inc()

			results[idx] = result
		}(i, host)
	}

	wg.Wait()
	return results
}

func checkOneWithDeadline(host types.HostEndpoint) types.ReachabilityResult {
	done := make(chan types.ReachabilityResult, 1)
	go func() {
		done <- checkOne(host)
	}()

	select {
	case result := <-done:
		return result
	case <-time.After(overallDeadline):
		log.WithHost(host.Host).Warn().Msg("probe exceeded 5s overall deadline")
		return types.ReachabilityResult{Host: host.Host}
	}
}

func checkOne(host types.HostEndpoint) types.ReachabilityResult {
	result := types.ReachabilityResult{Host: host.Host}
	hostLog := log.WithHost(host.Host)

	addr := fmt.Sprintf("%s:%d", host.Host, host.Port)
	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		hostLog.Debug().Err(err).Msg("tcp connect failed")
		return result
	}
	defer conn.Close()

	config, tried, err := authConfig(host)
	if err != nil {
		hostLog.Debug().Err(err).Msg("no usable auth method configured")
		return result
	}

	client, err := handshake(conn, host, config)
	if err != nil {
		hostLog.Debug().Err(err).Msg("ssh authentication failed")
		return result
	}
	defer client.Close()

	result.SSHAccessible = true
	result.AuthMethod = lastAttempted(tried)

	if host.User == "root" {
		result.HasRoot = true
		result.HasPasswordlessSudo = true
		return result
	}

	result.HasPasswordlessSudo = runsZeroExit(client, passwordlessSudoProbe)
	if host.Auth.Password != "" {
		result.CanSudoWithPassword = runsZeroExit(client,
			fmt.Sprintf("echo %q | sudo -S --prompt=\"\" true 2>/dev/null", host.Auth.Password))
	}

	return result
}

// authAttempts records, in the order the ssh library invoked them,
// which auth method callbacks fired during one handshake. The library
// tries the configured methods in order and stops at the first one
// that succeeds, so whichever callback fired last is the one that
// authenticated — there is no other way to learn that out of a single
// NewClientConn call.
type authAttempts struct {
	order []string
}

func (a *authAttempts) record(method string) {
	a.order = append(a.order, method)
}

func lastAttempted(a *authAttempts) string {
	if a == nil || len(a.order) == 0 {
		return ""
	}
	return a.order[len(a.order)-1]
}

// authConfig builds one ssh.ClientConfig that tries key auth first (if
// a key is configured) and falls back to password auth (if a password
// is configured) within the same handshake, mirroring ssh_connect.rs's
// single ssh2::Session trying userauth_pubkey_file then
// userauth_password. Two separate NewClientConn calls on the same
// net.Conn cannot be used for this fallback: the transport handshake
// and authentication happen together inside NewClientConn, so a failed
// first attempt leaves the connection spent before a second call ever
// gets to try.
func authConfig(host types.HostEndpoint) (*ssh.ClientConfig, *authAttempts, error) {
	tried := &authAttempts{}
	var methods []ssh.AuthMethod

	if host.Auth.PrivateKeyPath != "" {
		if signer, err := signerFromFile(host.Auth.PrivateKeyPath, host.Auth.Passphrase); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
				tried.record("key")
				return []ssh.Signer{signer}, nil
			}))
		}
	}

	if host.Auth.Password != "" {
		password := host.Auth.Password
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			tried.record("password")
			return password, nil
		}))
	}

	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("no usable auth method configured")
	}

	return &ssh.ClientConfig{
		User:            host.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         handshakeTimeout,
	}, tried, nil
}

func signerFromFile(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}

// handshake performs the transport handshake and authentication in one
// call on the already-dialed conn, the 3-second connect timeout and
// 3-second handshake timeout here being each shorter and distinct from
// C1's single 30-second DialTimeout (pkg/sshtransport does not share
// this path).
func handshake(conn net.Conn, host types.HostEndpoint, config *ssh.ClientConfig) (*ssh.Client, error) {
	addr := fmt.Sprintf("%s:%d", host.Host, host.Port)
	// ClientConfig.Timeout only bounds ssh.Dial, so the handshake
	// deadline is set on the connection itself.
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func runsZeroExit(client *ssh.Client, command string) bool {
	session, err := client.NewSession()
	if err != nil {
		return false
	}
	defer session.Close()
	return session.Run(command) == nil
}

