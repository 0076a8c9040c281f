// Package sshtransport establishes an authenticated SSH session to one
// host, runs commands on it (with optional streaming), and exposes an
// SFTP client over the same connection. All blocking work happens on
// whatever goroutine calls in — callers that fan out across many hosts
// are expected to bound their own concurrency (pkg/probe, pkg/upload,
// pkg/remoteexec all do).
package sshtransport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/chess/pkg/chesserr"
	"github.com/cuemby/chess/pkg/types"
)

// DialTimeout is the TCP-connect, handshake, and auth timeout for a
// full-fidelity session (C1). The reachability prober (C2) uses its own,
// shorter timeouts and does not go through this package.
const DialTimeout = 30 * time.Second

// Client is one authenticated session to one host.
type Client struct {
	conn *ssh.Client
	host string
}

// Connect dials the host, performs the handshake, and authenticates,
// trying a private key first (if set) and falling back to a password.
func Connect(ctx context.Context, ep types.HostEndpoint) (*Client, error) {
	methods, err := authMethods(ep.Auth)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            ep.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         DialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", chesserr.ErrUnreachable, addr, err)
	}

	// NewClientConn does not apply config.Timeout, so bound the
	// handshake and auth with a deadline on the connection.
	conn.SetDeadline(time.Now().Add(DialTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", chesserr.ErrAuthFailed, addr, err)
	}
	conn.SetDeadline(time.Time{})

	return &Client{conn: ssh.NewClient(sshConn, chans, reqs), host: ep.Host}, nil
}

func authMethods(auth types.AuthMethod) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if auth.PrivateKeyPath != "" {
		key, err := os.ReadFile(auth.PrivateKeyPath)
		if err == nil {
			var signer ssh.Signer
			if auth.Passphrase != "" {
				signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(auth.Passphrase))
			} else {
				signer, err = ssh.ParsePrivateKey(key)
			}
			if err == nil {
				methods = append(methods, ssh.PublicKeys(signer))
			}
		}
	}

	if auth.Password != "" {
		methods = append(methods, ssh.Password(auth.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no usable auth method configured", chesserr.ErrAuthFailed)
	}
	return methods, nil
}

// Close closes the underlying SSH connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Exec runs a single command and returns its combined output and exit code.
func (c *Client) Exec(command string) (string, int, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return "", -1, fmt.Errorf("%w: new session: %v", chesserr.ErrExecFailed, err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(command)
	return string(out), exitCodeOf(err), execErr(err)
}

// ExecStream runs commands sequentially over this one connection, opening
// a fresh SSH session (channel) for each command. When verbose,
// each chunk of stdout/stderr is mirrored to the local console as it
// arrives. A non-zero exit on one command does not stop the remaining
// commands in the batch.
func (c *Client) ExecStream(commands []string, verbose bool) ([]types.CommandOutput, error) {
	results := make([]types.CommandOutput, 0, len(commands))

	for _, cmd := range commands {
		session, err := c.conn.NewSession()
		if err != nil {
			return results, fmt.Errorf("%w: new session: %v", chesserr.ErrExecFailed, err)
		}

		var buf strings.Builder
		var stdoutW, stderrW io.Writer = &buf, &buf
		if verbose {
			stdoutW = io.MultiWriter(&buf, os.Stdout)
			stderrW = io.MultiWriter(&buf, os.Stderr)
		}
		session.Stdout = stdoutW
		session.Stderr = stderrW

		runErr := session.Run(cmd)
		session.Close()

		results = append(results, types.CommandOutput{
			Command:  cmd,
			Output:   buf.String(),
			ExitCode: exitCodeOf(runErr),
		})
	}

	return results, nil
}

// SFTP returns an SFTP client multiplexed over this connection. The
// caller owns its lifecycle and should Close it before closing the
// underlying Client.
func (c *Client) SFTP() (*sftp.Client, error) {
	return sftp.NewClient(c.conn)
}

// GetJoinInfo runs `kubeadm token create --print-join-command` and
// tokenizes its output on whitespace: token[2] is the API server,
// token[4] is the join token, the final token is the CA cert hash. Any
// field absent from the output is simply left empty rather than failing
// the call — the join-credential parsing is documented as brittle.
func (c *Client) GetJoinInfo() (types.JoinCredential, error) {
	output, _, err := c.Exec("kubeadm token create --print-join-command")
	if err != nil {
		return types.JoinCredential{}, err
	}
	return parseKubeadmJoinCommand(output), nil
}

func parseKubeadmJoinCommand(output string) types.JoinCredential {
	parts := strings.Fields(output)
	var cred types.JoinCredential
	if len(parts) >= 6 {
		cred.APIServer = parts[2]
		cred.JoinToken = parts[4]
		cred.CACertHash = parts[len(parts)-1]
	}
	return cred
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return exitErr.ExitStatus()
	}
	return -1
}

func execErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", chesserr.ErrExecFailed, err)
}
