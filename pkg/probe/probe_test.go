package probe

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/chess/pkg/types"
)

func TestCheckAllRootShortcutsSudoProbes(t *testing.T) {
	addr, cleanup := startFakeHost(t, "root")
	defer cleanup()

	results := CheckAll([]types.HostEndpoint{endpointFor(t, addr, "root")})
	require.Len(t, results, 1)

	got := results[0]
	assert.True(t, got.SSHAccessible)
	assert.True(t, got.HasRoot)
	assert.True(t, got.HasPasswordlessSudo)
	assert.False(t, got.Gated())
}

func TestCheckAllNonRootRunsSudoProbes(t *testing.T) {
	addr, cleanup := startFakeHost(t, "deploy")
	defer cleanup()

	results := CheckAll([]types.HostEndpoint{endpointFor(t, addr, "deploy")})
	require.Len(t, results, 1)

	got := results[0]
	assert.True(t, got.SSHAccessible)
	assert.False(t, got.HasRoot)
	assert.True(t, got.HasPasswordlessSudo)
	assert.True(t, got.Gated())
}

func TestCheckAllUnreachableHost(t *testing.T) {
	ep := types.HostEndpoint{Host: "127.0.0.1", Port: 1, User: "root", Auth: types.AuthMethod{Password: "x"}}
	results := CheckAll([]types.HostEndpoint{ep})
	require.Len(t, results, 1)
	assert.False(t, results[0].SSHAccessible)
	assert.True(t, results[0].Gated())
}

// TestCheckAllFallsBackToPasswordAfterRejectedKey exercises a host
// whose configured private key parses but is not authorized while a
// password is: the single-handshake auth config must still reach the
// password method and succeed, rather than spending the connection on
// a doomed key-only attempt.
func TestCheckAllFallsBackToPasswordAfterRejectedKey(t *testing.T) {
	addr, cleanup := startFakeHostRejectingKeys(t, "deploy")
	defer cleanup()

	ep := endpointFor(t, addr, "deploy")
	ep.Auth.PrivateKeyPath = writeClientKey(t)

	results := CheckAll([]types.HostEndpoint{ep})
	require.Len(t, results, 1)

	got := results[0]
	assert.True(t, got.SSHAccessible)
	assert.Equal(t, "password", got.AuthMethod)
}

// writeClientKey generates an RSA key unrelated to anything the fake
// host accepts and writes it to a temp file, returning its path.
func writeClientKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	path := filepath.Join(t.TempDir(), "id_rsa")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

// startFakeHostRejectingKeys starts an in-process SSH server that
// rejects every public key and accepts any password, so tests can
// exercise the key-then-password fallback inside one handshake.
func startFakeHostRejectingKeys(t *testing.T, user string) (addr string, cleanup func()) {
	t.Helper()

	hostKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, errors.New("public key rejected")
		},
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			nConn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveFakeHost(nConn, config)
		}
	}()

	return listener.Addr().String(), func() { listener.Close() }
}

func endpointFor(t *testing.T, addr, user string) types.HostEndpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return types.HostEndpoint{Host: host, Port: port, User: user, Auth: types.AuthMethod{Password: "anything"}}
}

// startFakeHost starts an in-process SSH server that accepts any password
// and answers the sudo probe commands this package issues, so CheckAll can
// be exercised without a live host.
func startFakeHost(t *testing.T, user string) (addr string, cleanup func()) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			nConn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveFakeHost(nConn, config)
		}
	}()

	return listener.Addr().String(), func() { listener.Close() }
}

func serveFakeHost(nConn net.Conn, config *ssh.ServerConfig) {
	sConn, chans, reqs, err := ssh.NewServerConn(nConn, config)
	if err != nil {
		return
	}
	defer sConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				if req.Type != "exec" {
					if req.WantReply {
						req.Reply(false, nil)
					}
					continue
				}
				cmd := string(req.Payload[4:])
				if req.WantReply {
					req.Reply(true, nil)
				}
				respondToProbeCommand(channel, cmd)
			}
		}()
	}
}

func respondToProbeCommand(channel ssh.Channel, cmd string) {
	defer channel.Close()
	code := uint32(0)
	if strings.Contains(cmd, "sudo -n true") {
		code = 0
	} else if strings.Contains(cmd, "sudo -S") {
		code = 0
	}
	channel.SendRequest("exit-status", false, []byte{byte(code >> 24), byte(code >> 16), byte(code >> 8), byte(code)})
}
