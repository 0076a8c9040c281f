package sshtransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/chess/pkg/types"
)

func TestParseKubeadmJoinCommand(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   types.JoinCredential
	}{
		{
			name:   "well formed",
			output: "kubeadm join 10.0.0.1:6443 --token abc.def --discovery-token-ca-cert-hash sha256:deadbeef",
			want:   types.JoinCredential{APIServer: "10.0.0.1:6443", JoinToken: "abc.def", CACertHash: "sha256:deadbeef"},
		},
		{
			name:   "too short",
			output: "kubeadm join",
			want:   types.JoinCredential{},
		},
		{
			name:   "empty",
			output: "",
			want:   types.JoinCredential{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseKubeadmJoinCommand(tc.output)
			assert.Equal(t, tc.want.APIServer, got.APIServer)
			assert.Equal(t, tc.want.JoinToken, got.JoinToken)
			assert.Equal(t, tc.want.CACertHash, got.CACertHash)
		})
	}
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, 0, exitCodeOf(nil))
	assert.Equal(t, -1, exitCodeOf(assert.AnError))
}

// TestExecAgainstLocalServer drives Exec/GetJoinInfo against an in-process
// SSH server so the session wiring is exercised without a live host.
func TestExecAgainstLocalServer(t *testing.T) {
	addr, cleanup := startTestSSHServer(t)
	defer cleanup()

	client, err := Connect(context.Background(), testEndpoint(t, addr))
	require.NoError(t, err)
	defer client.Close()

	out, code, err := client.Exec("echo hello")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "hello")
}

func TestGetJoinInfoAgainstLocalServer(t *testing.T) {
	addr, cleanup := startTestSSHServer(t)
	defer cleanup()

	client, err := Connect(context.Background(), testEndpoint(t, addr))
	require.NoError(t, err)
	defer client.Close()

	cred, err := client.GetJoinInfo()
	require.NoError(t, err)
	assert.True(t, cred.Complete())
}

func testEndpoint(t *testing.T, addr string) types.HostEndpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return types.HostEndpoint{
		Host: host,
		Port: port,
		User: "root",
		Auth: types.AuthMethod{Password: "anything"},
	}
}

// startTestSSHServer starts a minimal SSH server that accepts any password
// and responds to a handful of canned exec commands, mirroring the
// fake-over-real-interface pattern used for transports elsewhere in this
// repo's tests.
func startTestSSHServer(t *testing.T) (addr string, cleanup func()) {
	t.Helper()

	signer := testHostKey(t)

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
			go handleTestConn(nConn, config)
		}
	}()

	return listener.Addr().String(), func() { listener.Close() }
}

func testHostKey(t *testing.T) ssh.Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)
	return signer
}

func handleTestConn(nConn net.Conn, config *ssh.ServerConfig) {
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
				respondToCommand(channel, cmd)
			}
		}()
	}
}

func respondToCommand(channel ssh.Channel, cmd string) {
	defer channel.Close()
	switch cmd {
	case "echo hello":
		channel.Write([]byte("hello\n"))
	case "kubeadm token create --print-join-command":
		channel.Write([]byte("kubeadm join 10.0.0.1:6443 --token abc.def --discovery-token-ca-cert-hash sha256:deadbeef\n"))
	default:
	}
	channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
}
