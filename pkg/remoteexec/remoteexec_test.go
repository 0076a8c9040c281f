package remoteexec

import (
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

func TestBuildTarExtractCommands(t *testing.T) {
	cmds := BuildTarExtractCommands([]string{"abc123"})
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0], "/tmp/.chess/abc123/*.gz")
	assert.Contains(t, cmds[0], "tar -zxvf")
}

func TestBuildNodeInitCommands(t *testing.T) {
	cmds := BuildNodeInitCommands(map[string]string{"ROLE": "master", "NODE": "a"}, []string{"img1"})
	require.Len(t, cmds, 1)
	assert.Equal(t, "NODE=a ROLE=master bash /tmp/.chess/img1/run.sh", cmds[0])
}

func TestBuildNodeInitCommandsNoEnv(t *testing.T) {
	cmds := BuildNodeInitCommands(nil, []string{"img1"})
	require.Len(t, cmds, 1)
	assert.Equal(t, "bash /tmp/.chess/img1/run.sh", cmds[0])
}

func TestRunOnHostsAggregatesSuccess(t *testing.T) {
	okAddr, okCleanup := startFakeHost(t, map[string]int{"true": 0})
	defer okCleanup()
	failAddr, failCleanup := startFakeHost(t, map[string]int{"false": 1})
	defer failCleanup()

	hosts := []types.HostEndpoint{endpointFor(t, okAddr), endpointFor(t, failAddr)}
	results, allSuccess := RunOnHosts(hosts, []string{"true", "false"}, false)

	require.Len(t, results, 2)
	assert.False(t, allSuccess)
}

func TestRunOnHostsUnreachableFailsThatHostOnly(t *testing.T) {
	okAddr, okCleanup := startFakeHost(t, map[string]int{"true": 0})
	defer okCleanup()

	unreachable := types.HostEndpoint{Host: "127.0.0.1", Port: 1, User: "root", Auth: types.AuthMethod{Password: "x"}}
	hosts := []types.HostEndpoint{endpointFor(t, okAddr), unreachable}

	results, allSuccess := RunOnHosts(hosts, []string{"true"}, false)
	require.Len(t, results, 2)
	assert.False(t, allSuccess)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func endpointFor(t *testing.T, addr string) types.HostEndpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return types.HostEndpoint{Host: host, Port: port, User: "root", Auth: types.AuthMethod{Password: "anything"}}
}

// startFakeHost starts an in-process SSH server that maps known
// commands to exit codes (default 0 otherwise), so RunOnHosts can be
// exercised without a live host.
func startFakeHost(t *testing.T, exitCodes map[string]int) (addr string, cleanup func()) {
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
			go serveFakeHost(nConn, config, exitCodes)
		}
	}()

	return listener.Addr().String(), func() { listener.Close() }
}

func serveFakeHost(nConn net.Conn, config *ssh.ServerConfig, exitCodes map[string]int) {
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
				code := exitCodes[cmd]
				channel.SendRequest("exit-status", false, []byte{0, 0, 0, byte(code)})
				channel.Close()
			}
		}()
	}
}
