package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	chessproto "github.com/cuemby/chess/api/proto"
	"github.com/cuemby/chess/pkg/functions"
)

func TestHandleFunctionRequestDispatchesAndReplies(t *testing.T) {
	registry := functions.NewRegistry()
	registry.Register("Echo", func(_ context.Context, params *structpb.Struct) (*structpb.Struct, error) {
		return params, nil
	})
	cfg := Config{Registry: registry}.withDefaults()

	params, err := structpb.NewStruct(map[string]interface{}{"a": "b"})
	require.NoError(t, err)

	replies := make(chan *chessproto.AgentMessage, 1)
	handleFunctionRequest(context.Background(), cfg, &chessproto.FunctionRequest{
		RequestID:    "req-1",
		FunctionName: "Echo",
		Parameters:   params,
	}, func(m *chessproto.AgentMessage) { replies <- m })

	reply := <-replies
	require.NotNil(t, reply.FunctionResult)
	require.True(t, reply.FunctionResult.Success)
	require.Equal(t, "req-1", reply.FunctionResult.RequestID)
	require.Equal(t, "b", reply.FunctionResult.Result.AsMap()["a"])
}

func TestHandleFunctionRequestUnknownFunction(t *testing.T) {
	cfg := Config{}.withDefaults()

	replies := make(chan *chessproto.AgentMessage, 1)
	handleFunctionRequest(context.Background(), cfg, &chessproto.FunctionRequest{
		RequestID:    "req-2",
		FunctionName: "DoesNotExist",
	}, func(m *chessproto.AgentMessage) { replies <- m })

	reply := <-replies
	require.False(t, reply.FunctionResult.Success)
	require.Equal(t, "Unknown function", reply.FunctionResult.ErrorMessage)
}

func TestHandleTunnelMessageEchoesPayload(t *testing.T) {
	payload, err := chessproto.PackTunnelPayload(map[string]interface{}{"cmd": "ls"})
	require.NoError(t, err)

	replies := make(chan *chessproto.AgentMessage, 1)
	handleTunnelMessage(&chessproto.TunnelMessage{
		SessionID: "sess-7",
		Payload:   payload,
	}, func(m *chessproto.AgentMessage) { replies <- m })

	reply := <-replies
	require.NotNil(t, reply.TunnelResponse)
	require.Equal(t, "sess-7", reply.TunnelResponse.SessionID)
	require.Equal(t, "processed", reply.TunnelResponse.Status)

	fields, err := chessproto.UnpackTunnelPayload(reply.TunnelResponse.Payload)
	require.NoError(t, err)
	require.Equal(t, "rust-agent", fields["processed_by"])
	require.Equal(t, "ls", fields["original.cmd"])
}

func TestHandleTunnelMessageReportsPayloadError(t *testing.T) {
	replies := make(chan *chessproto.AgentMessage, 1)
	handleTunnelMessage(&chessproto.TunnelMessage{SessionID: "sess-8", Payload: nil}, func(m *chessproto.AgentMessage) { replies <- m })

	reply := <-replies
	fields, err := chessproto.UnpackTunnelPayload(reply.TunnelResponse.Payload)
	require.NoError(t, err)
	require.Contains(t, fields["payload_error"], "nil")
}

func TestDialTarget(t *testing.T) {
	require.Equal(t, "localhost:50051", dialTarget("http://localhost:50051"))
	require.Equal(t, "localhost:50051", dialTarget("localhost:50051"))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, defaultHeartbeatInterval, cfg.HeartbeatInterval)
	require.Equal(t, defaultReconnectBackoff, cfg.ReconnectBackoff)
	require.Equal(t, defaultMaxReconnectAttempts, cfg.MaxReconnectAttempts)
	require.NotNil(t, cfg.Registry)
}
