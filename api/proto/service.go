package proto

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "api.AgentService"

var sessionStreamDesc = grpc.StreamDesc{
	StreamName:    "Session",
	ServerStreams: true,
	ClientStreams: true,
}

// AgentServiceClient is a hand-written client stub for the agent's
// bidirectional session stream. No .proto file backs this service, so
// it wraps grpc.ClientConnInterface directly in the same shape
// protoc-gen-go-grpc would have produced, rather than generated code.
type AgentServiceClient interface {
	Session(ctx context.Context, opts ...grpc.CallOption) (AgentService_SessionClient, error)
}

type agentServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentServiceClient wraps cc for the Session RPC, forcing the
// "json" content subtype so frames travel through jsonCodec instead of
// gRPC's default binary protobuf codec.
func NewAgentServiceClient(cc grpc.ClientConnInterface) AgentServiceClient {
	return &agentServiceClient{cc: cc}
}

func (c *agentServiceClient) Session(ctx context.Context, opts ...grpc.CallOption) (AgentService_SessionClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &sessionStreamDesc, "/"+serviceName+"/Session", opts...)
	if err != nil {
		return nil, err
	}
	return &agentServiceSessionClient{stream}, nil
}

// AgentService_SessionClient is the bidi stream handle returned by
// Session: send frames toward the manager, receive frames from it.
type AgentService_SessionClient interface {
	Send(*AgentMessage) error
	Recv() (*AgentMessage, error)
	CloseSend() error
}

type agentServiceSessionClient struct {
	grpc.ClientStream
}

func (s *agentServiceSessionClient) Send(m *AgentMessage) error {
	return s.ClientStream.SendMsg(m)
}

func (s *agentServiceSessionClient) Recv() (*AgentMessage, error) {
	m := new(AgentMessage)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
