// Package proto defines the wire envelope for the agent/manager session
// stream and the tunnel payload carried inside it. No .proto file or
// protoc output exists for this contract, so the envelope is hand
// written: a JSON-friendly Go sum type for the bidi stream frame, plus
// two fields (FunctionRequest.Parameters, FunctionResult.Result) that
// round-trip through the real google.golang.org/protobuf well-known
// Struct type via protojson, and a tunnel Payload carried as a plain
// google.protobuf.Any.
package proto

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// TunnelPayloadTypeURL is the type URL stamped on every tunnel Any
// payload. There is no registered google.protobuf.Struct descriptor
// under this name; it exists only so both ends of the tunnel agree on
// how to interpret the opaque bytes.
const TunnelPayloadTypeURL = "type.googleapis.com/api.TunnelPayload"

// AgentMessage is the single frame type exchanged in both directions
// over the session stream. Exactly one field is non-nil; which one
// determines the frame's meaning, mirroring a protobuf oneof without
// requiring protoc to express it.
type AgentMessage struct {
	Heartbeat       *Heartbeat       `json:"heartbeat,omitempty"`
	FunctionRequest *FunctionRequest `json:"function_request,omitempty"`
	FunctionResult  *FunctionResult  `json:"function_result,omitempty"`
	CancelTask      *CancelTask      `json:"cancel_task,omitempty"`
	TunnelMessage   *TunnelMessage   `json:"tunnel_message,omitempty"`
	TunnelResponse  *TunnelResponse  `json:"tunnel_response,omitempty"`
}

// Heartbeat is sent by the agent on a fixed interval and echoed by the
// manager to confirm liveness.
type Heartbeat struct {
	AgentID   string `json:"agent_id"`
	Timestamp int64  `json:"timestamp"`
}

// CancelTask asks the agent to abandon a previously dispatched
// function call. The agent logs receipt; it does not act on it, since
// the registered function handlers run to completion without a
// cancellation channel.
type CancelTask struct {
	RequestID string `json:"request_id"`
}

// FunctionRequest dispatches a named function call with arbitrary
// structured parameters. Parameters is carried as a real
// google.protobuf.Struct so the dynamic, schema-less argument bag
// round-trips through protojson rather than a custom JSON shape.
type FunctionRequest struct {
	RequestID    string
	FunctionName string
	Parameters   *structpb.Struct
}

type functionRequestWire struct {
	RequestID    string          `json:"request_id"`
	FunctionName string          `json:"function_name"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
}

// MarshalJSON encodes Parameters through protojson, since
// structpb.Value's oneof-typed Kind field cannot round-trip through
// plain encoding/json.
func (m *FunctionRequest) MarshalJSON() ([]byte, error) {
	w := functionRequestWire{RequestID: m.RequestID, FunctionName: m.FunctionName}
	if m.Parameters != nil {
		raw, err := protojson.Marshal(m.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal function request parameters: %w", err)
		}
		w.Parameters = raw
	}
	return json.Marshal(w)
}

func (m *FunctionRequest) UnmarshalJSON(data []byte) error {
	var w functionRequestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.RequestID = w.RequestID
	m.FunctionName = w.FunctionName
	if len(w.Parameters) > 0 {
		m.Parameters = &structpb.Struct{}
		if err := protojson.Unmarshal(w.Parameters, m.Parameters); err != nil {
			return fmt.Errorf("unmarshal function request parameters: %w", err)
		}
	}
	return nil
}

// FunctionResult is the agent's reply to a FunctionRequest. Result
// carries the same Struct-via-protojson treatment as Parameters.
// ErrorMessage is set only when Success is false.
type FunctionResult struct {
	RequestID    string
	Success      bool
	Result       *structpb.Struct
	ErrorMessage string
}

type functionResultWire struct {
	RequestID    string          `json:"request_id"`
	Success      bool            `json:"success"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func (m *FunctionResult) MarshalJSON() ([]byte, error) {
	w := functionResultWire{RequestID: m.RequestID, Success: m.Success, ErrorMessage: m.ErrorMessage}
	if m.Result != nil {
		raw, err := protojson.Marshal(m.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal function result: %w", err)
		}
		w.Result = raw
	}
	return json.Marshal(w)
}

func (m *FunctionResult) UnmarshalJSON(data []byte) error {
	var w functionResultWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.RequestID = w.RequestID
	m.Success = w.Success
	m.ErrorMessage = w.ErrorMessage
	if len(w.Result) > 0 {
		m.Result = &structpb.Struct{}
		if err := protojson.Unmarshal(w.Result, m.Result); err != nil {
			return fmt.Errorf("unmarshal function result: %w", err)
		}
	}
	return nil
}

// TunnelMessage carries an opaque, tunnel-transport payload addressed
// to a session ID. Payload is a google.protobuf.Any: a plain type-URL
// plus wire-encoded bytes, with no oneof to fight encoding/json over.
type TunnelMessage struct {
	SessionID string
	Metadata  map[string]string
	Payload   *anypb.Any
}

type tunnelEnvelopeWire struct {
	SessionID string            `json:"session_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	TypeURL   string            `json:"type_url,omitempty"`
	Value     []byte            `json:"value,omitempty"`
}

func (m *TunnelMessage) MarshalJSON() ([]byte, error) {
	w := tunnelEnvelopeWire{SessionID: m.SessionID, Metadata: m.Metadata}
	if m.Payload != nil {
		w.TypeURL = m.Payload.TypeUrl
		w.Value = m.Payload.Value
	}
	return json.Marshal(w)
}

func (m *TunnelMessage) UnmarshalJSON(data []byte) error {
	var w tunnelEnvelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.SessionID = w.SessionID
	m.Metadata = w.Metadata
	if w.TypeURL != "" {
		m.Payload = &anypb.Any{TypeUrl: w.TypeURL, Value: w.Value}
	}
	return nil
}

// TunnelResponse is the agent's reply to a TunnelMessage: an echoed
// session ID, a status string, a random number the original protocol
// uses as a liveness nonce, and an optional response payload.
type TunnelResponse struct {
	SessionID    string
	Status       string
	RandomNumber int64
	Payload      *anypb.Any
}

type tunnelResponseWire struct {
	SessionID    string            `json:"session_id"`
	Status       string            `json:"status"`
	RandomNumber int64             `json:"random_number"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	TypeURL      string            `json:"type_url,omitempty"`
	Value        []byte            `json:"value,omitempty"`
}

func (m *TunnelResponse) MarshalJSON() ([]byte, error) {
	w := tunnelResponseWire{SessionID: m.SessionID, Status: m.Status, RandomNumber: m.RandomNumber}
	if m.Payload != nil {
		w.TypeURL = m.Payload.TypeUrl
		w.Value = m.Payload.Value
	}
	return json.Marshal(w)
}

func (m *TunnelResponse) UnmarshalJSON(data []byte) error {
	var w tunnelResponseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.SessionID = w.SessionID
	m.Status = w.Status
	m.RandomNumber = w.RandomNumber
	if w.TypeURL != "" {
		m.Payload = &anypb.Any{TypeUrl: w.TypeURL, Value: w.Value}
	}
	return nil
}

// PackTunnelPayload wraps a plain string-keyed map as a
// google.protobuf.Any carrying a wire-encoded google.protobuf.Struct,
// tagged with TunnelPayloadTypeURL.
func PackTunnelPayload(fields map[string]interface{}) (*anypb.Any, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build tunnel payload struct: %w", err)
	}
	value, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal tunnel payload: %w", err)
	}
	return &anypb.Any{TypeUrl: TunnelPayloadTypeURL, Value: value}, nil
}

// UnpackTunnelPayload reverses PackTunnelPayload. It returns an error
// if payload is nil or its type URL does not match TunnelPayloadTypeURL.
func UnpackTunnelPayload(payload *anypb.Any) (map[string]interface{}, error) {
	if payload == nil {
		return nil, fmt.Errorf("tunnel payload is nil")
	}
	if payload.TypeUrl != TunnelPayloadTypeURL {
		return nil, fmt.Errorf("unexpected tunnel payload type url %q", payload.TypeUrl)
	}
	s := &structpb.Struct{}
	if err := proto.Unmarshal(payload.Value, s); err != nil {
		return nil, fmt.Errorf("unmarshal tunnel payload: %w", err)
	}
	return s.AsMap(), nil
}
