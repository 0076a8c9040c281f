// Package agent implements the agent loop (C8): a long-lived,
// reconnecting bidirectional gRPC session with a manager, dispatching
// function calls through a registry and echoing tunnel traffic back
// with a processed payload.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	chessproto "github.com/cuemby/chess/api/proto"
	"github.com/cuemby/chess/pkg/chesserr"
	"github.com/cuemby/chess/pkg/functions"
	"github.com/cuemby/chess/pkg/log"
	"github.com/cuemby/chess/pkg/metrics"
)

const (
	defaultHeartbeatInterval    = 10 * time.Second
	defaultReconnectBackoff     = 5 * time.Second
	defaultMaxReconnectAttempts = 10
	outboxCapacity              = 32
)

// Config carries the settings one agent session needs.
type Config struct {
	// Endpoint is the manager address, e.g. "http://localhost:50051".
	Endpoint string
	// AgentID identifies this agent in every heartbeat frame.
	AgentID string
	// Registry dispatches incoming FunctionRequest frames. A nil
	// Registry is replaced with an empty one, which answers every
	// call with ErrFunctionUnknown.
	Registry *functions.Registry

	HeartbeatInterval    time.Duration
	ReconnectBackoff     time.Duration
	MaxReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = defaultReconnectBackoff
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.Registry == nil {
		c.Registry = functions.NewRegistry()
	}
	return c
}

// Run holds a reconnecting session open against cfg.Endpoint until ctx
// is cancelled or the reconnect attempt budget is exhausted. A dropped
// stream is not a terminal error: Run waits ReconnectBackoff and
// starts a fresh session, resetting the attempt counter once a session
// is accepted.
func Run(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	agentLog := log.WithComponent("agent")

	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := grpc.NewClient(dialTarget(cfg.Endpoint), grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("build manager connection: %w", err)
		}

		client := chessproto.NewAgentServiceClient(conn)
		stream, err := client.Session(ctx)
		if err != nil {
			conn.Close()
			attempts++
			metrics.AgentReconnectsTotal.Inc()
			agentLog.Warn().Err(err).Int("attempt", attempts).Msg("failed to open session, will retry")
			if cfg.MaxReconnectAttempts > 0 && attempts >= cfg.MaxReconnectAttempts {
				return fmt.Errorf("%w: exceeded %d reconnect attempts", chesserr.ErrStreamLost, cfg.MaxReconnectAttempts)
			}
			if !sleepOrDone(ctx, cfg.ReconnectBackoff) {
				return ctx.Err()
			}
			continue
		}

		attempts = 0
		sessionErr := runSession(ctx, cfg, stream)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		agentLog.Warn().Err(sessionErr).Msg("session ended, reconnecting")
		metrics.AgentReconnectsTotal.Inc()
		if !sleepOrDone(ctx, cfg.ReconnectBackoff) {
			return ctx.Err()
		}
	}
}

// runSession drives one accepted session: a heartbeat ticker, a reader
// dispatching incoming frames, and a single sender goroutine owning
// stream.Send so replies from concurrently dispatched function calls
// never interleave mid-frame.
func runSession(ctx context.Context, cfg Config, stream chessproto.AgentService_SessionClient) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbox := make(chan *chessproto.AgentMessage, outboxCapacity)
	var wg sync.WaitGroup

	send := func(msg *chessproto.AgentMessage) {
		select {
		case outbox <- msg:
		case <-sessionCtx.Done():
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-outbox:
				if err := stream.Send(msg); err != nil {
					cancel()
					return
				}
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	send(&chessproto.AgentMessage{Heartbeat: &chessproto.Heartbeat{AgentID: cfg.AgentID, Timestamp: time.Now().Unix()}})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				send(&chessproto.AgentMessage{Heartbeat: &chessproto.Heartbeat{AgentID: cfg.AgentID, Timestamp: time.Now().Unix()}})
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	var readErr error
	for {
		msg, err := stream.Recv()
		if err != nil {
			readErr = err
			break
		}
		handleMessage(sessionCtx, cfg, msg, send)
	}

	cancel()
	wg.Wait()
	return readErr
}

func handleMessage(ctx context.Context, cfg Config, msg *chessproto.AgentMessage, send func(*chessproto.AgentMessage)) {
	agentLog := log.WithComponent("agent")
	switch {
	case msg.Heartbeat != nil:
		agentLog.Debug().Str("agent_id", msg.Heartbeat.AgentID).Msg("received heartbeat")
	case msg.FunctionRequest != nil:
		go handleFunctionRequest(ctx, cfg, msg.FunctionRequest, send)
	case msg.CancelTask != nil:
		agentLog.Info().Str("request_id", msg.CancelTask.RequestID).
			Msg("cancel requested for in-flight task; cancellation is not delivered to running handlers")
	case msg.TunnelMessage != nil:
		go handleTunnelMessage(msg.TunnelMessage, send)
	default:
		agentLog.Warn().Msg("received an agent message with no recognized variant set, dropping")
	}
}

func handleFunctionRequest(ctx context.Context, cfg Config, req *chessproto.FunctionRequest, send func(*chessproto.AgentMessage)) {
	result, err := cfg.Registry.Dispatch(ctx, req.FunctionName, req.Parameters)

	reply := &chessproto.FunctionResult{RequestID: req.RequestID}
	label := "ok"
	if err != nil {
		reply.Success = false
		label = "error"
		if errors.Is(err, chesserr.ErrFunctionUnknown) {
			reply.ErrorMessage = "Unknown function"
		} else {
			reply.ErrorMessage = err.Error()
		}
	} else {
		reply.Success = true
		reply.Result = result
	}

	metrics.AgentFunctionCallsTotal.WithLabelValues(req.FunctionName, label).Inc()
	send(&chessproto.AgentMessage{FunctionResult: reply})
}

// handleTunnelMessage answers a tunnel frame by echoing the session ID
// and wrapping the fields of the inbound payload under an
// "original.<key>" prefix, alongside a processed_by marker. A payload
// that fails to unpack is reported via a payload_error field rather
// than dropping the response.
func handleTunnelMessage(msg *chessproto.TunnelMessage, send func(*chessproto.AgentMessage)) {
	resp := &chessproto.TunnelResponse{
		SessionID:    msg.SessionID,
		Status:       "processed",
		RandomNumber: int64(int32(rand.Uint32())),
	}

	out := map[string]interface{}{
		"processed_by":     "rust-agent",
		"original_session": msg.SessionID,
	}

	fields, err := chessproto.UnpackTunnelPayload(msg.Payload)
	if err != nil {
		out["payload_error"] = err.Error()
	} else {
		for k, v := range fields {
			out["original."+k] = v
		}
	}

	if payload, packErr := chessproto.PackTunnelPayload(out); packErr == nil {
		resp.Payload = payload
	} else {
		log.WithComponent("agent").Warn().Err(packErr).Msg("failed to pack tunnel response payload")
	}

	send(&chessproto.AgentMessage{TunnelResponse: resp})
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func dialTarget(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}
