package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ConclaveHQ/conclave/internal/conn"
	"github.com/ConclaveHQ/conclave/internal/instance"
	"github.com/ConclaveHQ/conclave/internal/logger"
	"github.com/ConclaveHQ/conclave/internal/metrics"
	"github.com/ConclaveHQ/conclave/internal/protocol"
	"github.com/ConclaveHQ/conclave/internal/router"
)

// ToolFunc executes one opaque tool call on behalf of a client.
type ToolFunc func(ctx context.Context, client *conn.Client, args json.RawMessage) (any, error)

func (s *Server) registerTools() {
	s.tools["echo"] = func(ctx context.Context, client *conn.Client, args json.RawMessage) (any, error) {
		return args, nil
	}
	s.tools["instance_provision"] = s.toolInstanceProvision
	s.tools["instance_stop"] = s.toolInstanceStop
	s.tools["instance_status"] = s.toolInstanceStatus
	s.tools["instance_list"] = s.toolInstanceList
}

// handleToolInvoke runs the named tool asynchronously. The eventual
// result arrives as a tool_response whose requestId is the invoking
// message's id; there is no synchronous ack.
func (s *Server) handleToolInvoke(client *conn.Client, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var p protocol.ToolInvokePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, protocol.AsError(err)
	}
	tool, ok := s.tools[p.Tool]
	if !ok {
		return nil, protocol.Errorf(protocol.CodeResourceNotFound, "unknown tool: %s", p.Tool)
	}

	requestID := msg.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), router.DefaultRequestTimeout)
		defer cancel()

		resp := protocol.ToolResponsePayload{RequestID: requestID}
		result, err := tool(ctx, client, p.Arguments)
		if err != nil {
			resp.Error = err.Error()
			metrics.ToolCalls.WithLabelValues(p.Tool, "error").Inc()
		} else {
			raw, merr := json.Marshal(result)
			if merr != nil {
				resp.Error = merr.Error()
				metrics.ToolCalls.WithLabelValues(p.Tool, "error").Inc()
			} else {
				resp.Result = raw
				metrics.ToolCalls.WithLabelValues(p.Tool, "ok").Inc()
			}
		}

		out := protocol.NewMessage(protocol.TypeToolResponse, uuid.NewString(), resp)
		out.ResponseTo = requestID
		if serr := client.Endpoint.Send(out); serr != nil {
			logger.Error("failed to deliver %s result to client %s: %v", p.Tool, client.ID, serr)
		}
	}()
	return nil, nil
}

// RequestClientTool sends a server-originated tool_invoke to a client
// and returns the channel its tool_response resolves. Used by the admin
// surface to drive client-side tools.
func (s *Server) RequestClientTool(clientID, tool string, args json.RawMessage) (<-chan router.Result, *protocol.Error) {
	client, ok := s.conns.Get(clientID)
	if !ok {
		return nil, protocol.Errorf(protocol.CodeResourceNotFound, "client not connected: %s", clientID)
	}

	requestID := uuid.NewString()
	ch, perr := s.router.Pending().Register(requestID, protocol.TypeToolInvoke)
	if perr != nil {
		return nil, perr
	}

	msg := protocol.NewMessage(protocol.TypeToolInvoke, requestID, protocol.ToolInvokePayload{
		Tool:      tool,
		Arguments: args,
	})
	if err := client.Endpoint.Send(msg); err != nil {
		s.router.Pending().Cancel(requestID, protocol.Errorf(
			protocol.CodeServerError, "failed to reach client: %v", err))
	}
	return ch, nil
}

func (s *Server) toolInstanceProvision(ctx context.Context, client *conn.Client, args json.RawMessage) (any, error) {
	if s.provisioner == nil {
		return nil, fmt.Errorf("no instance provisioner configured")
	}
	var spec instance.Spec
	if len(args) > 0 {
		if err := json.Unmarshal(args, &spec); err != nil {
			return nil, fmt.Errorf("invalid provision arguments: %w", err)
		}
	}
	if spec.Image == "" {
		return nil, fmt.Errorf("image is required")
	}
	// Instances are always provisioned into the caller's workspace.
	spec.WorkspaceID = client.WorkspaceID
	return s.provisioner.Provision(ctx, spec)
}

func (s *Server) toolInstanceStop(ctx context.Context, client *conn.Client, args json.RawMessage) (any, error) {
	if s.provisioner == nil {
		return nil, fmt.Errorf("no instance provisioner configured")
	}
	id, err := s.instanceIDForClient(ctx, client, args)
	if err != nil {
		return nil, err
	}
	if err := s.provisioner.Stop(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "stopped": true}, nil
}

func (s *Server) toolInstanceStatus(ctx context.Context, client *conn.Client, args json.RawMessage) (any, error) {
	if s.provisioner == nil {
		return nil, fmt.Errorf("no instance provisioner configured")
	}
	id, err := s.instanceIDForClient(ctx, client, args)
	if err != nil {
		return nil, err
	}
	return s.provisioner.Status(ctx, id)
}

func (s *Server) toolInstanceList(ctx context.Context, client *conn.Client, args json.RawMessage) (any, error) {
	if s.provisioner == nil {
		return nil, fmt.Errorf("no instance provisioner configured")
	}
	return s.provisioner.List(ctx, client.WorkspaceID)
}

// instanceIDForClient extracts the instance id argument and verifies the
// instance belongs to the caller's workspace.
func (s *Server) instanceIDForClient(ctx context.Context, client *conn.Client, args json.RawMessage) (string, error) {
	var p struct {
		ID string `json:"id"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if p.ID == "" {
		return "", fmt.Errorf("id is required")
	}
	inst, err := s.provisioner.Status(ctx, p.ID)
	if err != nil {
		return "", err
	}
	if inst.WorkspaceID != client.WorkspaceID {
		return "", fmt.Errorf("instance %s is not in workspace %s", p.ID, client.WorkspaceID)
	}
	return p.ID, nil
}
