package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ConclaveHQ/conclave/internal/auth"
	"github.com/ConclaveHQ/conclave/internal/protocol"
	"github.com/ConclaveHQ/conclave/internal/router"
)

// registerAdminTools exposes the operator tools over the admin MCP
// endpoint.
func (s *Server) registerAdminTools(srv *mcp.Server) {
	srv.AddTool(&mcp.Tool{
		Name:        "server_status",
		Description: "Report connected clients, active sessions, and server state",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.adminServerStatus)

	srv.AddTool(&mcp.Tool{
		Name:        "list_clients",
		Description: "List connected clients with their workspace and session membership",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.adminListClients)

	srv.AddTool(&mcp.Tool{
		Name:        "list_sessions",
		Description: "List active sessions with participants and resource counts",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.adminListSessions)

	srv.AddTool(&mcp.Tool{
		Name:        "session_detail",
		Description: "Inspect one session: participants, terminals, and editors",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"sessionId": {Type: "string", Description: "Session to inspect"},
			},
			Required: []string{"sessionId"},
		},
	}, s.adminSessionDetail)

	srv.AddTool(&mcp.Tool{
		Name:        "token_create",
		Description: "Create an access token (scopes: admin, client, workspace:<id>)",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name":  {Type: "string", Description: "Human-readable token name"},
				"scope": {Type: "string", Description: "Token scope"},
			},
			Required: []string{"name", "scope"},
		},
	}, s.adminTokenCreate)

	srv.AddTool(&mcp.Tool{
		Name:        "token_list",
		Description: "List tokens (masked display plus stored hash, never the secret)",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.adminTokenList)

	srv.AddTool(&mcp.Tool{
		Name:        "token_revoke",
		Description: "Revoke a token by its secret or its stored hash",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"id": {Type: "string", Description: "Token secret or hash to revoke"},
			},
			Required: []string{"id"},
		},
	}, s.adminTokenRevoke)

	srv.AddTool(&mcp.Tool{
		Name:        "invoke_client_tool",
		Description: "Send a tool_invoke to a connected client and wait for its response",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"clientId":  {Type: "string", Description: "Target client"},
				"tool":      {Type: "string", Description: "Tool name the client should run"},
				"arguments": {Type: "object", Description: "Opaque tool arguments"},
			},
			Required: []string{"clientId", "tool"},
		},
	}, s.adminInvokeClientTool)
}

func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

func toolArgs(req *mcp.CallToolRequest, dst any) error {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return fmt.Errorf("missing arguments")
	}
	return json.Unmarshal(req.Params.Arguments, dst)
}

func (s *Server) adminServerStatus(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(map[string]any{
		"connectedClients": s.conns.Count(),
		"activeSessions":   s.sessions.Count(),
		"maxClients":       s.cfg.Server.MaxClients,
		"authEnabled":      s.cfg.Auth.Enabled,
		"draining":         s.draining.Load(),
		"serverTime":       protocol.Now(),
	})
}

func (s *Server) adminListClients(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clients := s.conns.List()
	out := make([]map[string]any, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientSnapshot(c))
	}
	return textResult(out)
}

func (s *Server) adminListSessions(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(s.sessions.List())
}

func (s *Server) adminSessionDetail(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := toolArgs(req, &p); err != nil {
		return errorResult(err.Error()), nil
	}

	info, perr := s.sessions.Get(p.SessionID)
	if perr != nil {
		return errorResult(perr.Error()), nil
	}
	terminals, _ := s.sessions.ListTerminals(p.SessionID)
	editors, _ := s.sessions.ListEditors(p.SessionID)
	return textResult(map[string]any{
		"session":   info,
		"terminals": terminals,
		"editors":   editors,
	})
}

func (s *Server) adminTokenCreate(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.tokens == nil {
		return errorResult("token store not configured"), nil
	}
	var p struct {
		Name  string `json:"name"`
		Scope string `json:"scope"`
	}
	if err := toolArgs(req, &p); err != nil {
		return errorResult(err.Error()), nil
	}
	if p.Name == "" || p.Scope == "" {
		return errorResult("name and scope are required"), nil
	}
	if p.Scope != auth.ScopeAdmin && p.Scope != auth.ScopeClient && !auth.IsWorkspaceScope(p.Scope) {
		return errorResult("scope must be admin, client, or workspace:<id>"), nil
	}
	accessTTL := s.cfg.TokenTTL()
	refreshTTL := s.cfg.RefreshTokenTTL()
	token, err := s.tokens.CreateToken(p.Name, p.Scope, &accessTTL, &refreshTTL)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	// The only time the full token is ever returned; at rest only its
	// hash survives.
	return textResult(map[string]any{
		"token":        token.ID,
		"refreshToken": token.RefreshToken,
		"hash":         token.Hash,
		"scope":        token.Scope,
		"expiresAt":    token.ExpiresAt,
	})
}

func (s *Server) adminTokenList(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.tokens == nil {
		return errorResult("token store not configured"), nil
	}
	tokens, err := s.tokens.ListTokens()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	out := make([]map[string]any, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, map[string]any{
			"token":      t.Display,
			"hash":       t.Hash,
			"name":       t.Name,
			"scope":      t.Scope,
			"createdAt":  t.CreatedAt,
			"lastUsedAt": t.LastUsedAt,
			"expiresAt":  t.ExpiresAt,
		})
	}
	return textResult(out)
}

func (s *Server) adminTokenRevoke(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.tokens == nil {
		return errorResult("token store not configured"), nil
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := toolArgs(req, &p); err != nil {
		return errorResult(err.Error()), nil
	}
	if err := s.tokens.RevokeToken(p.ID); err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(map[string]any{"revoked": true})
}

func (s *Server) adminInvokeClientTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p struct {
		ClientID  string          `json:"clientId"`
		Tool      string          `json:"tool"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := toolArgs(req, &p); err != nil {
		return errorResult(err.Error()), nil
	}

	ch, perr := s.RequestClientTool(p.ClientID, p.Tool, p.Arguments)
	if perr != nil {
		return errorResult(perr.Error()), nil
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return errorResult(res.Err.Error()), nil
		}
		var rp protocol.ToolResponsePayload
		if err := res.Msg.DecodePayload(&rp); err != nil {
			return errorResult(err.Error()), nil
		}
		if rp.Error != "" {
			return errorResult(rp.Error), nil
		}
		return textResult(map[string]any{"result": rp.Result})
	case <-ctx.Done():
		return errorResult(ctx.Err().Error()), nil
	case <-time.After(router.DefaultRequestTimeout + time.Second):
		return errorResult("client did not respond"), nil
	}
}

