package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/namastexlabs/mcp-hub/internal/discovery"
	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

// agentIDHeader names the calling agent identity for an MCP session, per
// SPEC_FULL.md's decision on filtering tools/list by agent toolkit rather
// than the full user union.
const agentIDHeader = "X-Hub-Agent-Id"

// agentScopedPrincipal reads agentIDHeader off the request and, when
// present, resolves it to the owning Agent and its toolkit so the
// Permission Checker's layer 3 (agent toolkit) has something to
// evaluate. A header naming an agent outside the caller's own workspace,
// or one discovery hasn't recorded, is ignored rather than rejected —
// the session just falls back to the full user-scoped tool list instead
// of leaking another tenant's project layout through an error message.
func (s *Server) agentScopedPrincipal(r *http.Request, p auth.Principal) auth.Principal {
	agentID := r.Header.Get(agentIDHeader)
	if agentID == "" {
		return p
	}
	agent, bf, err := s.agentWorkspace(agentID)
	if err != nil || agent == nil || bf == nil || bf.WorkspaceID != p.WorkspaceID {
		return p
	}
	var toolkit discovery.ToolkitInner
	if agent.Toolkit != "" {
		if err := json.Unmarshal([]byte(agent.Toolkit), &toolkit); err != nil {
			return p
		}
	}
	toolNames := make([]string, len(toolkit.Tools))
	for i, g := range toolkit.Tools {
		toolNames[i] = g.Name
	}
	p.Agent = &auth.Agent{ID: agent.ID, ProjectID: agent.ProjectID}
	if p.Claims == nil {
		p.Claims = make(map[string]any)
	}
	p.Claims["toolkit_tools"] = toolNames
	p.Claims["inherit_project_tools"] = toolkit.InheritProjectTools
	return p
}

// newMCPServerForRequest builds an ephemeral mcp.Server scoped to one
// request's authenticated principal. The Hub's tool set is per-user and
// changes as tools are activated/deactivated (spec §4.11), so unlike a
// fixed tool catalogue registered once at startup, the tool list here is
// rebuilt from the Proxy's current view on every request.
func (s *Server) newMCPServerForRequest(r *http.Request) *mcpsdk.Server {
	ctx := r.Context()
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "mcp-hub",
		Version: s.version,
	}, nil)

	sess, ok := auth.AuthSessionFrom(ctx)
	if !ok {
		return server
	}
	principal := s.agentScopedPrincipal(r, sess.Principal())

	tools, err := s.proxy.ListTools(ctx, principal)
	if err != nil {
		s.log.Error(err, "failed to list tools for mcp session", "user_id", principal.User.ID)
		return server
	}

	for _, t := range tools {
		mcpsdk.AddTool[map[string]any, map[string]any](
			server,
			&mcpsdk.Tool{Name: t.Name, Description: t.Description},
			s.callToolHandler(principal, t.Name),
		)
	}
	return server
}

// callToolHandler binds a namespaced tool's registration to the Proxy's
// call pipeline. The namespaced name is split back into (tool_name,
// child_tool) at invocation time, mirroring the "tool_name.child_tool"
// convention tools/list publishes.
func (s *Server) callToolHandler(principal auth.Principal, fullName string) func(context.Context, *mcpsdk.CallToolRequest, map[string]any) (*mcpsdk.CallToolResult, map[string]any, error) {
	toolName, childToolName := splitNamespaced(fullName)
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input map[string]any) (*mcpsdk.CallToolResult, map[string]any, error) {
		ev, err := s.proxy.Call(ctx, principal, toolName, childToolName, input)
		if err != nil {
			return nil, nil, err
		}
		return &mcpsdk.CallToolResult{Content: ev.Content, IsError: ev.IsError}, ev.StructData, nil
	}
}

// splitNamespaced splits "tool_name.child_tool" on its first dot; a bare
// name with no child (a tool that is itself the invocable unit) returns
// an empty child segment.
func splitNamespaced(name string) (toolName, childToolName string) {
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return name, ""
}

// handleMCP serves the primary Streamable HTTP transport at POST /mcp.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	s.mcpHandler.ServeHTTP(w, r)
}

// --- Legacy HTTP+SSE fallback transport (GET /mcp/sse) ---
//
// Some older MCP clients only speak the pre-Streamable-HTTP transport:
// the server opens an SSE stream, immediately announces a companion
// "message" endpoint via an `event: endpoint` frame, and pushes JSON-RPC
// responses back over that same SSE stream as the client POSTs requests
// to the companion endpoint. There is no server-side implementation of
// this transport available to adapt, so it is hand-rolled here directly
// against net/http's flusher, following the wire shape of the original
// MCP HTTP+SSE spec.

type sseSession struct {
	ch        chan []byte
	principal auth.Principal
}

func (s *Server) handleMCPSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httperr.WriteJSON(w, httperr.NewInternal("streaming unsupported", nil))
		return
	}
	sess, authed := auth.AuthSessionFrom(r.Context())
	if !authed {
		httperr.WriteJSON(w, httperr.NewUnauthenticated("no session"))
		return
	}

	sessionID := newSessionID()
	sseSess := &sseSession{ch: make(chan []byte, 32), principal: s.agentScopedPrincipal(r, sess.Principal())}

	s.sseMu.Lock()
	s.sseSessions[sessionID] = sseSess
	s.sseMu.Unlock()
	defer func() {
		s.sseMu.Lock()
		delete(s.sseSessions, sessionID)
		s.sseMu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpoint := s.sseMessageBaseURL + "/" + sessionID + "/message"
	_, _ = w.Write([]byte("event: endpoint\ndata: " + endpoint + "\n\n"))
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-sseSess.ch:
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(frame)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-keepalive.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		}
	}
}

// jsonRPCRequest and jsonRPCResponse are the minimal envelope this
// fallback transport needs; the real method dispatch below only covers
// tools/list and tools/call, the two operations the Hub's namespaced
// tool set actually exposes over this legacy path.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// handleMCPSSEMessage is the companion POST endpoint the endpoint event
// announced. It decodes one JSON-RPC frame, dispatches it through the
// Proxy, and pushes the response back asynchronously over the matching
// SSE stream rather than in this request's own response body.
func (s *Server) handleMCPSSEMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := s.pathVar(r, "session_id")

	s.sseMu.Lock()
	sess, ok := s.sseSessions[sessionID]
	s.sseMu.Unlock()
	if !ok {
		httperr.WriteJSON(w, httperr.NewNotFound("unknown sse session"))
		return
	}

	var req jsonRPCRequest
	if err := decodeJSON(r, &req); err != nil {
		httperr.WriteJSON(w, err)
		return
	}

	go s.dispatchSSERequest(r.Context(), sess, req)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) dispatchSSERequest(ctx context.Context, sess *sseSession, req jsonRPCRequest) {
	resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "tools/list":
		tools, err := s.proxy.ListTools(ctx, sess.principal)
		if err != nil {
			resp.Error = &jsonRPCError{Code: -32000, Message: err.Error()}
		} else {
			resp.Result = map[string]any{"tools": tools}
		}
	case "tools/call":
		var params toolsCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &jsonRPCError{Code: -32602, Message: "invalid params"}
		} else {
			toolName, childToolName := splitNamespaced(params.Name)
			ev, err := s.proxy.Call(ctx, sess.principal, toolName, childToolName, params.Arguments)
			if err != nil {
				resp.Error = &jsonRPCError{Code: -32000, Message: err.Error()}
			} else {
				resp.Result = map[string]any{"content": ev.Content, "isError": ev.IsError}
			}
		}
	default:
		resp.Error = &jsonRPCError{Code: -32601, Message: "method not found"}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	select {
	case sess.ch <- payload:
	default:
	}
}

func newSessionID() string {
	return uuid.NewString()
}
