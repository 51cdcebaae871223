// Package httpserver implements C13, the MCP Front Door: the sole HTTP
// surface of the Hub, composing every other component behind a route
// table and an ordered middleware chain (spec §4.13).
package httpserver

import (
	"net/http"
	"sync"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/namastexlabs/mcp-hub/internal/activation"
	"github.com/namastexlabs/mcp-hub/internal/audit"
	"github.com/namastexlabs/mcp-hub/internal/discovery"
	"github.com/namastexlabs/mcp-hub/internal/identity"
	"github.com/namastexlabs/mcp-hub/internal/mode"
	"github.com/namastexlabs/mcp-hub/internal/proxy"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/internal/tenancy"
	"github.com/namastexlabs/mcp-hub/internal/vault"
	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

// Server wires every Hub component into the HTTP surface. Field names
// mirror the component list in SPEC_FULL.md's DOMAIN STACK.
type Server struct {
	db           *store.Manager
	modeMgr      *mode.Manager
	tenancy      *tenancy.Resolver
	authProvider auth.AuthProvider
	activation   *activation.Manager
	vault        *vault.Vault
	proxy        *proxy.Proxy
	discovery    *discovery.Manager
	auditLog     *audit.Logger

	local  *identity.LocalAuthenticator
	workos *identity.WorkOSAuthenticator

	log       logr.Logger
	version   string
	staticDir string
	hubBaseURL string

	mcpHandler *mcpsdk.StreamableHTTPHandler

	sseMu             sync.Mutex
	sseSessions       map[string]*sseSession
	sseMessageBaseURL string
}

// Deps bundles every dependency Server needs, so New's signature doesn't
// grow unreadable as components are added.
type Deps struct {
	DB           *store.Manager
	ModeMgr      *mode.Manager
	Tenancy      *tenancy.Resolver
	AuthProvider auth.AuthProvider
	Activation   *activation.Manager
	Vault        *vault.Vault
	Proxy        *proxy.Proxy
	Discovery    *discovery.Manager
	AuditLog     *audit.Logger
	Local        *identity.LocalAuthenticator
	WorkOS       *identity.WorkOSAuthenticator
	Log          logr.Logger
	Version      string
	StaticDir    string
	HubBaseURL   string
}

func New(d Deps) *Server {
	s := &Server{
		db: d.DB, modeMgr: d.ModeMgr, tenancy: d.Tenancy, authProvider: d.AuthProvider,
		activation: d.Activation, vault: d.Vault,
		proxy: d.Proxy, discovery: d.Discovery, auditLog: d.AuditLog,
		local: d.Local, workos: d.WorkOS,
		log: d.Log.WithName("httpserver"), version: d.Version, staticDir: d.StaticDir,
		hubBaseURL: d.HubBaseURL,
		sseSessions: make(map[string]*sseSession),
	}
	s.sseMessageBaseURL = s.hubBaseURL + "/mcp/sse"
	s.mcpHandler = mcpsdk.NewStreamableHTTPHandler(s.newMCPServerForRequest, nil)
	return s
}

func (s *Server) pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// Router assembles the full route table. Middleware is applied per
// subrouter rather than globally: /health and /api/setup/* must work
// before any mode is configured, and /api/auth/* needs the mode gate
// but not the authenticator — logging in is how a caller becomes
// authenticated in the first place (spec §4.13 ordering).
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, s.accessLogMiddleware, metricsMiddleware)

	r.Handle("/metrics", metricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	setup := r.PathPrefix("/api/setup").Subrouter()
	setup.HandleFunc("/status", s.handleSetupStatus).Methods(http.MethodGet)
	setup.HandleFunc("/local", s.handleSetupLocal).Methods(http.MethodPost)
	setup.HandleFunc("/workos", s.handleSetupWorkOS).Methods(http.MethodPost)
	setup.HandleFunc("/upgrade-to-workos", s.handleUpgradeToWorkOS).Methods(http.MethodPost)

	authGroup := r.PathPrefix("/api/auth").Subrouter()
	authGroup.Use(s.modeGateMiddleware)
	authGroup.HandleFunc("/authorize", s.handleAuthAuthorize).Methods(http.MethodGet)
	authGroup.HandleFunc("/callback", s.handleAuthCallback).Methods(http.MethodPost)
	authGroup.HandleFunc("/logout", s.handleAuthLogout).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.modeGateMiddleware, s.authMiddleware, s.workspaceMiddleware, csrfMiddleware)

	protected.HandleFunc("/mcp", s.handleMCP)
	protected.HandleFunc("/mcp/sse", s.handleMCPSSE).Methods(http.MethodGet)
	protected.HandleFunc("/mcp/sse/{session_id}/message", s.handleMCPSSEMessage).Methods(http.MethodPost)

	protected.HandleFunc("/api/catalogue", s.handleListCatalogue).Methods(http.MethodGet)

	protected.HandleFunc("/api/tools", s.handleListActiveTools).Methods(http.MethodGet)
	protected.HandleFunc("/api/tools", s.handleActivateTool).Methods(http.MethodPost)
	protected.HandleFunc("/api/tools/{tool_name}", s.handleDeactivateTool).Methods(http.MethodDelete)
	protected.HandleFunc("/api/tools/{tool_name}/config", s.handleGetToolConfig).Methods(http.MethodGet)
	protected.HandleFunc("/api/tools/{tool_name}/config", s.handlePutToolConfig).Methods(http.MethodPut)

	protected.HandleFunc("/api/credentials/api-key", s.handlePutAPIKey).Methods(http.MethodPost)
	protected.HandleFunc("/api/credentials/oauth/start", s.handleStartOAuth).Methods(http.MethodPost)
	protected.HandleFunc("/api/credentials/oauth/callback", s.handleOAuthCallback).Methods(http.MethodPost)
	protected.HandleFunc("/api/credentials/{provider}", s.handleRevokeCredential).Methods(http.MethodDelete)

	protected.HandleFunc("/api/workspace", s.handleGetWorkspace).Methods(http.MethodGet)
	protected.HandleFunc("/api/workspace/users", s.handleListUsers).Methods(http.MethodGet)
	protected.HandleFunc("/api/audit-logs", s.handleListAuditLogs).Methods(http.MethodGet)
	protected.HandleFunc("/api/admin/users/{id}/super-admin", s.handleSetSuperAdmin).Methods(http.MethodPut)

	protected.HandleFunc("/api/discovery/base-folders", s.handleListBaseFolders).Methods(http.MethodGet)
	protected.HandleFunc("/api/discovery/base-folders", s.handleCreateBaseFolder).Methods(http.MethodPost)
	protected.HandleFunc("/api/discovery/projects", s.handleListProjects).Methods(http.MethodGet)
	protected.HandleFunc("/api/discovery/projects/{id}/sync", s.handleSyncProject).Methods(http.MethodPost)
	protected.HandleFunc("/api/discovery/agents/{id}/toolkit", s.handleGetAgentToolkit).Methods(http.MethodGet)
	protected.HandleFunc("/api/discovery/agents/{id}/toolkit", s.handlePutAgentToolkit).Methods(http.MethodPut)

	if s.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}

	return r
}

// Handler wraps the route table with OpenTelemetry HTTP instrumentation,
// the ambient tracing layer carried regardless of the spec's explicit
// Non-goals around observability (SPEC_FULL.md DOMAIN STACK).
func (s *Server) Handler() http.Handler {
	return otelWrap(s.Router())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "version": s.version})
}
