package envreg

import "time"

// Environment variables read on every start, not only the first one.
// BindHost, BindPort, DatabasePath and DatabaseURL supply the defaults of
// cmd/hub's --host, --port, --database-path and --database-url flags; the
// discovery and proxy variables are read when those components are built.
// None of these values is persisted to SystemConfig or ConfigEntry.
var (
	BindHost = RegisterStringVar("HUB_BIND_HOST", "127.0.0.1", "default HTTP bind host", ComponentBootstrap)
	BindPort = RegisterIntVar("HUB_BIND_PORT", 8787, "default HTTP bind port", ComponentBootstrap)

	DatabasePath = RegisterStringVar("HUB_DATABASE_PATH", "hub.db", "sqlite database file path", ComponentStore)
	DatabaseURL  = RegisterStringVar("HUB_DATABASE_URL", "", "postgres connection URL; when set, selects the postgres backend", ComponentStore)

	DiscoveryScanDepth   = RegisterIntVar("HUB_DISCOVERY_SCAN_DEPTH", 12, "max directory traversal depth per base folder", ComponentDiscovery)
	DiscoveryDebounce    = RegisterDurationVar("HUB_DISCOVERY_DEBOUNCE", 500*time.Millisecond, "filesystem watch debounce window", ComponentDiscovery)
	DiscoveryScanTimeout = RegisterDurationVar("HUB_DISCOVERY_SCAN_TIMEOUT", 30*time.Second, "timeout for scanning one base folder", ComponentDiscovery)

	ProxySessionIdleTTL = RegisterDurationVar("HUB_PROXY_SESSION_IDLE_TTL", 10*time.Minute, "idle TTL for cached child tool sessions", ComponentProxy)
	ProxySessionCeiling = RegisterIntVar("HUB_PROXY_SESSION_CEILING", 20, "max concurrent child sessions per user", ComponentProxy)
)
