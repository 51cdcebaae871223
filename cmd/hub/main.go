// Command hub runs the MCP Hub server: the multi-tenant front door that
// brokers a user's configured tools to MCP clients over a single
// endpoint, regardless of how many real tool servers sit behind it.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/namastexlabs/mcp-hub/internal/activation"
	"github.com/namastexlabs/mcp-hub/internal/audit"
	"github.com/namastexlabs/mcp-hub/internal/configstore"
	"github.com/namastexlabs/mcp-hub/internal/crypto"
	"github.com/namastexlabs/mcp-hub/internal/discovery"
	"github.com/namastexlabs/mcp-hub/internal/envreg"
	"github.com/namastexlabs/mcp-hub/internal/httpserver"
	"github.com/namastexlabs/mcp-hub/internal/identity"
	"github.com/namastexlabs/mcp-hub/internal/mode"
	"github.com/namastexlabs/mcp-hub/internal/permissions"
	"github.com/namastexlabs/mcp-hub/internal/proxy"
	"github.com/namastexlabs/mcp-hub/internal/registry"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/internal/tenancy"
	"github.com/namastexlabs/mcp-hub/internal/vault"
)

// version is stamped at build time via -ldflags; "dev" is the fallback
// for a local `go run`.
var version = "dev"

func setupLogger(logLevel string) (logr.Logger, *zap.Logger) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(logLevel)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := cfg.Build()
	if err != nil {
		dev := zap.NewDevelopmentConfig()
		dev.Level = zap.NewAtomicLevelAt(zapLevel)
		zapLogger, _ = dev.Build()
	}
	return zapr.NewLogger(zapLogger), zapLogger
}

func main() {
	root := &cobra.Command{
		Use:   "hub",
		Short: "mcp-hub is a multi-tenant Model Context Protocol front door",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(runOpts{
				host:         viper.GetString("host"),
				port:         viper.GetInt("port"),
				databasePath: viper.GetString("database-path"),
				databaseURL:  viper.GetString("database-url"),
				toolsDir:     viper.GetString("tools-dir"),
				hubBaseURL:   viper.GetString("hub-base-url"),
				logLevel:     viper.GetString("log-level"),
			})
		},
	}

	flags := root.Flags()
	flags.String("host", envreg.BindHost.Get(), "bind host")
	flags.Int("port", envreg.BindPort.Get(), "bind port")
	flags.String("database-path", envreg.DatabasePath.Get(), "sqlite database file path")
	flags.String("database-url", envreg.DatabaseURL.Get(), "postgres connection URL; overrides --database-path when set")
	flags.String("tools-dir", "./tools", "directory scanned for tool.json descriptors")
	flags.String("hub-base-url", "http://localhost:8787", "externally reachable base URL, used for OAuth redirect URIs")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	// viper layers HUB_-prefixed environment variables over these flags, so
	// an operator can override any of them without touching the command
	// line (e.g. HUB_PORT=9000), on top of envreg's own bootstrap defaults.
	_ = viper.BindPFlags(flags)
	viper.SetEnvPrefix("HUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type runOpts struct {
	host, databasePath, databaseURL, toolsDir, hubBaseURL, logLevel string
	port                                                            int
}

func run(opts runOpts) error {
	log, zapLogger := setupLogger(opts.logLevel)
	defer func() { _ = zapLogger.Sync() }()

	if _, err := maxprocs.Set(maxprocs.Logger(func(f string, a ...any) { log.V(1).Info(fmt.Sprintf(f, a...)) })); err != nil {
		log.Error(err, "failed to set GOMAXPROCS from cgroup limits")
	}

	dbCfg := &store.Config{
		DatabaseType: store.DatabaseTypeSqlite,
		SqlitePath:   opts.databasePath,
		ScanPoolSize: 4,
	}
	if opts.databaseURL != "" {
		dbCfg.DatabaseType = store.DatabaseTypePostgres
		dbCfg.PostgresURL = opts.databaseURL
	}
	db, err := store.NewManager(dbCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	modeMgrBoot := mode.New(db, nil, nil)
	if err := modeMgrBoot.EnsureBootstrapped(crypto.NewSalt); err != nil {
		return fmt.Errorf("bootstrap system config: %w", err)
	}
	sysCfg, err := db.GetSystemConfig()
	if err != nil {
		return fmt.Errorf("load system config: %w", err)
	}
	sealer, err := crypto.NewSealer(sysCfg.EncryptionSalt)
	if err != nil {
		return fmt.Errorf("init sealer: %w", err)
	}

	cfg := configstore.New(db, sealer)

	sessionStore := identity.NewSessionStore(24 * time.Hour)
	stateStore := identity.NewStateStore(10 * time.Minute)
	localAuth := identity.NewLocalAuthenticator(db)
	workosAuth := identity.NewWorkOSAuthenticator(cfg, db, stateStore, sessionStore)
	modeMgr := mode.New(db, cfg, workosAuth)
	dispatchAuth := identity.NewModeAwareAuthenticator(modeMgr, localAuth, workosAuth)

	tenancyResolver := tenancy.New(db)
	checker := permissions.New(db)

	reg := registry.New(db, log)
	if err := reg.Refresh(opts.toolsDir); err != nil {
		log.Error(err, "tool descriptor scan had errors; continuing with what loaded", "tools_dir", opts.toolsDir)
	}

	auditLog := audit.NewLogger(db, 256, log)
	localAuth.SetAuditor(auditLog)
	workosAuth.SetAuditor(auditLog)

	providers := vault.StaticProviderRegistry{}
	v := vault.New(db, sealer, providers)
	v.SetAuditor(auditLog)

	activationMgr := activation.New(db, reg, v, sealer)
	activationMgr.SetAuditor(auditLog)

	sessionCache := proxy.NewSessionCache(
		envreg.ProxySessionCeiling.Get()*64,
		envreg.ProxySessionCeiling.Get(),
		envreg.ProxySessionIdleTTL.Get(),
	)
	inProcessTools := proxy.StaticInProcessRegistry{}
	toolProxy := proxy.New(db, reg, v, sealer, checker, sessionCache, inProcessTools, auditLog)

	discoveryMgr := discovery.NewManager(db, envreg.DiscoveryScanDepth.Get(), envreg.DiscoveryDebounce.Get(), log)
	if err := discoveryMgr.StartWatching(func(projectID, agentPath string) {
		log.V(1).Info("agent file changed", "project_id", projectID, "agent_path", agentPath)
	}); err != nil {
		log.Error(err, "failed to start discovery watcher")
	}
	defer discoveryMgr.StopWatching()

	srv := httpserver.New(httpserver.Deps{
		DB: db, ModeMgr: modeMgr, Tenancy: tenancyResolver, AuthProvider: dispatchAuth,
		Activation: activationMgr, Vault: v, Proxy: toolProxy, Discovery: discoveryMgr,
		AuditLog: auditLog, Local: localAuth, WorkOS: workosAuth,
		Log: log, Version: version, HubBaseURL: opts.hubBaseURL,
	})

	addr := opts.host + ":" + strconv.Itoa(opts.port)
	log.Info("starting mcp-hub", "addr", addr, "version", version)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
