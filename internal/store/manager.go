package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	gsqlite "github.com/glebarez/sqlite"
	migratelib "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemig "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	pg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DatabaseType selects the backend, mirroring the teacher's DatabaseType
// switch in internal/database/manager.go.
type DatabaseType string

const (
	DatabaseTypeSqlite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

type Config struct {
	DatabaseType DatabaseType
	SqlitePath   string
	PostgresURL  string
	// ScanPoolSize bounds concurrent discovery scans (spec §4.2, §5) so
	// they never starve the request-serving connection pool.
	ScanPoolSize int
}

// Manager owns the GORM handle plus a scan semaphore kept strictly
// separate from the request-serving pool (spec §4.2, §5 "Shared resources").
type Manager struct {
	db        *gorm.DB
	config    *Config
	initLock  sync.Mutex
	scanSlots chan struct{}
}

// NewManager opens the configured backend, runs pending migrations, and
// returns a ready Manager. Migrations are versioned and forward-only
// (golang-migrate), never AutoMigrate — re-running is idempotent because
// migrate tracks the applied version and refuses to replay it.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.ScanPoolSize <= 0 {
		cfg.ScanPoolSize = 4
	}

	var db *gorm.DB
	var sqlDB *sql.DB
	var err error

	switch cfg.DatabaseType {
	case DatabaseTypeSqlite:
		sqlDB, err = sql.Open("sqlite", cfg.SqlitePath)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		sqlDB.SetMaxOpenConns(1) // glebarez/sqlite is single-writer
		db, err = gorm.Open(gsqlite.Dialector{Conn: sqlDB}, &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
	case DatabaseTypePostgres:
		db, err = gorm.Open(pg.Open(cfg.PostgresURL), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		if err == nil {
			sqlDB, err = db.DB()
		}
	default:
		return nil, fmt.Errorf("store: invalid database type %q", cfg.DatabaseType)
	}
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := migrate(sqlDB, cfg.DatabaseType); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Manager{
		db:        db,
		config:    cfg,
		scanSlots: make(chan struct{}, cfg.ScanPoolSize),
	}, nil
}

func migrate(sqlDB *sql.DB, dbType DatabaseType) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}

	var driver interface {
		Close() error
	}
	var m *migratelib.Migrate
	switch dbType {
	case DatabaseTypeSqlite:
		d, derr := sqlitemig.WithInstance(sqlDB, &sqlitemig.Config{})
		if derr != nil {
			return derr
		}
		driver = d
		m, err = migratelib.NewWithInstance("iofs", src, "sqlite", d)
	case DatabaseTypePostgres:
		d, derr := postgres.WithInstance(sqlDB, &postgres.Config{})
		if derr != nil {
			return derr
		}
		driver = d
		m, err = migratelib.NewWithInstance("iofs", src, "postgres", d)
	}
	if err != nil {
		return err
	}
	defer driver.Close()

	if err := m.Up(); err != nil && err != migratelib.ErrNoChange {
		return err
	}
	return nil
}

// DB exposes the underlying handle for package-local query files.
func (m *Manager) DB() *gorm.DB { return m.db }

// AcquireScanSlot blocks until a scan slot is free, bounding concurrent
// filesystem discovery scans (C12) independent of the DB connection pool.
func (m *Manager) AcquireScanSlot() func() {
	m.scanSlots <- struct{}{}
	return func() { <-m.scanSlots }
}

// Close releases the underlying connection.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
