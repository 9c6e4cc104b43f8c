package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"sync"

	"price-tracker/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// catalogName restricts catalog identifiers to safe postgres schema names.
var catalogName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

var ErrInvalidCatalog = fmt.Errorf("catalog name must match %s", catalogName.String())

// Manager owns the connection to the current catalog store. Each catalog is
// a postgres schema holding its own products and price_history tables, so
// catalogs can be switched at runtime without touching each other's data.
// Switching closes the previous connection before the new one is used.
type Manager struct {
	cfg           config.DatabaseConfig
	migrationsDir string
	logger        *zap.Logger

	mu      sync.Mutex
	db      *sql.DB
	catalog string
}

// NewManager creates a manager without opening a connection. Call Open next.
func NewManager(cfg config.DatabaseConfig, migrationsDir string, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:           cfg,
		migrationsDir: migrationsDir,
		logger:        logger,
	}
}

// Open connects to the catalog configured as the default schema and ensures
// its tables exist.
func (m *Manager) Open(ctx context.Context) error {
	return m.Switch(ctx, m.cfg.Schema)
}

// Switch closes the current catalog connection, opens one pinned to the
// named catalog schema, creates the schema if absent and runs migrations.
// On failure the manager is left without an open catalog.
func (m *Manager) Switch(ctx context.Context, catalog string) error {
	if !catalogName.MatchString(catalog) {
		return ErrInvalidCatalog
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Warn("Failed to close previous catalog connection",
				zap.String("catalog", m.catalog), zap.Error(err))
		}
		m.db = nil
		m.catalog = ""
	}

	db, err := sql.Open("pgx", m.dsn(catalog))
	if err != nil {
		return fmt.Errorf("failed to open catalog %s: %w", catalog, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping catalog %s: %w", catalog, err)
	}

	// The schema name already matched catalogName, quoting it is safe.
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, catalog)); err != nil {
		db.Close()
		return fmt.Errorf("failed to create catalog schema %s: %w", catalog, err)
	}

	if err := RunMigrations(db, m.migrationsDir, m.logger); err != nil {
		db.Close()
		return fmt.Errorf("failed to ensure schema for catalog %s: %w", catalog, err)
	}

	m.db = db
	m.catalog = catalog
	m.logger.Info("Catalog store ready", zap.String("catalog", catalog))
	return nil
}

// DB returns the connection of the currently selected catalog, or nil when
// no catalog is open.
func (m *Manager) DB() *sql.DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

// Catalog returns the name of the currently selected catalog.
func (m *Manager) Catalog() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalog
}

// ListCatalogs returns the selectable catalog schemas in the database.
func (m *Manager) ListCatalogs(ctx context.Context) ([]string, error) {
	db := m.DB()
	if db == nil {
		return nil, fmt.Errorf("no catalog store is open")
	}

	rows, err := db.QueryContext(ctx, `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('information_schema')
		  AND schema_name NOT LIKE 'pg_%'
		ORDER BY schema_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalogs: %w", err)
	}
	defer rows.Close()

	var catalogs []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan catalog name: %w", err)
		}
		catalogs = append(catalogs, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalogs: %w", err)
	}

	return catalogs, nil
}

// Close closes the current catalog connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	m.catalog = ""
	return err
}

func (m *Manager) dsn(catalog string) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(m.cfg.User, m.cfg.Password),
		Host:   m.cfg.Host + ":" + m.cfg.Port,
		Path:   "/" + m.cfg.Database,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	q.Set("search_path", catalog)
	u.RawQuery = q.Encode()
	return u.String()
}
