package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"queue-sync/src/logger"
	"queue-sync/src/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	reservationTable

	Config *models.MConfig
	DB     *sqlx.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	// Schema is named after the executable so several tools can share a database
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresDB{
		Config: cfg,
		Schema: schemaName(name),
		Logger: log,
	}, nil
}

// schemaName keeps [a-z0-9_] so the name can be quoted safely.
func schemaName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "queue_sync"
	}
	return b.String()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	d.DB = db
	d.reservationTable = reservationTable{db: db, table: fmt.Sprintf(`"%s"."reservations"`, d.Schema)}

	// Create Schema
	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			booking_id TEXT NOT NULL DEFAULT '',
			business_id TEXT NOT NULL,
			queue_id TEXT NOT NULL,
			queue_name TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			service_ids TEXT NOT NULL DEFAULT '',
			token_number TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0,
			wait_minutes INTEGER NOT NULL DEFAULT 0,
			estimated_time TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			conflict BOOLEAN NOT NULL DEFAULT FALSE,
			message TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		);
	`, d.table)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create reservations: %w", err)
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_reservations_business_created ON %s (business_id, created_at)`, d.table)
	if _, err := d.DB.Exec(index); err != nil {
		return fmt.Errorf("failed to create reservations index: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
