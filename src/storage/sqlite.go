package storage

import (
	"queue-sync/src/logger"
	"queue-sync/src/models"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	reservationTable

	Config *models.MConfig
	DB     *sqlx.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath

	sqlx.BindDriver("sqlite", sqlx.QUESTION)

	// Open DB
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	// one writer; also keeps ":memory:" on a single database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	d.DB = db
	d.reservationTable = reservationTable{db: db, table: "reservations"}

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("SQLite journal ready at %s", dsn)
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	// SQLite types: INTEGER for int64 and bool, TEXT for string
	query := `
		CREATE TABLE IF NOT EXISTS reservations (
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
			conflict INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return err
	}

	_, err := d.DB.Exec(`CREATE INDEX IF NOT EXISTS idx_reservations_business_created ON reservations (business_id, created_at)`)
	return err
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
