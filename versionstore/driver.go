package versionstore

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/alexjoedt/blobvault/filter"
)

// DriverName is the database/sql driver registered by this package: SQLite
// with a regexp() function backing the REGEXP operator.
const DriverName = "sqlite3_blobvault"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", filter.MatchRegexp, true)
		},
	})
}

// DefaultBusyTimeout is the SQLite busy timeout in milliseconds.
const DefaultBusyTimeout = 5000

// Open opens (creating if needed) the SQLite metadata database at path.
func Open(path string, logger *zap.Logger) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn = fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL", path, DefaultBusyTimeout)
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: DriverName,
		DSN:        dsn,
	}), &gorm.Config{
		Logger: NewGormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w: %w", ErrBackendUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w: %w", ErrBackendUnavailable, err)
	}
	// SQLite allows one writer; a single connection serializes access
	// instead of surfacing SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}
