// Package db opens the Junction store and migrates its schema.
package db

import (
	"fmt"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/junction/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteParams make concurrent writers wait for the lock instead of failing.
const sqliteParams = "_busy_timeout=5000&_journal_mode=WAL"

// DSN builds a MySQL-compatible DSN (MySQL or a Dolt sql-server).
func DSN(host string, port int, user, database string) string {
	c := gomysql.NewConfig()
	c.User = user
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", host, port)
	c.DBName = database
	c.ParseTime = true
	return c.FormatDSN()
}

// SQLiteDSN appends connection parameters to a SQLite path. In-memory
// databases are returned unchanged.
func SQLiteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?" + sqliteParams
}

// Open connects to the store selected by cfg.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "mysql":
		return Connect(cfg.Host, cfg.Port, cfg.User, cfg.Name)
	case "sqlite", "":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// Connect opens a GORM connection to a MySQL-compatible server.
func Connect(host string, port int, user, database string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(DSN(host, port, user, database)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return db, nil
}

// OpenSQLite opens an embedded SQLite store. The pool is capped at one
// connection so writers queue inside database/sql rather than racing for
// the file lock, and so ":memory:" databases are shared by every caller.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: sqlite path is required")
	}
	db, err := gorm.Open(sqlite.Open(SQLiteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
