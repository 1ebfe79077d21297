// Package dbh opens SQL databases through gorm, after bringing their schema up
// to date with plain SQL migrations.
package dbh

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/logs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DBConnectFlags are flags passed to OpenDB.
type DBConnectFlags int

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite3"
)

const (
	// DBConnectFlagWipeDB erases all tables before running the migrations
	DBConnectFlagWipeDB DBConnectFlags = 1 << iota
)

// Matches errors such as: pq: database "testx" does not exist
// A plain "does not exist" is not enough, because a broken migration can
// produce that too (eg a missing column).
var dbNotExistRegex = regexp.MustCompile(`database "[^"]+" does not exist`)

// DBConfig is the "db" section of our JSON config file.
type DBConfig struct {
	Driver      string `json:"driver"`   // "sqlite3" or "postgres"
	Database    string `json:"database"` // Filename for sqlite, database name for postgres
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	SSLCert     string `json:"sslCert"`
	SSLKey      string `json:"sslKey"`
	SSLRootCert string `json:"sslRootCert"`
}

func MakeSqliteConfig(filename string) DBConfig {
	return DBConfig{
		Driver:   DriverSqlite,
		Database: filename,
	}
}

// Validate returns an error if the driver is unknown, or the database name is missing
func (db *DBConfig) Validate() error {
	if db.Driver != DriverSqlite && db.Driver != DriverPostgres {
		return fmt.Errorf("Unsupported database driver '%v' (must be %v or %v)", db.Driver, DriverSqlite, DriverPostgres)
	}
	if db.Database == "" {
		return errors.New("Database name may not be empty")
	}
	return nil
}

// LogSafeDescription describes the connection without the password
func (db *DBConfig) LogSafeDescription() string {
	if db.Driver == DriverSqlite {
		return fmt.Sprintf("sqlite %v", db.Database)
	}
	desc := fmt.Sprintf("postgres host=%v database=%v username=%v", db.Host, db.Database, db.Username)
	if db.Port != 0 {
		desc += fmt.Sprintf(" port=%v", db.Port)
	}
	return desc
}

// DSN returns the connection string for database/sql and gorm
func (db *DBConfig) DSN() string {
	if db.Driver == DriverSqlite {
		return db.Database
	}
	parts := []string{
		"host=" + quoteDSNValue(db.Host),
		"user=" + quoteDSNValue(db.Username),
		"password=" + quoteDSNValue(db.Password),
		"dbname=" + quoteDSNValue(db.Database),
	}
	if db.Port != 0 {
		parts = append(parts, fmt.Sprintf("port=%v", db.Port))
	}
	if db.SSLKey != "" {
		parts = append(parts, "sslmode=require",
			"sslcert="+quoteDSNValue(db.SSLCert),
			"sslkey="+quoteDSNValue(db.SSLKey),
			"sslrootcert="+quoteDSNValue(db.SSLRootCert))
	} else {
		parts = append(parts, "sslmode=disable")
	}
	return strings.Join(parts, " ")
}

// Quote a value for a postgres key=value connection string
func quoteDSNValue(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " '\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// MakeMigrations turns a list of SQL scripts into migrations, numbered from 1
func MakeMigrations(log logs.Log, scripts []string) []migration.Migrator {
	migs := make([]migration.Migrator, 0, len(scripts))
	for i, script := range scripts {
		migs = append(migs, sqlMigration(log, i+1, script))
	}
	return migs
}

func sqlMigration(log logs.Log, number int, script string) migration.Migrator {
	return func(tx migration.LimitedTx) error {
		log.Infof("Running migration %v: '%v...'", number, migrationSummary(script))
		_, err := tx.Exec(script)
		return err
	}
}

// The first line of an SQL script, up to 40 characters
func migrationSummary(script string) string {
	s := strings.TrimSpace(script)
	if i := strings.IndexAny(s, "\r\n"); i != -1 {
		s = s[:i]
	}
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}

// OpenDB opens the database, creating it if necessary, and runs all outstanding migrations.
func OpenDB(log logs.Log, dbc DBConfig, migrations []migration.Migrator, flags DBConnectFlags) (*gorm.DB, error) {
	if flags&DBConnectFlagWipeDB != 0 {
		if err := DropAllTables(log, dbc); err != nil {
			return nil, err
		}
	}

	err := migrate(dbc, migrations)
	if isDatabaseNotExist(err) {
		log.Infof("Creating database %v", dbc.Database)
		if err := createDB(dbc); err != nil {
			return nil, fmt.Errorf("While trying to create database '%v': %w", dbc.Database, err)
		}
		err = migrate(dbc, migrations)
	}
	if err != nil {
		return nil, err
	}
	return gormOpen(log, dbc)
}

func migrate(dbc DBConfig, migrations []migration.Migrator) error {
	db, err := migration.Open(dbc.Driver, dbc.DSN(), migrations)
	if err != nil {
		return err
	}
	return db.Close()
}

// Sqlite creates its database file on demand, so this is only needed for postgres.
// We connect to the built-in 'postgres' database in order to create the new one.
func createDB(dbc DBConfig) error {
	admin := dbc
	admin.Database = "postgres"
	db, err := sql.Open(dbc.Driver, admin.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec("CREATE DATABASE " + dbc.Database)
	return err
}

// DropAllTables deletes all tables in the database.
// For sqlite, the database file is deleted.
// If the database does not exist, returns nil.
// This is intended for unit tests and for starting afresh.
func DropAllTables(log logs.Log, dbc DBConfig) error {
	switch dbc.Driver {
	case DriverSqlite:
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbc.Database + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
		return nil
	case DriverPostgres:
		gdb, err := gormOpen(log, dbc)
		if err == nil {
			// gorm connects lazily, so force a connection now
			err = gdb.Exec("SELECT 1").Error
		}
		if isDatabaseNotExist(err) {
			return nil
		} else if err != nil {
			return err
		}
		defer closeGorm(gdb)
		log.Warnf("Erasing entire DB '%v'", dbc.Database)
		tables, err := gdb.Migrator().GetTables()
		if err != nil {
			return err
		}
		for _, table := range tables {
			if err := gdb.Exec(fmt.Sprintf(`DROP TABLE "%v" CASCADE`, table)).Error; err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("DropAllTables not supported on %v", dbc.Driver)
}

func closeGorm(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
	}
}

// gormLogWriter sends gorm's warnings (slow queries, errors) into our own log
type gormLogWriter struct {
	log logs.Log
}

func (w gormLogWriter) Printf(format string, args ...any) {
	w.log.Warnf(format, args...)
}

func gormOpen(log logs.Log, dbc DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbc.Driver {
	case DriverPostgres:
		dialector = postgres.Open(dbc.DSN())
	case DriverSqlite:
		dialector = sqlite.Open(dbc.DSN())
	default:
		return nil, fmt.Errorf("Unsupported database driver '%v'", dbc.Driver)
	}

	gormLogger := logger.New(gormLogWriter{log}, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	return gorm.Open(dialector, &gorm.Config{
		// Our tables are created by SQL migrations, so gorm must not pluralize their names
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		Logger:         gormLogger,
	})
}

func isDatabaseNotExist(err error) bool {
	return err != nil && dbNotExistRegex.MatchString(err.Error())
}
