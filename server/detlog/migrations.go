package detlog

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/livetrack/pkg/dbh"
	"github.com/cyclopcam/logs"
)

// Migrations of the detection log database. Only ever append to this list.
func Migrations(log logs.Log, driver string) []migration.Migrator {
	primaryKey := "INTEGER PRIMARY KEY"
	if driver == dbh.DriverPostgres {
		primaryKey = "BIGSERIAL PRIMARY KEY"
	}

	return dbh.MakeMigrations(log, []string{
		`
		CREATE TABLE detection_record(
			id ` + primaryKey + `,
			timestamp BIGINT NOT NULL,
			session_id TEXT NOT NULL,
			frame_index BIGINT NOT NULL,
			detection_count INT NOT NULL,
			track_count INT NOT NULL
		);
		CREATE INDEX idx_detection_record_session_id ON detection_record(session_id);
		`,
	})
}
