package dbh

import (
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestDBNotExist(t *testing.T) {
	require.False(t, isDatabaseNotExist(nil))
	require.False(t, isDatabaseNotExist(errors.New(`does not exist`)))
	require.True(t, isDatabaseNotExist(errors.New(`pq: database "foobar" does not exist`)))
	require.False(t, isDatabaseNotExist(errors.New(`table "foobar" does not exist`)))
	require.False(t, isDatabaseNotExist(errors.New(`"foobar" does not exist`)))
}

func TestMigrationSummary(t *testing.T) {
	require.Equal(t, "CREATE TABLE a(", migrationSummary("\n\t\tCREATE TABLE a(\n id INT);"))
	require.Equal(t, "SELECT 1", migrationSummary("SELECT 1"))
	require.Len(t, migrationSummary(strings.Repeat("x", 100)), 40)
}

func TestDBConfig(t *testing.T) {
	c := MakeSqliteConfig("x.sqlite")
	require.NoError(t, c.Validate())
	require.Equal(t, "x.sqlite", c.DSN())

	c = DBConfig{Driver: DriverPostgres, Host: "localhost", Database: "livetrack", Username: "bob", Password: "a b"}
	require.NoError(t, c.Validate())
	require.Equal(t, "host=localhost user=bob password='a b' dbname=livetrack sslmode=disable", c.DSN())
	c.Password = `it's`
	c.Port = 5433
	require.Equal(t, `host=localhost user=bob password='it\'s' dbname=livetrack port=5433 sslmode=disable`, c.DSN())
	require.NotContains(t, c.LogSafeDescription(), "a b")

	require.Error(t, (&DBConfig{Driver: "mysql", Database: "x"}).Validate())
	require.Error(t, (&DBConfig{Driver: DriverSqlite}).Validate())
}

type intTimeTester struct {
	ID     int64   `gorm:"primaryKey" json:"id"`
	MyTime IntTime `json:"myTime"`
}

func testDBConfig(t *testing.T) DBConfig {
	return MakeSqliteConfig(filepath.Join(t.TempDir(), "unit-test.sqlite"))
}

func TestOpenDBAndIntTime(t *testing.T) {
	log := logs.NewTestingLog(t)
	cfg := testDBConfig(t)

	migs := MakeMigrations(log, []string{`CREATE TABLE int_time_tester (id INTEGER PRIMARY KEY, my_time INT)`})
	db, err := OpenDB(log, cfg, migs, 0)
	require.NoError(t, err)

	// Ensure that an IntTime value of zero ends up as 'null' in the database.
	null := intTimeTester{ID: 1}
	require.NoError(t, db.Save(&null).Error)
	read := intTimeTester{}
	require.NoError(t, db.First(&read).Error)
	require.Equal(t, null, read)

	nullable := sql.NullInt64{}
	require.NoError(t, db.Raw("SELECT my_time FROM int_time_tester WHERE id = 1").Row().Scan(&nullable))
	require.False(t, nullable.Valid)

	a := time.Date(2022, time.February, 3, 4, 5, 6, 777*1000*1000, time.UTC)
	other := intTimeTester{ID: 2, MyTime: MakeIntTime(a)}
	require.NoError(t, db.Save(&other).Error)
	other2 := intTimeTester{}
	require.NoError(t, db.Where("id = 2").First(&other2).Error)
	require.Equal(t, a, other2.MyTime.Get())

	require.True(t, IntTime(0).Get().IsZero())
	require.Equal(t, IntTime(0), MakeIntTime(time.Time{}))

	// Re-opening runs no migrations, and keeps the data
	sqlDB, _ := db.DB()
	sqlDB.Close()
	db, err = OpenDB(log, cfg, migs, 0)
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&intTimeTester{}).Count(&count).Error)
	require.Equal(t, int64(2), count)
	sqlDB, _ = db.DB()
	sqlDB.Close()

	// Wipe
	db, err = OpenDB(log, cfg, migs, DBConnectFlagWipeDB)
	require.NoError(t, err)
	require.NoError(t, db.Model(&intTimeTester{}).Count(&count).Error)
	require.Equal(t, int64(0), count)
	sqlDB, _ = db.DB()
	sqlDB.Close()
}
