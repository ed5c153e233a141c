package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		user     string
		database string
		want     string
	}{
		{
			name:     "default local",
			host:     "127.0.0.1",
			port:     3306,
			user:     "root",
			database: "junction",
			want:     "root@tcp(127.0.0.1:3306)/junction",
		},
		{
			name:     "dolt server",
			host:     "dolt.vpc.internal",
			port:     3307,
			user:     "junction",
			database: "junction_prod",
			want:     "junction@tcp(dolt.vpc.internal:3307)/junction_prod",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.host, tt.port, tt.user, tt.database)
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("DSN() = %q, want prefix %q", got, tt.want)
			}
			if !strings.Contains(got, "parseTime=true") {
				t.Errorf("DSN missing parseTime=true: %s", got)
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got := SQLiteDSN(":memory:"); got != ":memory:" {
		t.Errorf("SQLiteDSN(:memory:) = %q", got)
	}
	if got := SQLiteDSN("j.db"); got != "j.db?"+sqliteParams {
		t.Errorf("SQLiteDSN(j.db) = %q", got)
	}
	if got := SQLiteDSN("j.db?mode=ro"); got != "j.db?mode=ro" {
		t.Errorf("SQLiteDSN with params = %q", got)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err)
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestAutoMigrate_CreatesAllTables(t *testing.T) {
	gormDB, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "j.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	for _, m := range AllModels() {
		if !gormDB.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
	if !gormDB.Migrator().HasIndex(&models.IntegrationReport{}, "idx_integration_reports_session_id") {
		t.Error("integration_reports.session_id should be indexed")
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 6 {
		t.Errorf("len(AllModels()) = %d, want 6", got)
	}
}
