package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"hhsetl/internal/store"
)

func TestSIEMConfig_SeedAndSave(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetSIEMConfig(ctx); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("GetSIEMConfig(empty): got %v, want sql.ErrNoRows", err)
	}

	if err := st.SeedSIEMConfig(ctx, store.SIEMConfig{SyslogPort: 514, SyslogProtocol: "UDP", SyslogMinSeverity: "ERROR"}); err != nil {
		t.Fatalf("SeedSIEMConfig: %v", err)
	}
	// Seed 不覆盖已有配置。
	if err := st.SeedSIEMConfig(ctx, store.SIEMConfig{SyslogPort: 9999}); err != nil {
		t.Fatalf("SeedSIEMConfig (2): %v", err)
	}

	cfg, err := st.GetSIEMConfig(ctx)
	if err != nil {
		t.Fatalf("GetSIEMConfig: %v", err)
	}
	if cfg.Enabled || cfg.SyslogPort != 514 || cfg.SyslogProtocol != "UDP" {
		t.Fatalf("seeded config = %+v", cfg)
	}

	cfg.Enabled = true
	cfg.SyslogEnabled = true
	cfg.SyslogHost = "siem.example.org"
	cfg.SyslogPort = 6514
	cfg.SyslogProtocol = "TCP"
	cfg.SyslogMinSeverity = "WARNING"
	if err := st.SaveSIEMConfig(ctx, cfg, "admin"); err != nil {
		t.Fatalf("SaveSIEMConfig: %v", err)
	}

	cfg, err = st.GetSIEMConfig(ctx)
	if err != nil {
		t.Fatalf("GetSIEMConfig (2): %v", err)
	}
	if !cfg.Enabled || cfg.SyslogHost != "siem.example.org" || cfg.SyslogPort != 6514 ||
		cfg.SyslogMinSeverity != "WARNING" || cfg.UpdatedBy != "admin" {
		t.Fatalf("saved config = %+v", cfg)
	}
}

func TestSFTPConfig_SaveAppliesDefaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.SaveSFTPConfig(ctx, store.SFTPConfig{
		Enabled:  true,
		Host:     "sftp.example.org",
		Username: "transfer",
	}, "admin"); err != nil {
		t.Fatalf("SaveSFTPConfig: %v", err)
	}

	cfg, err := st.GetSFTPConfig(ctx)
	if err != nil {
		t.Fatalf("GetSFTPConfig: %v", err)
	}
	if cfg.Port != 22 || cfg.AuthMethod != "key" || cfg.DownloadIntervalMinutes != 60 ||
		cfg.TimeoutSeconds != 30 || cfg.MaxRetries != 3 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Host != "sftp.example.org" || !cfg.Enabled {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestSFTPFilePatterns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id1, err := st.AddSFTPFilePattern(ctx, "HHS_People_*.txt")
	if err != nil {
		t.Fatalf("AddSFTPFilePattern: %v", err)
	}
	if _, err := st.AddSFTPFilePattern(ctx, "  "); err == nil {
		t.Fatalf("expected error for blank pattern")
	}
	if _, err := st.AddSFTPFilePattern(ctx, "HHS_Cases_*.txt"); err != nil {
		t.Fatalf("AddSFTPFilePattern (2): %v", err)
	}

	all, err := st.ListSFTPFilePatterns(ctx, false)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListSFTPFilePatterns = %d, %v; want 2", len(all), err)
	}

	if err := st.SetSFTPFilePatternEnabled(ctx, id1, false); err != nil {
		t.Fatalf("SetSFTPFilePatternEnabled: %v", err)
	}
	enabled, err := st.ListSFTPFilePatterns(ctx, true)
	if err != nil || len(enabled) != 1 || enabled[0].Pattern != "HHS_Cases_*.txt" {
		t.Fatalf("enabled patterns = %+v, %v", enabled, err)
	}

	if err := st.DeleteSFTPFilePattern(ctx, id1); err != nil {
		t.Fatalf("DeleteSFTPFilePattern: %v", err)
	}
	if err := st.DeleteSFTPFilePattern(ctx, id1); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("DeleteSFTPFilePattern (2): got %v, want sql.ErrNoRows", err)
	}
}

func TestDatabaseSettings_SeedAndSave(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.SeedDatabaseSettings(ctx, store.DatabaseSettings{}); err != nil {
		t.Fatalf("SeedDatabaseSettings: %v", err)
	}
	ds, err := st.GetDatabaseSettings(ctx)
	if err != nil {
		t.Fatalf("GetDatabaseSettings: %v", err)
	}
	if ds.DBType != "sqlite" || ds.ConnectionTimeout != 30 || ds.MaxConnections != 10 {
		t.Fatalf("seeded settings = %+v", ds)
	}

	if err := st.SaveDatabaseSettings(ctx, store.DatabaseSettings{}, "admin"); err == nil {
		t.Fatalf("expected error for empty db_type")
	}

	ds.DBType = "postgresql"
	ds.PostgresHost = strPtr("pg.internal")
	port := 5432
	ds.PostgresPort = &port
	ds.PostgresDatabase = strPtr("hhs_data")
	ds.PostgresUsername = strPtr("etl")
	if err := st.SaveDatabaseSettings(ctx, ds, "admin"); err != nil {
		t.Fatalf("SaveDatabaseSettings: %v", err)
	}

	ds, err = st.GetDatabaseSettings(ctx)
	if err != nil {
		t.Fatalf("GetDatabaseSettings (2): %v", err)
	}
	if ds.DBType != "postgresql" || ds.PostgresHost == nil || *ds.PostgresHost != "pg.internal" {
		t.Fatalf("saved settings = %+v", ds)
	}
	if ds.UpdatedBy == nil || *ds.UpdatedBy != "admin" {
		t.Fatalf("updated_by = %v", ds.UpdatedBy)
	}
}

func TestFileTableMappings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.UpsertFileTableMapping(ctx, "HHS_People_*", "people", strPtr("admin")); err != nil {
		t.Fatalf("UpsertFileTableMapping: %v", err)
	}
	// 同一模式再次写入走更新分支。
	if err := st.UpsertFileTableMapping(ctx, "HHS_People_*", "employees", nil); err != nil {
		t.Fatalf("UpsertFileTableMapping (2): %v", err)
	}

	mappings, err := st.ListFileTableMappings(ctx, true)
	if err != nil {
		t.Fatalf("ListFileTableMappings: %v", err)
	}
	if len(mappings) != 1 || mappings[0].TableName != "employees" {
		t.Fatalf("mappings = %+v", mappings)
	}

	if err := st.SetFileTableMappingActive(ctx, mappings[0].ID, false); err != nil {
		t.Fatalf("SetFileTableMappingActive: %v", err)
	}
	active, err := st.ListFileTableMappings(ctx, true)
	if err != nil || len(active) != 0 {
		t.Fatalf("active mappings = %+v, %v; want none", active, err)
	}

	if err := st.DeleteFileTableMapping(ctx, mappings[0].ID); err != nil {
		t.Fatalf("DeleteFileTableMapping: %v", err)
	}
}
