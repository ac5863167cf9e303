package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Env != "development" {
		t.Fatalf("Env = %q, want development", cfg.Env)
	}
	if cfg.DB.Type != "sqlite" {
		t.Fatalf("DB.Type = %q, want sqlite", cfg.DB.Type)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.ETL.BatchSize != 1000 || cfg.ETL.MaxWorkers != 4 || cfg.ETL.TimeoutSeconds != 300 {
		t.Fatalf("ETL defaults = %+v", cfg.ETL)
	}
	if !cfg.ETL.SkipProcessed {
		t.Fatalf("expected ETL.SkipProcessed=true by default")
	}
	if cfg.Auth.SessionTimeoutMinutes != 60 || cfg.Auth.MaxFailedLogins != 5 || cfg.Auth.LockoutDurationMinutes != 30 {
		t.Fatalf("Auth defaults = %+v", cfg.Auth)
	}
	if pk := cfg.Quality.PrimaryKey("people"); pk != "person_id" {
		t.Fatalf("PrimaryKey(people) = %q, want person_id", pk)
	}
	if !cfg.PHI.ShouldHashField("people", "medicaid_id") {
		t.Fatalf("expected people.medicaid_id to be a PHI field")
	}
	if cfg.PHI.ShouldHashField("people", "gender") {
		t.Fatalf("gender must never be hashed")
	}
	// PHI 开启且未提供盐时必须自动生成
	if len(cfg.PHI.Salt) != 64 {
		t.Fatalf("PHI.Salt len = %d, want 64", len(cfg.PHI.Salt))
	}
}

func TestApplyEnvOverrides_Database(t *testing.T) {
	t.Setenv("ETL_DATABASE_TYPE", "postgresql")
	t.Setenv("ETL_POSTGRESQL_HOST", "db.internal")
	t.Setenv("ETL_POSTGRESQL_PORT", "15432")
	t.Setenv("ETL_POSTGRESQL_DATABASE", "hhs_reporting")
	t.Setenv("ETL_POSTGRESQL_USERNAME", "etl")
	t.Setenv("ETL_POSTGRESQL_PASSWORD", "secret")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.DB.Type != "postgresql" {
		t.Fatalf("DB.Type = %q, want postgresql", cfg.DB.Type)
	}
	if cfg.DB.Postgres.Host != "db.internal" || cfg.DB.Postgres.Port != 15432 {
		t.Fatalf("Postgres = %+v", cfg.DB.Postgres)
	}
	if cfg.DB.Postgres.Database != "hhs_reporting" || cfg.DB.Postgres.Username != "etl" {
		t.Fatalf("Postgres = %+v", cfg.DB.Postgres)
	}
}

func TestApplyEnvOverrides_ETLAndPHI(t *testing.T) {
	t.Setenv("ETL_BATCH_SIZE", "250")
	t.Setenv("ETL_MAX_WORKERS", "2")
	t.Setenv("ETL_SKIP_PROCESSED", "false")
	t.Setenv("ETL_FILE_PATTERNS", "*.dat, *.txt")
	t.Setenv("PHI_HASH_SALT", "fixedsalt")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.ETL.BatchSize != 250 || cfg.ETL.MaxWorkers != 2 {
		t.Fatalf("ETL = %+v", cfg.ETL)
	}
	if cfg.ETL.SkipProcessed {
		t.Fatalf("expected ETL.SkipProcessed=false")
	}
	if len(cfg.ETL.FilePatterns) != 2 || cfg.ETL.FilePatterns[0] != "*.dat" || cfg.ETL.FilePatterns[1] != "*.txt" {
		t.Fatalf("FilePatterns = %v", cfg.ETL.FilePatterns)
	}
	if cfg.PHI.Salt != "fixedsalt" {
		t.Fatalf("PHI.Salt = %q", cfg.PHI.Salt)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".config.json")
	data := `{
  "environment": "production",
  "web": {"host": "127.0.0.1", "port": 9443, "use_https": true, "cert_file": "data/ssl/server.crt", "key_file": "data/ssl/server.key"},
  "database": {
    "type": "mssql",
    "mssql": {"server": "sql01", "port": 1433, "database": "hhs_data", "trusted_connection": true}
  },
  "etl": {"batch_size": 500, "ignored_filename_prefixes": ["SAMPLE", "QA"]},
  "phi_hashing": {"enabled": false},
  "sftp": {"enabled": true, "host": "sftp.example.org", "username": "hhs", "auth_method": "key"}
}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "production" || !cfg.IsProduction() {
		t.Fatalf("Env = %q", cfg.Env)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9443 || !cfg.Server.UseHTTPS {
		t.Fatalf("Server = %+v", cfg.Server)
	}
	if cfg.Server.Addr() != "127.0.0.1:9443" {
		t.Fatalf("Addr() = %q", cfg.Server.Addr())
	}
	if cfg.DB.Type != "mssql" || cfg.DB.MSSQL.Server != "sql01" {
		t.Fatalf("DB = %+v", cfg.DB)
	}
	if cfg.ETL.BatchSize != 500 {
		t.Fatalf("ETL.BatchSize = %d", cfg.ETL.BatchSize)
	}
	if len(cfg.ETL.IgnoredFilenamePrefixes) != 2 || cfg.ETL.IgnoredFilenamePrefixes[1] != "QA" {
		t.Fatalf("IgnoredFilenamePrefixes = %v", cfg.ETL.IgnoredFilenamePrefixes)
	}
	if cfg.PHI.Enable {
		t.Fatalf("expected PHI.Enable=false")
	}
	if !cfg.SFTP.Enabled || cfg.SFTP.Host != "sftp.example.org" {
		t.Fatalf("SFTP = %+v", cfg.SFTP)
	}
	// 文件未覆盖的键保持默认值
	if cfg.ETL.MaxWorkers != 4 {
		t.Fatalf("ETL.MaxWorkers = %d, want default 4", cfg.ETL.MaxWorkers)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Type != "sqlite" {
		t.Fatalf("DB.Type = %q, want sqlite", cfg.DB.Type)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestNormalizeAndValidate_Errors(t *testing.T) {
	cases := []struct {
		name       string
		mutate     func(*Config)
		wantErrSub string
	}{
		{
			name:       "bad environment",
			mutate:     func(c *Config) { c.Env = "staging" },
			wantErrSub: "environment 不支持",
		},
		{
			name:       "bad port",
			mutate:     func(c *Config) { c.Server.Port = 0 },
			wantErrSub: "web.port 不合法",
		},
		{
			name:       "https without cert",
			mutate:     func(c *Config) { c.Server.UseHTTPS = true },
			wantErrSub: "cert_file/key_file 不能为空",
		},
		{
			name:       "bad db type",
			mutate:     func(c *Config) { c.DB.Type = "oracle" },
			wantErrSub: "database.type 不支持",
		},
		{
			name: "mssql missing server",
			mutate: func(c *Config) {
				c.DB.Type = "mssql"
				c.DB.MSSQL.Server = ""
			},
			wantErrSub: "database.mssql.server/database 不能为空",
		},
		{
			name: "mysql missing username",
			mutate: func(c *Config) {
				c.DB.Type = "mysql"
				c.DB.MySQL.Username = ""
			},
			wantErrSub: "database.mysql.username 不能为空",
		},
		{
			name:       "bad syslog protocol",
			mutate:     func(c *Config) { c.SIEM.SyslogProtocol = "SCTP" },
			wantErrSub: "siem.syslog_protocol 不支持",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			_, err := normalizeAndValidate(cfg)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErrSub) {
				t.Fatalf("error = %q, want contains %q", err.Error(), tc.wantErrSub)
			}
		})
	}
}

func TestNormalizeAndValidate_EnvAliases(t *testing.T) {
	cfg := defaultConfig()
	cfg.Env = "Dev"
	got, err := normalizeAndValidate(cfg)
	if err != nil {
		t.Fatalf("normalizeAndValidate: %v", err)
	}
	if got.Env != "development" {
		t.Fatalf("Env = %q, want development", got.Env)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Env = "production"
	cfg.Server.Port = 9443
	cfg.DB.Type = "mysql"
	cfg.DB.MySQL.Host = "db.internal"
	cfg.DB.MySQL.Database = "hhs"
	cfg.DB.MySQL.Username = "etl"
	cfg.DB.MySQL.Password = "s3cret"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("文件权限 = %o，期望 0600", perm)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load(saved): %v", err)
	}
	if got.Env != "production" || got.Server.Port != 9443 {
		t.Fatalf("回读 = env %q port %d", got.Env, got.Server.Port)
	}
	if got.DB.Type != "mysql" || got.DB.MySQL.Password != "s3cret" {
		t.Fatalf("回读数据库配置 = %+v", got.DB)
	}
}
