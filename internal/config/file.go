package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultConfigFile 是工作目录下的默认配置文件名（进程启动器也会就地修改它）。
const DefaultConfigFile = ".config.json"

// applyFileOverrides 把配置文件里出现的键覆盖到 cfg 上；文件不存在不算错误。
func applyFileOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败（%s）: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("配置文件不是合法 JSON（%s）", path)
	}

	if v := gjson.GetBytes(data, "environment"); v.Exists() {
		cfg.Env = v.String()
	}

	if v := gjson.GetBytes(data, "web.host"); v.Exists() {
		cfg.Server.Host = v.String()
	}
	if v := gjson.GetBytes(data, "web.port"); v.Exists() {
		cfg.Server.Port = int(v.Int())
	}
	if v := gjson.GetBytes(data, "web.use_https"); v.Exists() {
		cfg.Server.UseHTTPS = v.Bool()
	}
	if v := gjson.GetBytes(data, "web.cert_file"); v.Exists() {
		cfg.Server.CertFile = v.String()
	}
	if v := gjson.GetBytes(data, "web.key_file"); v.Exists() {
		cfg.Server.KeyFile = v.String()
	}
	if v := gjson.GetBytes(data, "web.read_header_timeout_seconds"); v.Exists() {
		cfg.Server.ReadHeaderTimeoutSeconds = int(v.Int())
	}
	if v := gjson.GetBytes(data, "web.read_timeout_seconds"); v.Exists() {
		cfg.Server.ReadTimeoutSeconds = int(v.Int())
	}
	if v := gjson.GetBytes(data, "web.idle_timeout_seconds"); v.Exists() {
		cfg.Server.IdleTimeoutSeconds = int(v.Int())
	}
	if v := gjson.GetBytes(data, "web.max_header_bytes"); v.Exists() {
		cfg.Server.MaxHeaderBytes = int(v.Int())
	}
	if v := gjson.GetBytes(data, "web.max_body_bytes"); v.Exists() {
		cfg.Server.MaxBodyBytes = v.Int()
	}
	if v := gjson.GetBytes(data, "web.max_connections"); v.Exists() {
		cfg.Server.MaxConnections = int(v.Int())
	}

	if v := gjson.GetBytes(data, "database.type"); v.Exists() {
		cfg.DB.Type = v.String()
	}
	if v := gjson.GetBytes(data, "database.sqlite_path"); v.Exists() {
		cfg.DB.SQLitePath = v.String()
	}
	if v := gjson.GetBytes(data, "database.mssql.server"); v.Exists() {
		cfg.DB.MSSQL.Server = v.String()
	}
	if v := gjson.GetBytes(data, "database.mssql.port"); v.Exists() {
		cfg.DB.MSSQL.Port = int(v.Int())
	}
	if v := gjson.GetBytes(data, "database.mssql.database"); v.Exists() {
		cfg.DB.MSSQL.Database = v.String()
	}
	if v := gjson.GetBytes(data, "database.mssql.username"); v.Exists() {
		cfg.DB.MSSQL.Username = v.String()
	}
	if v := gjson.GetBytes(data, "database.mssql.password"); v.Exists() {
		cfg.DB.MSSQL.Password = v.String()
	}
	if v := gjson.GetBytes(data, "database.mssql.trusted_connection"); v.Exists() {
		cfg.DB.MSSQL.TrustedConnection = v.Bool()
	}
	if v := gjson.GetBytes(data, "database.postgresql.host"); v.Exists() {
		cfg.DB.Postgres.Host = v.String()
	}
	if v := gjson.GetBytes(data, "database.postgresql.port"); v.Exists() {
		cfg.DB.Postgres.Port = int(v.Int())
	}
	if v := gjson.GetBytes(data, "database.postgresql.database"); v.Exists() {
		cfg.DB.Postgres.Database = v.String()
	}
	if v := gjson.GetBytes(data, "database.postgresql.username"); v.Exists() {
		cfg.DB.Postgres.Username = v.String()
	}
	if v := gjson.GetBytes(data, "database.postgresql.password"); v.Exists() {
		cfg.DB.Postgres.Password = v.String()
	}
	if v := gjson.GetBytes(data, "database.mysql.host"); v.Exists() {
		cfg.DB.MySQL.Host = v.String()
	}
	if v := gjson.GetBytes(data, "database.mysql.port"); v.Exists() {
		cfg.DB.MySQL.Port = int(v.Int())
	}
	if v := gjson.GetBytes(data, "database.mysql.database"); v.Exists() {
		cfg.DB.MySQL.Database = v.String()
	}
	if v := gjson.GetBytes(data, "database.mysql.username"); v.Exists() {
		cfg.DB.MySQL.Username = v.String()
	}
	if v := gjson.GetBytes(data, "database.mysql.password"); v.Exists() {
		cfg.DB.MySQL.Password = v.String()
	}
	if v := gjson.GetBytes(data, "database.connection_timeout"); v.Exists() {
		cfg.DB.ConnectTimeoutSeconds = int(v.Int())
	}
	if v := gjson.GetBytes(data, "database.max_connections"); v.Exists() {
		cfg.DB.MaxConnections = int(v.Int())
	}

	if v := gjson.GetBytes(data, "directories.data_dir"); v.Exists() {
		cfg.Dirs.DataDir = v.String()
	}
	if v := gjson.GetBytes(data, "directories.input_dir"); v.Exists() {
		cfg.Dirs.InputDir = v.String()
	}
	if v := gjson.GetBytes(data, "directories.output_dir"); v.Exists() {
		cfg.Dirs.OutputDir = v.String()
	}
	if v := gjson.GetBytes(data, "directories.logs_dir"); v.Exists() {
		cfg.Dirs.LogsDir = v.String()
	}
	if v := gjson.GetBytes(data, "directories.database_dir"); v.Exists() {
		cfg.Dirs.DatabaseDir = v.String()
	}
	if v := gjson.GetBytes(data, "directories.backup_dir"); v.Exists() {
		cfg.Dirs.BackupDir = v.String()
	}
	if v := gjson.GetBytes(data, "directories.ssl_dir"); v.Exists() {
		cfg.Dirs.SSLDir = v.String()
	}

	if v := gjson.GetBytes(data, "logging.level"); v.Exists() {
		cfg.Log.Level = v.String()
	}

	if v := gjson.GetBytes(data, "etl.batch_size"); v.Exists() {
		cfg.ETL.BatchSize = int(v.Int())
	}
	if v := gjson.GetBytes(data, "etl.max_workers"); v.Exists() {
		cfg.ETL.MaxWorkers = int(v.Int())
	}
	if v := gjson.GetBytes(data, "etl.timeout_seconds"); v.Exists() {
		cfg.ETL.TimeoutSeconds = int(v.Int())
	}
	if v := gjson.GetBytes(data, "etl.retry_attempts"); v.Exists() {
		cfg.ETL.RetryAttempts = int(v.Int())
	}
	if v := gjson.GetBytes(data, "etl.skip_processed_files"); v.Exists() {
		cfg.ETL.SkipProcessed = v.Bool()
	}
	if v := gjson.GetBytes(data, "etl.force_reprocess"); v.Exists() {
		cfg.ETL.ForceReprocess = v.Bool()
	}
	if v := gjson.GetBytes(data, "etl.latest_only"); v.Exists() {
		cfg.ETL.LatestOnly = v.Bool()
	}
	if v := gjson.GetBytes(data, "etl.ignored_filename_prefixes"); v.Exists() && v.IsArray() {
		cfg.ETL.IgnoredFilenamePrefixes = stringArray(v)
	}
	if v := gjson.GetBytes(data, "etl.file_patterns"); v.Exists() && v.IsArray() {
		cfg.ETL.FilePatterns = stringArray(v)
	}
	if v := gjson.GetBytes(data, "etl.recognized_extensions"); v.Exists() && v.IsArray() {
		cfg.ETL.RecognizedExtensions = stringArray(v)
	}
	if v := gjson.GetBytes(data, "etl.watch_input_dir"); v.Exists() {
		cfg.ETL.WatchInputDir = v.Bool()
	}
	if v := gjson.GetBytes(data, "etl.watch_settle_seconds"); v.Exists() {
		cfg.ETL.WatchSettleSeconds = int(v.Int())
	}

	if v := gjson.GetBytes(data, "phi_hashing.enabled"); v.Exists() {
		cfg.PHI.Enable = v.Bool()
	}
	if v := gjson.GetBytes(data, "phi_hashing.hash_on_import"); v.Exists() {
		cfg.PHI.HashOnImport = v.Bool()
	}
	if v := gjson.GetBytes(data, "phi_hashing.hash_on_export"); v.Exists() {
		cfg.PHI.HashOnExport = v.Bool()
	}
	if v := gjson.GetBytes(data, "phi_hashing.fields_to_hash"); v.Exists() && v.IsObject() {
		cfg.PHI.FieldsToHash = stringListMap(v)
	}

	if v := gjson.GetBytes(data, "data_quality.expected_tables"); v.Exists() && v.IsObject() {
		cfg.Quality.ExpectedTables = stringListMap(v)
	}
	if v := gjson.GetBytes(data, "data_quality.date_fields"); v.Exists() && v.IsObject() {
		cfg.Quality.DateFields = stringListMap(v)
	}
	if v := gjson.GetBytes(data, "data_quality.boolean_fields"); v.Exists() && v.IsObject() {
		cfg.Quality.BooleanFields = stringListMap(v)
	}
	if v := gjson.GetBytes(data, "data_quality.required_fields"); v.Exists() && v.IsObject() {
		cfg.Quality.RequiredFields = stringListMap(v)
	}
	if v := gjson.GetBytes(data, "data_quality.primary_keys"); v.Exists() && v.IsObject() {
		pks := make(map[string]string)
		v.ForEach(func(key, value gjson.Result) bool {
			pks[key.String()] = value.String()
			return true
		})
		cfg.Quality.PrimaryKeys = pks
	}

	if v := gjson.GetBytes(data, "auth.session_timeout_minutes"); v.Exists() {
		cfg.Auth.SessionTimeoutMinutes = int(v.Int())
	}
	if v := gjson.GetBytes(data, "auth.max_failed_logins"); v.Exists() {
		cfg.Auth.MaxFailedLogins = int(v.Int())
	}
	if v := gjson.GetBytes(data, "auth.lockout_duration_minutes"); v.Exists() {
		cfg.Auth.LockoutDurationMinutes = int(v.Int())
	}
	if v := gjson.GetBytes(data, "auth.allowed_ip_prefixes"); v.Exists() && v.IsArray() {
		cfg.Auth.AllowedIPPrefixes = stringArray(v)
	}
	if v := gjson.GetBytes(data, "auth.disable_secure_cookies"); v.Exists() {
		cfg.Auth.DisableSecureCookies = v.Bool()
	}
	if v := gjson.GetBytes(data, "auth.trust_proxy_headers"); v.Exists() {
		cfg.Auth.TrustProxyHeaders = v.Bool()
	}
	if v := gjson.GetBytes(data, "auth.trusted_proxy_cidrs"); v.Exists() && v.IsArray() {
		cfg.Auth.TrustedProxyCIDRs = stringArray(v)
	}

	if v := gjson.GetBytes(data, "audit.retention_days"); v.Exists() {
		cfg.Audit.RetentionDays = int(v.Int())
	}

	if v := gjson.GetBytes(data, "siem.enabled"); v.Exists() {
		cfg.SIEM.Enabled = v.Bool()
	}
	if v := gjson.GetBytes(data, "siem.syslog_enabled"); v.Exists() {
		cfg.SIEM.SyslogEnabled = v.Bool()
	}
	if v := gjson.GetBytes(data, "siem.syslog_host"); v.Exists() {
		cfg.SIEM.SyslogHost = v.String()
	}
	if v := gjson.GetBytes(data, "siem.syslog_port"); v.Exists() {
		cfg.SIEM.SyslogPort = int(v.Int())
	}
	if v := gjson.GetBytes(data, "siem.syslog_protocol"); v.Exists() {
		cfg.SIEM.SyslogProtocol = v.String()
	}
	if v := gjson.GetBytes(data, "siem.include_sensitive_data"); v.Exists() {
		cfg.SIEM.IncludeSensitiveData = v.Bool()
	}
	if v := gjson.GetBytes(data, "siem.syslog_min_severity"); v.Exists() {
		cfg.SIEM.SyslogMinSeverity = v.String()
	}

	if v := gjson.GetBytes(data, "sftp.enabled"); v.Exists() {
		cfg.SFTP.Enabled = v.Bool()
	}
	if v := gjson.GetBytes(data, "sftp.host"); v.Exists() {
		cfg.SFTP.Host = v.String()
	}
	if v := gjson.GetBytes(data, "sftp.port"); v.Exists() {
		cfg.SFTP.Port = int(v.Int())
	}
	if v := gjson.GetBytes(data, "sftp.username"); v.Exists() {
		cfg.SFTP.Username = v.String()
	}
	if v := gjson.GetBytes(data, "sftp.auth_method"); v.Exists() {
		cfg.SFTP.AuthMethod = v.String()
	}
	if v := gjson.GetBytes(data, "sftp.private_key_path"); v.Exists() {
		cfg.SFTP.PrivateKeyPath = v.String()
	}
	if v := gjson.GetBytes(data, "sftp.private_key_passphrase"); v.Exists() {
		cfg.SFTP.PrivateKeyPassphrase = v.String()
	}
	if v := gjson.GetBytes(data, "sftp.password"); v.Exists() {
		cfg.SFTP.Password = v.String()
	}
	if v := gjson.GetBytes(data, "sftp.remote_directory"); v.Exists() {
		cfg.SFTP.RemoteDirectory = v.String()
	}
	if v := gjson.GetBytes(data, "sftp.file_patterns"); v.Exists() && v.IsArray() {
		cfg.SFTP.FilePatterns = stringArray(v)
	}
	if v := gjson.GetBytes(data, "sftp.auto_download"); v.Exists() {
		cfg.SFTP.AutoDownload = v.Bool()
	}
	if v := gjson.GetBytes(data, "sftp.download_interval_minutes"); v.Exists() {
		cfg.SFTP.DownloadIntervalMin = int(v.Int())
	}
	if v := gjson.GetBytes(data, "sftp.delete_after_download"); v.Exists() {
		cfg.SFTP.DeleteAfterDownload = v.Bool()
	}
	if v := gjson.GetBytes(data, "sftp.local_download_path"); v.Exists() {
		cfg.SFTP.LocalDownloadPath = v.String()
	}
	if v := gjson.GetBytes(data, "sftp.timeout_seconds"); v.Exists() {
		cfg.SFTP.TimeoutSeconds = int(v.Int())
	}
	if v := gjson.GetBytes(data, "sftp.max_retries"); v.Exists() {
		cfg.SFTP.MaxRetries = int(v.Int())
	}
	if v := gjson.GetBytes(data, "sftp.verify_host_key"); v.Exists() {
		cfg.SFTP.VerifyHostKey = v.Bool()
	}
	if v := gjson.GetBytes(data, "sftp.known_hosts_path"); v.Exists() {
		cfg.SFTP.KnownHostsPath = v.String()
	}

	return nil
}

// SetKey 用 sjson 就地修改配置文件里的单个键，文件不存在时从空 JSON 建起。
// 启动器用它改端口与 HTTPS 开关，不用整体反序列化再写回。
func SetKey(path string, jsonPath string, value any) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("读取配置文件失败（%s）: %w", path, err)
		}
		data = []byte("{}")
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("配置文件不是合法 JSON（%s）", path)
	}
	out, err := sjson.SetBytes(data, jsonPath, value)
	if err != nil {
		return fmt.Errorf("修改配置键失败（%s）: %w", jsonPath, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("写入配置文件失败（%s）: %w", path, err)
	}
	return nil
}

// Save 把整份配置按文件布局写出（json tag 即文件键名）。
// 密码等敏感字段随结构体一并落盘，文件权限收紧到 0600。
func Save(path string, cfg Config) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigFile
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("写入配置文件失败（%s）: %w", path, err)
	}
	return nil
}

func stringArray(v gjson.Result) []string {
	var out []string
	for _, item := range v.Array() {
		s := item.String()
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// stringListMap 解析 {"table": ["col", ...]} 形式的配置；下划线开头的键视为文档说明跳过。
func stringListMap(v gjson.Result) map[string][]string {
	out := make(map[string][]string)
	v.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if len(k) > 0 && k[0] == '_' {
			return true
		}
		var cols []string
		for _, item := range value.Array() {
			cols = append(cols, item.String())
		}
		out[k] = cols
		return true
	})
	return out
}
