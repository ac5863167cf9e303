// Package config 负责读取并合并服务配置（.config.json 配置文件 + 环境变量覆盖），避免在业务代码里散落解析逻辑。
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// Env 支持 development/testing/production，影响日志级别与安全 Cookie 等行为。
	Env string `json:"environment"`

	Server  ServerConfig  `json:"web"`
	DB      DBConfig      `json:"database"`
	Dirs    DirsConfig    `json:"directories"`
	Log     LogConfig     `json:"logging"`
	ETL     ETLConfig     `json:"etl"`
	PHI     PHIConfig     `json:"phi_hashing"`
	Quality QualityConfig `json:"data_quality"`
	Auth    AuthConfig    `json:"auth"`
	Audit   AuditConfig   `json:"audit"`
	SIEM    SIEMConfig    `json:"siem"`
	SFTP    SFTPConfig    `json:"sftp"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// UseHTTPS 开启后必须同时提供证书与私钥路径。
	UseHTTPS bool   `json:"use_https"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`

	// HTTP 连接硬化：这些参数会直接映射到 net/http 的 http.Server。
	ReadHeaderTimeoutSeconds int `json:"read_header_timeout_seconds"`
	ReadTimeoutSeconds       int `json:"read_timeout_seconds"`
	IdleTimeoutSeconds       int `json:"idle_timeout_seconds"`
	MaxHeaderBytes           int `json:"max_header_bytes"`

	// MaxBodyBytes 限制请求体大小（上传数据文件接口之外的 JSON API）。
	MaxBodyBytes int64 `json:"max_body_bytes"`

	// MaxConnections 限制监听器同时接受的连接数，防止慢客户端耗尽句柄。
	MaxConnections int `json:"max_connections"`
}

type DBConfig struct {
	// Type 支持 sqlite/mssql/azuresql/postgresql/mysql。
	Type string `json:"type"`

	// SQLitePath 是 SQLite 数据库文件路径（可包含 DSN query，如 ?_busy_timeout=30000）。
	SQLitePath string `json:"sqlite_path"`

	MSSQL    MSSQLConfig    `json:"mssql"`
	Postgres PostgresConfig `json:"postgresql"`
	MySQL    MySQLConfig    `json:"mysql"`

	ConnectTimeoutSeconds int `json:"connection_timeout"`
	MaxConnections        int `json:"max_connections"`
}

type MSSQLConfig struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	// TrustedConnection 使用集成认证（仅限本地部署的 SQL Server）。
	TrustedConnection bool `json:"trusted_connection"`
}

type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type MySQLConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type DirsConfig struct {
	DataDir     string `json:"data_dir"`
	InputDir    string `json:"input_dir"`
	OutputDir   string `json:"output_dir"`
	LogsDir     string `json:"logs_dir"`
	DatabaseDir string `json:"database_dir"`
	BackupDir   string `json:"backup_dir"`
	SSLDir      string `json:"ssl_dir"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type ETLConfig struct {
	BatchSize      int  `json:"batch_size"`
	MaxWorkers     int  `json:"max_workers"`
	TimeoutSeconds int  `json:"timeout_seconds"`
	RetryAttempts  int  `json:"retry_attempts"`
	SkipProcessed  bool `json:"skip_processed_files"`
	ForceReprocess bool `json:"force_reprocess"`
	LatestOnly     bool `json:"latest_only"`

	// IgnoredFilenamePrefixes 在从文件名推断表名时跳过（如 SAMPLE_people_20250828.txt → people）。
	IgnoredFilenamePrefixes []string `json:"ignored_filename_prefixes"`
	FilePatterns            []string `json:"file_patterns"`
	RecognizedExtensions    []string `json:"recognized_extensions"`

	// WatchInputDir 为 true 时监听 input_dir，新文件落稳后自动触发一次导入。
	WatchInputDir      bool `json:"watch_input_dir"`
	WatchSettleSeconds int  `json:"watch_settle_seconds"`
}

type PHIConfig struct {
	Enable       bool `json:"enabled"`
	HashOnImport bool `json:"hash_on_import"`
	HashOnExport bool `json:"hash_on_export"`

	// Salt 仅从环境变量读取（PHI_HASH_SALT），绝不写入配置文件。
	// 为空时每次启动随机生成，旧数据的哈希将无法与新导入对齐。
	Salt string `json:"-"`

	// FieldsToHash 按表列出需要单向哈希的 PII/PHI 字段。
	FieldsToHash map[string][]string `json:"fields_to_hash"`
}

type QualityConfig struct {
	ExpectedTables map[string][]string `json:"expected_tables"`
	DateFields     map[string][]string `json:"date_fields"`
	BooleanFields  map[string][]string `json:"boolean_fields"`
	RequiredFields map[string][]string `json:"required_fields"`
	PrimaryKeys    map[string]string   `json:"primary_keys"`
}

type AuthConfig struct {
	SessionTimeoutMinutes  int `json:"session_timeout_minutes"`
	MaxFailedLogins        int `json:"max_failed_logins"`
	LockoutDurationMinutes int `json:"lockout_duration_minutes"`

	// AllowedIPPrefixes 为空时放行所有来源；非空时仅放行前缀匹配的客户端 IP。
	AllowedIPPrefixes []string `json:"allowed_ip_prefixes"`

	DisableSecureCookies bool     `json:"disable_secure_cookies"`
	TrustProxyHeaders    bool     `json:"trust_proxy_headers"`
	TrustedProxyCIDRs    []string `json:"trusted_proxy_cidrs"`
}

type AuditConfig struct {
	// RetentionDays 之前的审计记录会被每日清理任务删除；<=0 表示永久保留。
	RetentionDays int `json:"retention_days"`
}

// SIEMConfig 仅提供首次启动时写入 sys_siem_config 的默认值，运行期以数据库配置为准。
type SIEMConfig struct {
	Enabled              bool   `json:"enabled"`
	SyslogEnabled        bool   `json:"syslog_enabled"`
	SyslogHost           string `json:"syslog_host"`
	SyslogPort           int    `json:"syslog_port"`
	SyslogProtocol       string `json:"syslog_protocol"`
	IncludeSensitiveData bool   `json:"include_sensitive_data"`
	SyslogMinSeverity    string `json:"syslog_min_severity"`
}

// SFTPConfig 仅提供首次启动时写入 sys_sftp_config 的默认值，运行期以数据库配置为准。
type SFTPConfig struct {
	Enabled              bool     `json:"enabled"`
	Host                 string   `json:"host"`
	Port                 int      `json:"port"`
	Username             string   `json:"username"`
	AuthMethod           string   `json:"auth_method"`
	PrivateKeyPath       string   `json:"private_key_path"`
	PrivateKeyPassphrase string   `json:"private_key_passphrase"`
	Password             string   `json:"password"`
	RemoteDirectory      string   `json:"remote_directory"`
	FilePatterns         []string `json:"file_patterns"`
	AutoDownload         bool     `json:"auto_download"`
	DownloadIntervalMin  int      `json:"download_interval_minutes"`
	DeleteAfterDownload  bool     `json:"delete_after_download"`
	LocalDownloadPath    string   `json:"local_download_path"`
	TimeoutSeconds       int      `json:"timeout_seconds"`
	MaxRetries           int      `json:"max_retries"`
	VerifyHostKey        bool     `json:"verify_host_key"`
	KnownHostsPath       string   `json:"known_hosts_path"`
}

// Load 读取配置：默认值 → 配置文件（path 为空时用 .config.json）→ 环境变量 → 校验。
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigFile
	}
	if err := applyFileOverrides(&cfg, path); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return normalizeAndValidate(cfg)
}

// LoadFromEnv 仅从环境变量加载配置（不读取任何配置文件）。
func LoadFromEnv() (Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(&cfg)
	return normalizeAndValidate(cfg)
}

func normalizeAndValidate(cfg Config) (Config, error) {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	switch cfg.Env {
	case "":
		cfg.Env = "development"
	case "dev":
		cfg.Env = "development"
	case "development", "testing", "production":
	default:
		return Config{}, fmt.Errorf("environment 不支持：%s（仅支持 development/testing/production）", cfg.Env)
	}

	cfg.Server.Host = strings.TrimSpace(cfg.Server.Host)
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("web.port 不合法：%d", cfg.Server.Port)
	}
	cfg.Server.CertFile = strings.TrimSpace(cfg.Server.CertFile)
	cfg.Server.KeyFile = strings.TrimSpace(cfg.Server.KeyFile)
	if cfg.Server.UseHTTPS && (cfg.Server.CertFile == "" || cfg.Server.KeyFile == "") {
		return Config{}, errors.New("web.use_https 开启时 cert_file/key_file 不能为空")
	}

	cfg.DB.Type = strings.ToLower(strings.TrimSpace(cfg.DB.Type))
	if cfg.DB.Type == "" {
		cfg.DB.Type = "sqlite"
	}
	cfg.DB.SQLitePath = strings.TrimSpace(cfg.DB.SQLitePath)
	switch cfg.DB.Type {
	case "sqlite":
		if cfg.DB.SQLitePath == "" {
			cfg.DB.SQLitePath = "data/database/hhs_data.db?_busy_timeout=30000"
		}
	case "mssql", "azuresql":
		if strings.TrimSpace(cfg.DB.MSSQL.Server) == "" || strings.TrimSpace(cfg.DB.MSSQL.Database) == "" {
			return Config{}, errors.New("database.mssql.server/database 不能为空（database.type=mssql）")
		}
		if !cfg.DB.MSSQL.TrustedConnection && strings.TrimSpace(cfg.DB.MSSQL.Username) == "" {
			return Config{}, errors.New("database.mssql.username 不能为空（未启用 trusted_connection）")
		}
	case "postgresql":
		if strings.TrimSpace(cfg.DB.Postgres.Host) == "" || strings.TrimSpace(cfg.DB.Postgres.Database) == "" {
			return Config{}, errors.New("database.postgresql.host/database 不能为空（database.type=postgresql）")
		}
		if strings.TrimSpace(cfg.DB.Postgres.Username) == "" {
			return Config{}, errors.New("database.postgresql.username 不能为空")
		}
	case "mysql":
		if strings.TrimSpace(cfg.DB.MySQL.Host) == "" || strings.TrimSpace(cfg.DB.MySQL.Database) == "" {
			return Config{}, errors.New("database.mysql.host/database 不能为空（database.type=mysql）")
		}
		if strings.TrimSpace(cfg.DB.MySQL.Username) == "" {
			return Config{}, errors.New("database.mysql.username 不能为空")
		}
	default:
		return Config{}, fmt.Errorf("database.type 不支持：%s（仅支持 sqlite/mssql/azuresql/postgresql/mysql）", cfg.DB.Type)
	}
	if cfg.DB.ConnectTimeoutSeconds <= 0 {
		cfg.DB.ConnectTimeoutSeconds = 30
	}
	if cfg.DB.MaxConnections <= 0 {
		cfg.DB.MaxConnections = 10
	}

	cfg.Dirs.DataDir = defaultDir(cfg.Dirs.DataDir, "data")
	cfg.Dirs.InputDir = defaultDir(cfg.Dirs.InputDir, "data/input")
	cfg.Dirs.OutputDir = defaultDir(cfg.Dirs.OutputDir, "data/output")
	cfg.Dirs.LogsDir = defaultDir(cfg.Dirs.LogsDir, "data/logs")
	cfg.Dirs.DatabaseDir = defaultDir(cfg.Dirs.DatabaseDir, "data/database")
	cfg.Dirs.BackupDir = defaultDir(cfg.Dirs.BackupDir, "data/backups")
	cfg.Dirs.SSLDir = defaultDir(cfg.Dirs.SSLDir, "data/ssl")

	if cfg.ETL.BatchSize <= 0 {
		cfg.ETL.BatchSize = 1000
	}
	if cfg.ETL.MaxWorkers <= 0 {
		cfg.ETL.MaxWorkers = 4
	}
	if cfg.ETL.TimeoutSeconds <= 0 {
		cfg.ETL.TimeoutSeconds = 300
	}
	if cfg.ETL.RetryAttempts < 0 {
		cfg.ETL.RetryAttempts = 3
	}
	if len(cfg.ETL.FilePatterns) == 0 {
		cfg.ETL.FilePatterns = []string{"*.txt", "*.csv", "*.tsv"}
	}
	if len(cfg.ETL.RecognizedExtensions) == 0 {
		cfg.ETL.RecognizedExtensions = []string{".txt", ".csv", ".tsv"}
	}
	if cfg.ETL.WatchSettleSeconds <= 0 {
		cfg.ETL.WatchSettleSeconds = 2
	}

	if cfg.PHI.Enable && strings.TrimSpace(cfg.PHI.Salt) == "" {
		salt, err := randomSaltHex(32)
		if err != nil {
			return Config{}, fmt.Errorf("生成 PHI 哈希盐失败: %w", err)
		}
		cfg.PHI.Salt = salt
	}

	if cfg.Auth.SessionTimeoutMinutes <= 0 {
		cfg.Auth.SessionTimeoutMinutes = 60
	}
	if cfg.Auth.MaxFailedLogins <= 0 {
		cfg.Auth.MaxFailedLogins = 5
	}
	if cfg.Auth.LockoutDurationMinutes <= 0 {
		cfg.Auth.LockoutDurationMinutes = 30
	}

	if cfg.SIEM.SyslogPort <= 0 {
		cfg.SIEM.SyslogPort = 514
	}
	cfg.SIEM.SyslogProtocol = strings.ToUpper(strings.TrimSpace(cfg.SIEM.SyslogProtocol))
	if cfg.SIEM.SyslogProtocol == "" {
		cfg.SIEM.SyslogProtocol = "UDP"
	}
	if cfg.SIEM.SyslogProtocol != "UDP" && cfg.SIEM.SyslogProtocol != "TCP" {
		return Config{}, fmt.Errorf("siem.syslog_protocol 不支持：%s（仅支持 UDP/TCP）", cfg.SIEM.SyslogProtocol)
	}
	if cfg.SIEM.SyslogMinSeverity == "" {
		cfg.SIEM.SyslogMinSeverity = "ERROR"
	}

	if cfg.SFTP.Port <= 0 {
		cfg.SFTP.Port = 22
	}
	cfg.SFTP.AuthMethod = strings.ToLower(strings.TrimSpace(cfg.SFTP.AuthMethod))
	if cfg.SFTP.AuthMethod == "" {
		cfg.SFTP.AuthMethod = "key"
	}
	if cfg.SFTP.AuthMethod != "key" && cfg.SFTP.AuthMethod != "password" {
		return Config{}, fmt.Errorf("sftp.auth_method 不支持：%s（仅支持 key/password）", cfg.SFTP.AuthMethod)
	}
	if cfg.SFTP.RemoteDirectory == "" {
		cfg.SFTP.RemoteDirectory = "/data/exports"
	}
	if cfg.SFTP.LocalDownloadPath == "" {
		cfg.SFTP.LocalDownloadPath = cfg.Dirs.InputDir
	}
	if cfg.SFTP.KnownHostsPath == "" {
		cfg.SFTP.KnownHostsPath = "data/sftp/known_hosts"
	}
	if cfg.SFTP.TimeoutSeconds <= 0 {
		cfg.SFTP.TimeoutSeconds = 30
	}
	if cfg.SFTP.MaxRetries <= 0 {
		cfg.SFTP.MaxRetries = 3
	}
	if cfg.SFTP.DownloadIntervalMin <= 0 {
		cfg.SFTP.DownloadIntervalMin = 60
	}
	if len(cfg.SFTP.FilePatterns) == 0 {
		cfg.SFTP.FilePatterns = []string{"*.txt", "*.csv"}
	}

	return cfg, nil
}

func defaultDir(v string, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}

// IsDevelopment 判断是否为开发环境（影响日志级别、安全 Cookie 等行为）。
func (c Config) IsDevelopment() bool { return c.Env == "development" }

// IsProduction 判断是否为生产环境。
func (c Config) IsProduction() bool { return c.Env == "production" }

// Addr 返回 HTTP 监听地址（host:port）。
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func defaultConfig() Config {
	return Config{
		Env: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,

			ReadHeaderTimeoutSeconds: 5,
			ReadTimeoutSeconds:       30,
			IdleTimeoutSeconds:       120,
			MaxHeaderBytes:           1048576,

			MaxBodyBytes:   8 << 20, // 上传数据文件需要比普通 JSON API 更大的请求体
			MaxConnections: 256,
		},
		DB: DBConfig{
			Type:       "sqlite",
			SQLitePath: "data/database/hhs_data.db?_busy_timeout=30000",
			MSSQL: MSSQLConfig{
				Server:            "localhost",
				Port:              1433,
				Database:          "hhs_data",
				TrustedConnection: true,
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "hhs_data",
				Username: "postgres",
			},
			MySQL: MySQLConfig{
				Host:     "localhost",
				Port:     3306,
				Database: "hhs_data",
				Username: "root",
			},
			ConnectTimeoutSeconds: 30,
			MaxConnections:        10,
		},
		Dirs: DirsConfig{
			DataDir:     "data",
			InputDir:    "data/input",
			OutputDir:   "data/output",
			LogsDir:     "data/logs",
			DatabaseDir: "data/database",
			BackupDir:   "data/backups",
			SSLDir:      "data/ssl",
		},
		Log: LogConfig{
			Level: "INFO",
		},
		ETL: ETLConfig{
			BatchSize:               1000,
			MaxWorkers:              4,
			TimeoutSeconds:          300,
			RetryAttempts:           3,
			SkipProcessed:           true,
			IgnoredFilenamePrefixes: []string{"SAMPLE", "TEST", "HHS"},
			FilePatterns:            []string{"*.txt", "*.csv", "*.tsv"},
			RecognizedExtensions:    []string{".txt", ".csv", ".tsv"},
		},
		PHI: PHIConfig{
			Enable:       true,
			HashOnImport: true,
			HashOnExport: true,
			FieldsToHash: defaultPHIFields(),
		},
		Quality: QualityConfig{
			ExpectedTables: defaultExpectedTables(),
			DateFields:     defaultDateFields(),
			BooleanFields:  defaultBooleanFields(),
			RequiredFields: defaultRequiredFields(),
			PrimaryKeys:    defaultPrimaryKeys(),
		},
		Auth: AuthConfig{
			SessionTimeoutMinutes:  60,
			MaxFailedLogins:        5,
			LockoutDurationMinutes: 30,
		},
		Audit: AuditConfig{
			RetentionDays: 90,
		},
		SIEM: SIEMConfig{
			SyslogHost:        "localhost",
			SyslogPort:        514,
			SyslogProtocol:    "UDP",
			SyslogMinSeverity: "ERROR",
		},
		SFTP: SFTPConfig{
			Port:                22,
			AuthMethod:          "key",
			RemoteDirectory:     "/data/exports",
			FilePatterns:        []string{"*.txt", "*.csv"},
			DownloadIntervalMin: 60,
			LocalDownloadPath:   "data/input",
			TimeoutSeconds:      30,
			MaxRetries:          3,
			VerifyHostKey:       true,
			KnownHostsPath:      "data/sftp/known_hosts",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ETL_ENVIRONMENT"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("WEB_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("WEB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("WEB_USE_HTTPS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.UseHTTPS = b
		}
	}
	if v := os.Getenv("WEB_CERT_FILE"); v != "" {
		cfg.Server.CertFile = v
	}
	if v := os.Getenv("WEB_KEY_FILE"); v != "" {
		cfg.Server.KeyFile = v
	}
	if v := os.Getenv("WEB_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.MaxConnections = n
		}
	}
	if v := os.Getenv("ETL_DATABASE_TYPE"); v != "" {
		cfg.DB.Type = v
	}
	if v := os.Getenv("ETL_DATABASE_PATH"); v != "" {
		cfg.DB.SQLitePath = v
	}
	if v := os.Getenv("ETL_MSSQL_SERVER"); v != "" {
		cfg.DB.MSSQL.Server = v
	}
	if v := os.Getenv("ETL_MSSQL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DB.MSSQL.Port = n
		}
	}
	if v := os.Getenv("ETL_MSSQL_DATABASE"); v != "" {
		cfg.DB.MSSQL.Database = v
	}
	if v := os.Getenv("ETL_MSSQL_USERNAME"); v != "" {
		cfg.DB.MSSQL.Username = v
	}
	if v := os.Getenv("ETL_MSSQL_PASSWORD"); v != "" {
		cfg.DB.MSSQL.Password = v
	}
	if v := os.Getenv("ETL_MSSQL_TRUSTED_CONNECTION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DB.MSSQL.TrustedConnection = b
		}
	}
	if v := os.Getenv("ETL_POSTGRESQL_HOST"); v != "" {
		cfg.DB.Postgres.Host = v
	}
	if v := os.Getenv("ETL_POSTGRESQL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DB.Postgres.Port = n
		}
	}
	if v := os.Getenv("ETL_POSTGRESQL_DATABASE"); v != "" {
		cfg.DB.Postgres.Database = v
	}
	if v := os.Getenv("ETL_POSTGRESQL_USERNAME"); v != "" {
		cfg.DB.Postgres.Username = v
	}
	if v := os.Getenv("ETL_POSTGRESQL_PASSWORD"); v != "" {
		cfg.DB.Postgres.Password = v
	}
	if v := os.Getenv("ETL_MYSQL_HOST"); v != "" {
		cfg.DB.MySQL.Host = v
	}
	if v := os.Getenv("ETL_MYSQL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DB.MySQL.Port = n
		}
	}
	if v := os.Getenv("ETL_MYSQL_DATABASE"); v != "" {
		cfg.DB.MySQL.Database = v
	}
	if v := os.Getenv("ETL_MYSQL_USERNAME"); v != "" {
		cfg.DB.MySQL.Username = v
	}
	if v := os.Getenv("ETL_MYSQL_PASSWORD"); v != "" {
		cfg.DB.MySQL.Password = v
	}
	if v := os.Getenv("ETL_DATABASE_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DB.ConnectTimeoutSeconds = n
		}
	}
	if v := os.Getenv("ETL_DATABASE_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DB.MaxConnections = n
		}
	}
	if v := os.Getenv("ETL_DATA_DIR"); v != "" {
		cfg.Dirs.DataDir = v
	}
	if v := os.Getenv("ETL_INPUT_DIR"); v != "" {
		cfg.Dirs.InputDir = v
	}
	if v := os.Getenv("ETL_OUTPUT_DIR"); v != "" {
		cfg.Dirs.OutputDir = v
	}
	if v := os.Getenv("ETL_LOGS_DIR"); v != "" {
		cfg.Dirs.LogsDir = v
	}
	if v := os.Getenv("ETL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ETL_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ETL.BatchSize = n
		}
	}
	if v := os.Getenv("ETL_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ETL.MaxWorkers = n
		}
	}
	if v := os.Getenv("ETL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ETL.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("ETL_SKIP_PROCESSED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ETL.SkipProcessed = b
		}
	}
	if v := os.Getenv("ETL_FILE_PATTERNS"); v != "" {
		cfg.ETL.FilePatterns = splitCSV(v)
	}
	if v := os.Getenv("ETL_RECOGNIZED_EXTENSIONS"); v != "" {
		cfg.ETL.RecognizedExtensions = splitCSV(v)
	}
	if v := os.Getenv("ETL_IGNORED_FILENAME_PREFIXES"); v != "" {
		cfg.ETL.IgnoredFilenamePrefixes = splitCSV(v)
	}
	if v := os.Getenv("PHI_HASH_SALT"); v != "" {
		cfg.PHI.Salt = v
	}
	if v := os.Getenv("ETL_PHI_HASHING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.PHI.Enable = b
		}
	}
	if v := os.Getenv("ETL_AUDIT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Audit.RetentionDays = n
		}
	}
	if v := os.Getenv("ETL_SESSION_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Auth.SessionTimeoutMinutes = n
		}
	}
	if v := os.Getenv("ETL_ALLOWED_IP_PREFIXES"); v != "" {
		cfg.Auth.AllowedIPPrefixes = splitCSV(v)
	}
	if v := os.Getenv("ETL_DISABLE_SECURE_COOKIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.DisableSecureCookies = b
		}
	}
	if v := os.Getenv("ETL_TRUST_PROXY_HEADERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.TrustProxyHeaders = b
		}
	}
	if v := os.Getenv("ETL_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.Auth.TrustedProxyCIDRs = splitCSV(v)
	}
}

func randomSaltHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
