package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func (s *Store) GetSIEMConfig(ctx context.Context) (SIEMConfig, error) {
	var cfg SIEMConfig
	var enabled, syslogEnabled, includeSensitive int
	var host sql.NullString
	err := s.internal.QueryRowContext(ctx, `
	SELECT enabled, syslog_enabled, syslog_host, syslog_port, syslog_protocol, include_sensitive_data, syslog_min_severity, updated_at, updated_by
	FROM sys_siem_config
	WHERE id=1
	`).Scan(&enabled, &syslogEnabled, &host, &cfg.SyslogPort, &cfg.SyslogProtocol,
		&includeSensitive, &cfg.SyslogMinSeverity, &cfg.UpdatedAt, &cfg.UpdatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SIEMConfig{}, sql.ErrNoRows
		}
		return SIEMConfig{}, fmt.Errorf("查询 SIEM 配置失败: %w", err)
	}
	cfg.Enabled = enabled == 1
	cfg.SyslogEnabled = syslogEnabled == 1
	cfg.IncludeSensitiveData = includeSensitive == 1
	cfg.SyslogHost = host.String
	return cfg, nil
}

func (s *Store) SaveSIEMConfig(ctx context.Context, cfg SIEMConfig, updatedBy string) error {
	if cfg.SyslogPort <= 0 {
		cfg.SyslogPort = 514
	}
	if cfg.SyslogProtocol == "" {
		cfg.SyslogProtocol = "UDP"
	}
	if cfg.SyslogMinSeverity == "" {
		cfg.SyslogMinSeverity = "ERROR"
	}
	_, err := s.internal.ExecContext(ctx, `
	INSERT OR REPLACE INTO sys_siem_config(id, enabled, syslog_enabled, syslog_host, syslog_port, syslog_protocol, include_sensitive_data, syslog_min_severity, updated_at, updated_by)
	VALUES(1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, boolInt(cfg.Enabled), boolInt(cfg.SyslogEnabled), cfg.SyslogHost, cfg.SyslogPort, cfg.SyslogProtocol,
		boolInt(cfg.IncludeSensitiveData), cfg.SyslogMinSeverity, nowText(), updatedBy)
	if err != nil {
		return fmt.Errorf("保存 SIEM 配置失败: %w", err)
	}
	return nil
}

// SeedSIEMConfig 在单行表为空时写入初始配置，已有配置时不覆盖。
func (s *Store) SeedSIEMConfig(ctx context.Context, cfg SIEMConfig) error {
	_, err := s.internal.ExecContext(ctx, `
	INSERT OR IGNORE INTO sys_siem_config(id, enabled, syslog_enabled, syslog_host, syslog_port, syslog_protocol, include_sensitive_data, syslog_min_severity, updated_at, updated_by)
	VALUES(1, ?, ?, ?, ?, ?, ?, ?, ?, 'system')
	`, boolInt(cfg.Enabled), boolInt(cfg.SyslogEnabled), cfg.SyslogHost, cfg.SyslogPort, cfg.SyslogProtocol,
		boolInt(cfg.IncludeSensitiveData), cfg.SyslogMinSeverity, nowText())
	if err != nil {
		return fmt.Errorf("初始化 SIEM 配置失败: %w", err)
	}
	return nil
}

func (s *Store) GetSFTPConfig(ctx context.Context) (SFTPConfig, error) {
	var cfg SFTPConfig
	var enabled, autoDownload, deleteAfter, verify int
	var host, username, keyPath, remoteDir, localPath, knownHosts sql.NullString
	err := s.internal.QueryRowContext(ctx, `
	SELECT enabled, host, port, username, auth_method, private_key_path, remote_directory,
	  auto_download, download_interval_minutes, delete_after_download, local_download_path,
	  timeout_seconds, max_retries, verify_host_key, known_hosts_path, updated_at, updated_by
	FROM sys_sftp_config
	WHERE id=1
	`).Scan(&enabled, &host, &cfg.Port, &username, &cfg.AuthMethod, &keyPath, &remoteDir,
		&autoDownload, &cfg.DownloadIntervalMinutes, &deleteAfter, &localPath,
		&cfg.TimeoutSeconds, &cfg.MaxRetries, &verify, &knownHosts, &cfg.UpdatedAt, &cfg.UpdatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SFTPConfig{}, sql.ErrNoRows
		}
		return SFTPConfig{}, fmt.Errorf("查询 SFTP 配置失败: %w", err)
	}
	cfg.Enabled = enabled == 1
	cfg.AutoDownload = autoDownload == 1
	cfg.DeleteAfterDownload = deleteAfter == 1
	cfg.VerifyHostKey = verify == 1
	cfg.Host = host.String
	cfg.Username = username.String
	cfg.PrivateKeyPath = keyPath.String
	cfg.RemoteDirectory = remoteDir.String
	cfg.LocalDownloadPath = localPath.String
	cfg.KnownHostsPath = knownHosts.String
	return cfg, nil
}

func (s *Store) SaveSFTPConfig(ctx context.Context, cfg SFTPConfig, updatedBy string) error {
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.AuthMethod == "" {
		cfg.AuthMethod = "key"
	}
	if cfg.DownloadIntervalMinutes <= 0 {
		cfg.DownloadIntervalMinutes = 60
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	_, err := s.internal.ExecContext(ctx, `
	INSERT OR REPLACE INTO sys_sftp_config(id, enabled, host, port, username, auth_method, private_key_path, remote_directory,
	  auto_download, download_interval_minutes, delete_after_download, local_download_path,
	  timeout_seconds, max_retries, verify_host_key, known_hosts_path, updated_at, updated_by)
	VALUES(1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, boolInt(cfg.Enabled), cfg.Host, cfg.Port, cfg.Username, cfg.AuthMethod, cfg.PrivateKeyPath, cfg.RemoteDirectory,
		boolInt(cfg.AutoDownload), cfg.DownloadIntervalMinutes, boolInt(cfg.DeleteAfterDownload), cfg.LocalDownloadPath,
		cfg.TimeoutSeconds, cfg.MaxRetries, boolInt(cfg.VerifyHostKey), cfg.KnownHostsPath, nowText(), updatedBy)
	if err != nil {
		return fmt.Errorf("保存 SFTP 配置失败: %w", err)
	}
	return nil
}

// SeedSFTPConfig 在单行表为空时写入初始配置，已有配置时不覆盖。
func (s *Store) SeedSFTPConfig(ctx context.Context, cfg SFTPConfig) error {
	_, err := s.internal.ExecContext(ctx, `
	INSERT OR IGNORE INTO sys_sftp_config(id, enabled, host, port, username, auth_method, private_key_path, remote_directory,
	  auto_download, download_interval_minutes, delete_after_download, local_download_path,
	  timeout_seconds, max_retries, verify_host_key, known_hosts_path, updated_at, updated_by)
	VALUES(1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'system')
	`, boolInt(cfg.Enabled), cfg.Host, cfg.Port, cfg.Username, cfg.AuthMethod, cfg.PrivateKeyPath, cfg.RemoteDirectory,
		boolInt(cfg.AutoDownload), cfg.DownloadIntervalMinutes, boolInt(cfg.DeleteAfterDownload), cfg.LocalDownloadPath,
		cfg.TimeoutSeconds, cfg.MaxRetries, boolInt(cfg.VerifyHostKey), cfg.KnownHostsPath, nowText())
	if err != nil {
		return fmt.Errorf("初始化 SFTP 配置失败: %w", err)
	}
	return nil
}

func (s *Store) ListSFTPFilePatterns(ctx context.Context, onlyEnabled bool) ([]SFTPFilePattern, error) {
	query := `SELECT id, pattern, enabled, created_at FROM sftp_file_patterns`
	if onlyEnabled {
		query += ` WHERE enabled=1`
	}
	query += ` ORDER BY id`

	rows, err := s.internal.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询文件模式失败: %w", err)
	}
	defer rows.Close()

	var out []SFTPFilePattern
	for rows.Next() {
		var (
			p       SFTPFilePattern
			enabled int
		)
		if err := rows.Scan(&p.ID, &p.Pattern, &enabled, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("扫描文件模式失败: %w", err)
		}
		p.Enabled = enabled == 1
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历文件模式失败: %w", err)
	}
	return out, nil
}

func (s *Store) AddSFTPFilePattern(ctx context.Context, pattern string) (int64, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return 0, errors.New("pattern 不能为空")
	}
	res, err := s.internal.ExecContext(ctx, `
	INSERT INTO sftp_file_patterns(pattern, enabled, created_at) VALUES(?, 1, ?)
	`, pattern, nowText())
	if err != nil {
		return 0, fmt.Errorf("新增文件模式失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("获取文件模式 id 失败: %w", err)
	}
	return id, nil
}

func (s *Store) SetSFTPFilePatternEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.internal.ExecContext(ctx, `
	UPDATE sftp_file_patterns SET enabled=? WHERE id=?
	`, boolInt(enabled), id)
	if err != nil {
		return fmt.Errorf("更新文件模式失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteSFTPFilePattern(ctx context.Context, id int64) error {
	res, err := s.internal.ExecContext(ctx, `DELETE FROM sftp_file_patterns WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("删除文件模式失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) GetDatabaseSettings(ctx context.Context) (DatabaseSettings, error) {
	var (
		ds      DatabaseSettings
		trusted int
	)
	err := s.internal.QueryRowContext(ctx, `
	SELECT db_type, path, mssql_server, mssql_port, mssql_database, mssql_username, mssql_password, mssql_trusted_connection,
	  postgresql_host, postgresql_port, postgresql_database, postgresql_username, postgresql_password,
	  mysql_host, mysql_port, mysql_database, mysql_username, mysql_password,
	  connection_timeout, max_connections, updated_at, updated_by
	FROM database_config
	WHERE id=1
	`).Scan(&ds.DBType, &ds.Path, &ds.MSSQLServer, &ds.MSSQLPort, &ds.MSSQLDatabase, &ds.MSSQLUsername, &ds.MSSQLPassword, &trusted,
		&ds.PostgresHost, &ds.PostgresPort, &ds.PostgresDatabase, &ds.PostgresUsername, &ds.PostgresPassword,
		&ds.MySQLHost, &ds.MySQLPort, &ds.MySQLDatabase, &ds.MySQLUsername, &ds.MySQLPassword,
		&ds.ConnectionTimeout, &ds.MaxConnections, &ds.UpdatedAt, &ds.UpdatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DatabaseSettings{}, sql.ErrNoRows
		}
		return DatabaseSettings{}, fmt.Errorf("查询数据库配置失败: %w", err)
	}
	ds.MSSQLTrustedConnection = trusted == 1
	return ds, nil
}

// SaveDatabaseSettings 覆盖业务库连接设置，重启后生效。
func (s *Store) SaveDatabaseSettings(ctx context.Context, ds DatabaseSettings, updatedBy string) error {
	if strings.TrimSpace(ds.DBType) == "" {
		return errors.New("db_type 不能为空")
	}
	if ds.ConnectionTimeout <= 0 {
		ds.ConnectionTimeout = 30
	}
	if ds.MaxConnections <= 0 {
		ds.MaxConnections = 10
	}
	_, err := s.internal.ExecContext(ctx, `
	INSERT OR REPLACE INTO database_config(id, db_type, path, mssql_server, mssql_port, mssql_database, mssql_username, mssql_password, mssql_trusted_connection,
	  postgresql_host, postgresql_port, postgresql_database, postgresql_username, postgresql_password,
	  mysql_host, mysql_port, mysql_database, mysql_username, mysql_password,
	  connection_timeout, max_connections, updated_at, updated_by)
	VALUES(1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ds.DBType, ds.Path, ds.MSSQLServer, ds.MSSQLPort, ds.MSSQLDatabase, ds.MSSQLUsername, ds.MSSQLPassword, boolInt(ds.MSSQLTrustedConnection),
		ds.PostgresHost, ds.PostgresPort, ds.PostgresDatabase, ds.PostgresUsername, ds.PostgresPassword,
		ds.MySQLHost, ds.MySQLPort, ds.MySQLDatabase, ds.MySQLUsername, ds.MySQLPassword,
		ds.ConnectionTimeout, ds.MaxConnections, nowText(), updatedBy)
	if err != nil {
		return fmt.Errorf("保存数据库配置失败: %w", err)
	}
	return nil
}

// SeedDatabaseSettings 在单行表为空时写入初始配置，已有配置时不覆盖。
func (s *Store) SeedDatabaseSettings(ctx context.Context, ds DatabaseSettings) error {
	if strings.TrimSpace(ds.DBType) == "" {
		ds.DBType = "sqlite"
	}
	if ds.ConnectionTimeout <= 0 {
		ds.ConnectionTimeout = 30
	}
	if ds.MaxConnections <= 0 {
		ds.MaxConnections = 10
	}
	_, err := s.internal.ExecContext(ctx, `
	INSERT OR IGNORE INTO database_config(id, db_type, path, mssql_server, mssql_port, mssql_database, mssql_username, mssql_password, mssql_trusted_connection,
	  postgresql_host, postgresql_port, postgresql_database, postgresql_username, postgresql_password,
	  mysql_host, mysql_port, mysql_database, mysql_username, mysql_password,
	  connection_timeout, max_connections, updated_at, updated_by)
	VALUES(1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'system')
	`, ds.DBType, ds.Path, ds.MSSQLServer, ds.MSSQLPort, ds.MSSQLDatabase, ds.MSSQLUsername, ds.MSSQLPassword, boolInt(ds.MSSQLTrustedConnection),
		ds.PostgresHost, ds.PostgresPort, ds.PostgresDatabase, ds.PostgresUsername, ds.PostgresPassword,
		ds.MySQLHost, ds.MySQLPort, ds.MySQLDatabase, ds.MySQLUsername, ds.MySQLPassword,
		ds.ConnectionTimeout, ds.MaxConnections, nowText())
	if err != nil {
		return fmt.Errorf("初始化数据库配置失败: %w", err)
	}
	return nil
}

func (s *Store) ListFileTableMappings(ctx context.Context, onlyActive bool) ([]FileTableMapping, error) {
	query := `
	SELECT id, file_pattern, table_name, created_at, updated_at, created_by, is_active
	FROM file_table_mappings`
	if onlyActive {
		query += ` WHERE is_active=1`
	}
	query += ` ORDER BY file_pattern`

	rows, err := s.internal.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询文件表映射失败: %w", err)
	}
	defer rows.Close()

	var out []FileTableMapping
	for rows.Next() {
		var (
			m      FileTableMapping
			active int
		)
		if err := rows.Scan(&m.ID, &m.FilePattern, &m.TableName, &m.CreatedAt, &m.UpdatedAt, &m.CreatedBy, &active); err != nil {
			return nil, fmt.Errorf("扫描文件表映射失败: %w", err)
		}
		m.IsActive = active == 1
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历文件表映射失败: %w", err)
	}
	return out, nil
}

// UpsertFileTableMapping 按 file_pattern 唯一键写入或更新映射。
func (s *Store) UpsertFileTableMapping(ctx context.Context, pattern string, tableName string, createdBy *string) error {
	pattern = strings.TrimSpace(pattern)
	tableName = strings.TrimSpace(tableName)
	if pattern == "" {
		return errors.New("file_pattern 不能为空")
	}
	if tableName == "" {
		return errors.New("table_name 不能为空")
	}

	res, err := s.internal.ExecContext(ctx, `
	UPDATE file_table_mappings SET table_name=?, updated_at=?, is_active=1 WHERE file_pattern=?
	`, tableName, nowText(), pattern)
	if err != nil {
		return fmt.Errorf("更新文件表映射失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.internal.ExecContext(ctx, `
	INSERT INTO file_table_mappings(file_pattern, table_name, created_at, updated_at, created_by, is_active)
	VALUES(?, ?, ?, ?, ?, 1)
	`, pattern, tableName, nowText(), nowText(), createdBy)
	if err != nil {
		return fmt.Errorf("写入文件表映射失败: %w", err)
	}
	return nil
}

func (s *Store) SetFileTableMappingActive(ctx context.Context, id int64, active bool) error {
	res, err := s.internal.ExecContext(ctx, `
	UPDATE file_table_mappings SET is_active=?, updated_at=? WHERE id=?
	`, boolInt(active), nowText(), id)
	if err != nil {
		return fmt.Errorf("更新文件表映射状态失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteFileTableMapping(ctx context.Context, id int64) error {
	res, err := s.internal.ExecContext(ctx, `DELETE FROM file_table_mappings WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("删除文件表映射失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
