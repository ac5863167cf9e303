package router

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"hhsetl/internal/siem"
	"hhsetl/internal/store"
)

// passwordMask 是设置接口对外展示的密码占位；提交同样的占位表示保持不变。
const passwordMask = "********"

func setSettingsAPIRoutes(r gin.IRoutes, opts Options) {
	admin := requireRole(opts, store.RoleAdmin)

	r.GET("/settings/siem", admin, getSIEMSettingsHandler(opts))
	r.POST("/settings/siem", admin, saveSIEMSettingsHandler(opts))

	r.GET("/settings/sftp", admin, getSFTPSettingsHandler(opts))
	r.POST("/settings/sftp", admin, saveSFTPSettingsHandler(opts))
	r.GET("/settings/sftp/patterns", admin, listSFTPPatternsHandler(opts))
	r.POST("/settings/sftp/patterns", admin, addSFTPPatternHandler(opts))
	r.PUT("/settings/sftp/patterns/:id", admin, updateSFTPPatternHandler(opts))
	r.DELETE("/settings/sftp/patterns/:id", admin, deleteSFTPPatternHandler(opts))

	r.GET("/settings/database", admin, getDatabaseSettingsHandler(opts))
	r.POST("/settings/database", admin, saveDatabaseSettingsHandler(opts))

	r.GET("/settings/mappings", admin, listMappingsHandler(opts))
	r.POST("/settings/mappings", admin, upsertMappingHandler(opts))
	r.PUT("/settings/mappings/:id", admin, setMappingActiveHandler(opts))
	r.DELETE("/settings/mappings/:id", admin, deleteMappingHandler(opts))

	r.GET("/settings/export", admin, exportSettingsHandler(opts))
	r.POST("/settings/import", admin, importSettingsHandler(opts))
}

func auditConfigChange(c *gin.Context, opts Options, target string) {
	auditFromContext(c, opts, store.AuditEvent{
		Category:       store.AuditCategoryConfiguration,
		Action:         "config_changed",
		TargetResource: strPtr(target),
		Success:        true,
	})
	siemNotify(c, opts, siem.Event{
		Category: siem.CategoryConfigurationChange,
		Action:   "config_changed",
		Severity: siem.SeverityNotice,
		Message:  "系统配置已修改",
		Resource: target,
		Success:  true,
	})
}

// ---- SIEM ----

type siemSettingsAPI struct {
	Enabled              bool   `json:"enabled"`
	SyslogEnabled        bool   `json:"syslog_enabled"`
	SyslogHost           string `json:"syslog_host"`
	SyslogPort           int    `json:"syslog_port"`
	SyslogProtocol       string `json:"syslog_protocol"`
	IncludeSensitiveData bool   `json:"include_sensitive_data"`
	SyslogMinSeverity    string `json:"syslog_min_severity"`
	UpdatedAt            string `json:"updated_at,omitempty"`
	UpdatedBy            string `json:"updated_by,omitempty"`
}

func siemSettingsView(cfg store.SIEMConfig) siemSettingsAPI {
	return siemSettingsAPI{
		Enabled:              cfg.Enabled,
		SyslogEnabled:        cfg.SyslogEnabled,
		SyslogHost:           cfg.SyslogHost,
		SyslogPort:           cfg.SyslogPort,
		SyslogProtocol:       cfg.SyslogProtocol,
		IncludeSensitiveData: cfg.IncludeSensitiveData,
		SyslogMinSeverity:    cfg.SyslogMinSeverity,
		UpdatedAt:            cfg.UpdatedAt,
		UpdatedBy:            cfg.UpdatedBy,
	}
}

func (in siemSettingsAPI) model() store.SIEMConfig {
	return store.SIEMConfig{
		Enabled:              in.Enabled,
		SyslogEnabled:        in.SyslogEnabled,
		SyslogHost:           in.SyslogHost,
		SyslogPort:           in.SyslogPort,
		SyslogProtocol:       in.SyslogProtocol,
		IncludeSensitiveData: in.IncludeSensitiveData,
		SyslogMinSeverity:    in.SyslogMinSeverity,
	}
}

func getSIEMSettingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := opts.Store.GetSIEMConfig(c.Request.Context())
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			fail(c, "读取 SIEM 配置失败")
			return
		}
		okData(c, siemSettingsView(cfg))
	}
}

func saveSIEMSettingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in siemSettingsAPI
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}
		sess, _ := currentSession(c)
		cfg := in.model()
		if err := opts.Store.SaveSIEMConfig(c.Request.Context(), cfg, sess.Username); err != nil {
			fail(c, "保存 SIEM 配置失败")
			return
		}
		// 保存即生效，重建 syslog 连接。
		if opts.SIEM != nil {
			if saved, err := opts.Store.GetSIEMConfig(c.Request.Context()); err == nil {
				opts.SIEM.Reload(saved)
			}
		}
		auditConfigChange(c, opts, "siem_config")
		ok(c, "SIEM 配置已保存")
	}
}

// ---- SFTP ----

type sftpSettingsAPI struct {
	Enabled                 bool   `json:"enabled"`
	Host                    string `json:"host"`
	Port                    int    `json:"port"`
	Username                string `json:"username"`
	AuthMethod              string `json:"auth_method"`
	PrivateKeyPath          string `json:"private_key_path"`
	RemoteDirectory         string `json:"remote_directory"`
	AutoDownload            bool   `json:"auto_download"`
	DownloadIntervalMinutes int    `json:"download_interval_minutes"`
	DeleteAfterDownload     bool   `json:"delete_after_download"`
	LocalDownloadPath       string `json:"local_download_path"`
	TimeoutSeconds          int    `json:"timeout_seconds"`
	MaxRetries              int    `json:"max_retries"`
	VerifyHostKey           bool   `json:"verify_host_key"`
	KnownHostsPath          string `json:"known_hosts_path"`
	UpdatedAt               string `json:"updated_at,omitempty"`
	UpdatedBy               string `json:"updated_by,omitempty"`
}

func sftpSettingsView(cfg store.SFTPConfig) sftpSettingsAPI {
	return sftpSettingsAPI{
		Enabled:                 cfg.Enabled,
		Host:                    cfg.Host,
		Port:                    cfg.Port,
		Username:                cfg.Username,
		AuthMethod:              cfg.AuthMethod,
		PrivateKeyPath:          cfg.PrivateKeyPath,
		RemoteDirectory:         cfg.RemoteDirectory,
		AutoDownload:            cfg.AutoDownload,
		DownloadIntervalMinutes: cfg.DownloadIntervalMinutes,
		DeleteAfterDownload:     cfg.DeleteAfterDownload,
		LocalDownloadPath:       cfg.LocalDownloadPath,
		TimeoutSeconds:          cfg.TimeoutSeconds,
		MaxRetries:              cfg.MaxRetries,
		VerifyHostKey:           cfg.VerifyHostKey,
		KnownHostsPath:          cfg.KnownHostsPath,
		UpdatedAt:               cfg.UpdatedAt,
		UpdatedBy:               cfg.UpdatedBy,
	}
}

func (in sftpSettingsAPI) model() store.SFTPConfig {
	return store.SFTPConfig{
		Enabled:                 in.Enabled,
		Host:                    in.Host,
		Port:                    in.Port,
		Username:                in.Username,
		AuthMethod:              in.AuthMethod,
		PrivateKeyPath:          in.PrivateKeyPath,
		RemoteDirectory:         in.RemoteDirectory,
		AutoDownload:            in.AutoDownload,
		DownloadIntervalMinutes: in.DownloadIntervalMinutes,
		DeleteAfterDownload:     in.DeleteAfterDownload,
		LocalDownloadPath:       in.LocalDownloadPath,
		TimeoutSeconds:          in.TimeoutSeconds,
		MaxRetries:              in.MaxRetries,
		VerifyHostKey:           in.VerifyHostKey,
		KnownHostsPath:          in.KnownHostsPath,
	}
}

func getSFTPSettingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := opts.Store.GetSFTPConfig(c.Request.Context())
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			fail(c, "读取 SFTP 配置失败")
			return
		}
		okData(c, sftpSettingsView(cfg))
	}
}

func saveSFTPSettingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in sftpSettingsAPI
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}
		sess, _ := currentSession(c)
		if err := opts.Store.SaveSFTPConfig(c.Request.Context(), in.model(), sess.Username); err != nil {
			fail(c, "保存 SFTP 配置失败")
			return
		}
		auditConfigChange(c, opts, "sftp_config")
		ok(c, "SFTP 配置已保存")
	}
}

type sftpPatternAPI struct {
	ID        int64  `json:"id"`
	Pattern   string `json:"pattern"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"created_at"`
}

func listSFTPPatternsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		patterns, err := opts.Store.ListSFTPFilePatterns(c.Request.Context(), false)
		if err != nil {
			fail(c, "查询文件模式失败")
			return
		}
		out := make([]sftpPatternAPI, 0, len(patterns))
		for _, p := range patterns {
			out = append(out, sftpPatternAPI{ID: p.ID, Pattern: p.Pattern, Enabled: p.Enabled, CreatedAt: p.CreatedAt})
		}
		okData(c, gin.H{"patterns": out})
	}
}

func addSFTPPatternHandler(opts Options) gin.HandlerFunc {
	type req struct {
		Pattern string `json:"pattern"`
	}
	return func(c *gin.Context) {
		var in req
		if err := c.ShouldBindJSON(&in); err != nil || in.Pattern == "" {
			fail(c, "pattern 不能为空")
			return
		}
		id, err := opts.Store.AddSFTPFilePattern(c.Request.Context(), in.Pattern)
		if err != nil {
			fail(c, "新增文件模式失败："+err.Error())
			return
		}
		auditConfigChange(c, opts, "sftp_file_patterns")
		okData(c, gin.H{"id": id})
	}
}

func updateSFTPPatternHandler(opts Options) gin.HandlerFunc {
	type req struct {
		Enabled bool `json:"enabled"`
	}
	return func(c *gin.Context) {
		id, errID := pathID(c)
		if errID != nil {
			fail(c, "id 非法")
			return
		}
		var in req
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}
		if err := opts.Store.SetSFTPFilePatternEnabled(c.Request.Context(), id, in.Enabled); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fail(c, "文件模式不存在")
				return
			}
			fail(c, "更新文件模式失败")
			return
		}
		auditConfigChange(c, opts, "sftp_file_patterns")
		ok(c, "文件模式已更新")
	}
}

func deleteSFTPPatternHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, errID := pathID(c)
		if errID != nil {
			fail(c, "id 非法")
			return
		}
		if err := opts.Store.DeleteSFTPFilePattern(c.Request.Context(), id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fail(c, "文件模式不存在")
				return
			}
			fail(c, "删除文件模式失败")
			return
		}
		auditConfigChange(c, opts, "sftp_file_patterns")
		ok(c, "文件模式已删除")
	}
}

// ---- 业务库连接 ----

type databaseSettingsAPI struct {
	DBType                 string  `json:"db_type"`
	Path                   *string `json:"path"`
	MSSQLServer            *string `json:"mssql_server"`
	MSSQLPort              *int    `json:"mssql_port"`
	MSSQLDatabase          *string `json:"mssql_database"`
	MSSQLUsername          *string `json:"mssql_username"`
	MSSQLPassword          *string `json:"mssql_password"`
	MSSQLTrustedConnection bool    `json:"mssql_trusted_connection"`
	PostgresHost           *string `json:"postgresql_host"`
	PostgresPort           *int    `json:"postgresql_port"`
	PostgresDatabase       *string `json:"postgresql_database"`
	PostgresUsername       *string `json:"postgresql_username"`
	PostgresPassword       *string `json:"postgresql_password"`
	MySQLHost              *string `json:"mysql_host"`
	MySQLPort              *int    `json:"mysql_port"`
	MySQLDatabase          *string `json:"mysql_database"`
	MySQLUsername          *string `json:"mysql_username"`
	MySQLPassword          *string `json:"mysql_password"`
	ConnectionTimeout      int     `json:"connection_timeout"`
	MaxConnections         int     `json:"max_connections"`
	UpdatedAt              *string `json:"updated_at,omitempty"`
	UpdatedBy              *string `json:"updated_by,omitempty"`
}

// databaseSettingsView 把落库的连接设置转成对外视图，密码替换为占位。
func databaseSettingsView(ds store.DatabaseSettings) databaseSettingsAPI {
	return databaseSettingsAPI{
		DBType:                 ds.DBType,
		Path:                   ds.Path,
		MSSQLServer:            ds.MSSQLServer,
		MSSQLPort:              ds.MSSQLPort,
		MSSQLDatabase:          ds.MSSQLDatabase,
		MSSQLUsername:          ds.MSSQLUsername,
		MSSQLPassword:          maskPassword(ds.MSSQLPassword),
		MSSQLTrustedConnection: ds.MSSQLTrustedConnection,
		PostgresHost:           ds.PostgresHost,
		PostgresPort:           ds.PostgresPort,
		PostgresDatabase:       ds.PostgresDatabase,
		PostgresUsername:       ds.PostgresUsername,
		PostgresPassword:       maskPassword(ds.PostgresPassword),
		MySQLHost:              ds.MySQLHost,
		MySQLPort:              ds.MySQLPort,
		MySQLDatabase:          ds.MySQLDatabase,
		MySQLUsername:          ds.MySQLUsername,
		MySQLPassword:          maskPassword(ds.MySQLPassword),
		ConnectionTimeout:      ds.ConnectionTimeout,
		MaxConnections:         ds.MaxConnections,
		UpdatedAt:              ds.UpdatedAt,
		UpdatedBy:              ds.UpdatedBy,
	}
}

// model 把提交的视图转回模型；密码字段为占位时沿用 current 的值。
func (in databaseSettingsAPI) model(current store.DatabaseSettings) store.DatabaseSettings {
	return store.DatabaseSettings{
		DBType:                 in.DBType,
		Path:                   in.Path,
		MSSQLServer:            in.MSSQLServer,
		MSSQLPort:              in.MSSQLPort,
		MSSQLDatabase:          in.MSSQLDatabase,
		MSSQLUsername:          in.MSSQLUsername,
		MSSQLPassword:          unmaskPassword(in.MSSQLPassword, current.MSSQLPassword),
		MSSQLTrustedConnection: in.MSSQLTrustedConnection,
		PostgresHost:           in.PostgresHost,
		PostgresPort:           in.PostgresPort,
		PostgresDatabase:       in.PostgresDatabase,
		PostgresUsername:       in.PostgresUsername,
		PostgresPassword:       unmaskPassword(in.PostgresPassword, current.PostgresPassword),
		MySQLHost:              in.MySQLHost,
		MySQLPort:              in.MySQLPort,
		MySQLDatabase:          in.MySQLDatabase,
		MySQLUsername:          in.MySQLUsername,
		MySQLPassword:          unmaskPassword(in.MySQLPassword, current.MySQLPassword),
		ConnectionTimeout:      in.ConnectionTimeout,
		MaxConnections:         in.MaxConnections,
	}
}

func maskPassword(p *string) *string {
	if p == nil || *p == "" {
		return p
	}
	m := passwordMask
	return &m
}

func unmaskPassword(submitted *string, current *string) *string {
	if submitted != nil && *submitted == passwordMask {
		return current
	}
	return submitted
}

func getDatabaseSettingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		ds, err := opts.Store.GetDatabaseSettings(c.Request.Context())
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			fail(c, "读取数据库配置失败")
			return
		}
		okData(c, databaseSettingsView(ds))
	}
}

func saveDatabaseSettingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in databaseSettingsAPI
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}
		if _, err := store.DialectFromDBType(in.DBType); err != nil {
			fail(c, err.Error())
			return
		}

		current, err := opts.Store.GetDatabaseSettings(c.Request.Context())
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			fail(c, "读取数据库配置失败")
			return
		}
		sess, _ := currentSession(c)
		if err := opts.Store.SaveDatabaseSettings(c.Request.Context(), in.model(current), sess.Username); err != nil {
			fail(c, "保存数据库配置失败："+err.Error())
			return
		}
		auditConfigChange(c, opts, "database_config")
		ok(c, "数据库配置已保存，重启服务后生效")
	}
}

// ---- 文件表映射 ----

type mappingAPI struct {
	ID          int64   `json:"id"`
	FilePattern string  `json:"file_pattern"`
	TableName   string  `json:"table_name"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	CreatedBy   *string `json:"created_by"`
	IsActive    bool    `json:"is_active"`
}

func listMappingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		mappings, err := opts.Store.ListFileTableMappings(c.Request.Context(), false)
		if err != nil {
			fail(c, "查询文件表映射失败")
			return
		}
		out := make([]mappingAPI, 0, len(mappings))
		for _, m := range mappings {
			out = append(out, mappingAPI{
				ID: m.ID, FilePattern: m.FilePattern, TableName: m.TableName,
				CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, CreatedBy: m.CreatedBy, IsActive: m.IsActive,
			})
		}
		okData(c, gin.H{"mappings": out})
	}
}

func upsertMappingHandler(opts Options) gin.HandlerFunc {
	type req struct {
		FilePattern string `json:"file_pattern"`
		TableName   string `json:"table_name"`
	}
	return func(c *gin.Context) {
		var in req
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}
		if !store.IsDomainTable(in.TableName) {
			fail(c, "未知的目标表："+in.TableName)
			return
		}
		sess, _ := currentSession(c)
		if err := opts.Store.UpsertFileTableMapping(c.Request.Context(), in.FilePattern, in.TableName, strPtr(sess.Username)); err != nil {
			fail(c, "保存文件表映射失败："+err.Error())
			return
		}
		auditConfigChange(c, opts, "file_table_mappings")
		ok(c, "文件表映射已保存")
	}
}

func setMappingActiveHandler(opts Options) gin.HandlerFunc {
	type req struct {
		IsActive bool `json:"is_active"`
	}
	return func(c *gin.Context) {
		id, errID := pathID(c)
		if errID != nil {
			fail(c, "id 非法")
			return
		}
		var in req
		if err := c.ShouldBindJSON(&in); err != nil {
			fail(c, "参数错误")
			return
		}
		if err := opts.Store.SetFileTableMappingActive(c.Request.Context(), id, in.IsActive); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fail(c, "映射不存在")
				return
			}
			fail(c, "更新映射失败")
			return
		}
		auditConfigChange(c, opts, "file_table_mappings")
		ok(c, "映射已更新")
	}
}

func deleteMappingHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, errID := pathID(c)
		if errID != nil {
			fail(c, "id 非法")
			return
		}
		if err := opts.Store.DeleteFileTableMapping(c.Request.Context(), id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fail(c, "映射不存在")
				return
			}
			fail(c, "删除映射失败")
			return
		}
		auditConfigChange(c, opts, "file_table_mappings")
		ok(c, "映射已删除")
	}
}

// ---- 导出 / 导入 ----

// settingsPasswordPaths 是导出 JSON 里需要脱敏的字段路径。
var settingsPasswordPaths = []string{
	"database.mssql_password",
	"database.postgresql_password",
	"database.mysql_password",
}

func exportSettingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		siemCfg, err := opts.Store.GetSIEMConfig(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			fail(c, "读取 SIEM 配置失败")
			return
		}
		sftpCfg, err := opts.Store.GetSFTPConfig(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			fail(c, "读取 SFTP 配置失败")
			return
		}
		ds, err := opts.Store.GetDatabaseSettings(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			fail(c, "读取数据库配置失败")
			return
		}
		patterns, err := opts.Store.ListSFTPFilePatterns(ctx, false)
		if err != nil {
			fail(c, "读取文件模式失败")
			return
		}
		mappings, err := opts.Store.ListFileTableMappings(ctx, false)
		if err != nil {
			fail(c, "读取文件表映射失败")
			return
		}

		patternViews := make([]sftpPatternAPI, 0, len(patterns))
		for _, p := range patterns {
			patternViews = append(patternViews, sftpPatternAPI{ID: p.ID, Pattern: p.Pattern, Enabled: p.Enabled, CreatedAt: p.CreatedAt})
		}
		mappingViews := make([]mappingAPI, 0, len(mappings))
		for _, m := range mappings {
			mappingViews = append(mappingViews, mappingAPI{
				ID: m.ID, FilePattern: m.FilePattern, TableName: m.TableName,
				CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, CreatedBy: m.CreatedBy, IsActive: m.IsActive,
			})
		}

		raw, err := json.Marshal(gin.H{
			"siem":                siemSettingsView(siemCfg),
			"sftp":                sftpSettingsView(sftpCfg),
			"database":            databaseSettingsView(ds),
			"sftp_patterns":       patternViews,
			"file_table_mappings": mappingViews,
		})
		if err != nil {
			fail(c, "序列化配置失败")
			return
		}
		// 视图层已经脱敏，这里兜底再扫一遍避免将来新增字段漏掉。
		for _, path := range settingsPasswordPaths {
			if v := gjson.GetBytes(raw, path); v.Exists() && v.String() != "" && v.String() != passwordMask {
				raw, _ = sjson.SetBytes(raw, path, passwordMask)
			}
		}

		auditFromContext(c, opts, store.AuditEvent{
			Category: store.AuditCategoryConfiguration,
			Action:   "settings_exported",
			Success:  true,
		})
		c.Header("Content-Disposition", `attachment; filename="hhsetl-settings.json"`)
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
}

func importSettingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil || !gjson.ValidBytes(raw) {
			fail(c, "导入内容不是合法 JSON")
			return
		}
		ctx := c.Request.Context()
		sess, _ := currentSession(c)

		// 占位密码替换成当前保存的真实值，导出件可以原样导回。
		if current, err := opts.Store.GetDatabaseSettings(ctx); err == nil {
			real := map[string]*string{
				"database.mssql_password":      current.MSSQLPassword,
				"database.postgresql_password": current.PostgresPassword,
				"database.mysql_password":      current.MySQLPassword,
			}
			for path, val := range real {
				if gjson.GetBytes(raw, path).String() == passwordMask {
					if val != nil {
						raw, _ = sjson.SetBytes(raw, path, *val)
					} else {
						raw, _ = sjson.DeleteBytes(raw, path)
					}
				}
			}
		}

		applied := []string{}
		if section := gjson.GetBytes(raw, "siem"); section.Exists() {
			var in siemSettingsAPI
			if err := json.Unmarshal([]byte(section.Raw), &in); err != nil {
				fail(c, "siem 配置格式错误")
				return
			}
			if err := opts.Store.SaveSIEMConfig(ctx, in.model(), sess.Username); err != nil {
				fail(c, "导入 SIEM 配置失败")
				return
			}
			if opts.SIEM != nil {
				if saved, err := opts.Store.GetSIEMConfig(ctx); err == nil {
					opts.SIEM.Reload(saved)
				}
			}
			applied = append(applied, "siem")
		}
		if section := gjson.GetBytes(raw, "sftp"); section.Exists() {
			var in sftpSettingsAPI
			if err := json.Unmarshal([]byte(section.Raw), &in); err != nil {
				fail(c, "sftp 配置格式错误")
				return
			}
			if err := opts.Store.SaveSFTPConfig(ctx, in.model(), sess.Username); err != nil {
				fail(c, "导入 SFTP 配置失败")
				return
			}
			applied = append(applied, "sftp")
		}
		if section := gjson.GetBytes(raw, "database"); section.Exists() {
			var in databaseSettingsAPI
			if err := json.Unmarshal([]byte(section.Raw), &in); err != nil {
				fail(c, "数据库配置格式错误")
				return
			}
			if _, err := store.DialectFromDBType(in.DBType); err != nil {
				fail(c, err.Error())
				return
			}
			current, _ := opts.Store.GetDatabaseSettings(ctx)
			if err := opts.Store.SaveDatabaseSettings(ctx, in.model(current), sess.Username); err != nil {
				fail(c, "导入数据库配置失败："+err.Error())
				return
			}
			applied = append(applied, "database")
		}
		if section := gjson.GetBytes(raw, "file_table_mappings"); section.IsArray() {
			for _, item := range section.Array() {
				pattern := item.Get("file_pattern").String()
				table := item.Get("table_name").String()
				if pattern == "" || !store.IsDomainTable(table) {
					continue
				}
				if err := opts.Store.UpsertFileTableMapping(ctx, pattern, table, strPtr(sess.Username)); err != nil {
					fail(c, "导入文件表映射失败："+err.Error())
					return
				}
			}
			applied = append(applied, "file_table_mappings")
		}

		if len(applied) == 0 {
			fail(c, "导入内容不包含可识别的配置段")
			return
		}
		auditFromContext(c, opts, store.AuditEvent{
			Category: store.AuditCategoryConfiguration,
			Action:   "settings_imported",
			Details:  strPtr("导入配置段：" + strings.Join(applied, ", ")),
			Success:  true,
		})
		okData(c, gin.H{"applied": applied})
	}
}
