package store

import (
	"strings"

	"hhsetl/internal/config"
)

// DBConfig 把落库的连接设置合并到文件配置之上：设置过的字段覆盖，
// 空指针保留 base 的值。管理端改库后重启即按新配置连接。
func (ds DatabaseSettings) DBConfig(base config.DBConfig) config.DBConfig {
	out := base
	if t := strings.TrimSpace(ds.DBType); t != "" {
		out.Type = t
	}
	if ds.Path != nil && strings.TrimSpace(*ds.Path) != "" {
		out.SQLitePath = *ds.Path
	}

	overrideStr(&out.MSSQL.Server, ds.MSSQLServer)
	overrideInt(&out.MSSQL.Port, ds.MSSQLPort)
	overrideStr(&out.MSSQL.Database, ds.MSSQLDatabase)
	overrideStr(&out.MSSQL.Username, ds.MSSQLUsername)
	overrideStr(&out.MSSQL.Password, ds.MSSQLPassword)
	out.MSSQL.TrustedConnection = ds.MSSQLTrustedConnection

	overrideStr(&out.Postgres.Host, ds.PostgresHost)
	overrideInt(&out.Postgres.Port, ds.PostgresPort)
	overrideStr(&out.Postgres.Database, ds.PostgresDatabase)
	overrideStr(&out.Postgres.Username, ds.PostgresUsername)
	overrideStr(&out.Postgres.Password, ds.PostgresPassword)

	overrideStr(&out.MySQL.Host, ds.MySQLHost)
	overrideInt(&out.MySQL.Port, ds.MySQLPort)
	overrideStr(&out.MySQL.Database, ds.MySQLDatabase)
	overrideStr(&out.MySQL.Username, ds.MySQLUsername)
	overrideStr(&out.MySQL.Password, ds.MySQLPassword)

	if ds.ConnectionTimeout > 0 {
		out.ConnectTimeoutSeconds = ds.ConnectionTimeout
	}
	if ds.MaxConnections > 0 {
		out.MaxConnections = ds.MaxConnections
	}
	return out
}

func overrideStr(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = *v
	}
}

func overrideInt(dst *int, v *int) {
	if v != nil && *v > 0 {
		*dst = *v
	}
}
