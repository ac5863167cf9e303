// Package router 汇集全部 gin 路由：报表、ETL、迁移、设置、审计与安全接口。
package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

func SetRouter(r *gin.Engine, opts Options) {
	setSystemRoutes(r, opts)

	api := r.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	setAuthAPIRoutes(api, opts)
	setReportsAPIRoutes(api, opts)
	setETLAPIRoutes(api, opts)
	setDatabaseAPIRoutes(api, opts)
	setMigrationAPIRoutes(api, opts)
	setSettingsAPIRoutes(api, opts)
	setAuditAPIRoutes(api, opts)
	setSecurityAPIRoutes(api, opts)
	setSFTPAPIRoutes(api, opts)
	setUserAdminAPIRoutes(api, opts)

	setWebRoutes(r, opts)
}
