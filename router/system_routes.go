package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hhsetl/internal/netinfo"
	"hhsetl/internal/store"
)

func setSystemRoutes(r *gin.Engine, opts Options) {
	r.GET("/healthz", wrapHTTPFunc(opts.Healthz))
	r.HEAD("/healthz", wrapHTTPFunc(opts.Healthz))

	api := r.Group("/api/system")
	api.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    opts.Version.Version,
			"commit":     opts.Version.Commit,
			"date":       opts.Version.Date,
			"go_version": opts.Version.GoVersion,
		})
	})
	api.GET("/network", requireRole(opts, store.RoleViewer), networkSummaryHandler())
}

func networkSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, netinfo.Collect(c.Request.Context()))
	}
}
