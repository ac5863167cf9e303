package router

import (
	"io/fs"
	"net/http"

	"hhsetl/internal/auth"
	"hhsetl/internal/config"
	"hhsetl/internal/etl"
	"hhsetl/internal/security"
	"hhsetl/internal/sftp"
	"hhsetl/internal/siem"
	"hhsetl/internal/store"
	"hhsetl/internal/version"
)

type Options struct {
	Cfg     config.Config
	Store   *store.Store
	Auth    *auth.Manager
	SIEM    *siem.Logger
	SFTP    *sftp.Service
	Runner  *etl.Runner
	Health  *security.HealthChecker
	Version version.BuildInfo

	// 仪表盘静态前端：优先 FrontendFS（go:embed），否则从 FrontendDistDir 读取。
	FrontendDistDir   string
	FrontendIndexPage []byte
	FrontendFS        fs.FS

	Healthz http.HandlerFunc
}
