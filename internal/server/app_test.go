package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"hhsetl/internal/auth"
	"hhsetl/internal/config"
	"hhsetl/internal/store"
	"hhsetl/internal/version"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	var cfg config.Config
	cfg.Env = "testing"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8080
	cfg.DB.Type = "sqlite"
	cfg.Dirs.InputDir = filepath.Join(dir, "input")
	cfg.Dirs.BackupDir = filepath.Join(dir, "backup")
	cfg.Auth.SessionTimeoutMinutes = 30
	cfg.Auth.DisableSecureCookies = true
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()

	internal, err := store.OpenInternalDB(filepath.Join(dir, "internal.db") + "?_busy_timeout=1000")
	if err != nil {
		t.Fatalf("OpenInternalDB: %v", err)
	}
	t.Cleanup(func() { internal.Close() })
	if err := store.EnsureInternalSchema(internal); err != nil {
		t.Fatalf("EnsureInternalSchema: %v", err)
	}

	domain, err := store.OpenSQLite(filepath.Join(dir, "hhs_data.db") + "?_busy_timeout=1000")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { domain.Close() })
	if err := store.EnsureSQLiteSchema(domain); err != nil {
		t.Fatalf("EnsureSQLiteSchema: %v", err)
	}

	app, err := NewApp(AppOptions{
		Config:     testConfig(t),
		InternalDB: internal,
		DomainDB:   domain,
		Dialect:    store.DialectSQLite,
		Version:    version.Info(),
	})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return app
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz 状态码 = %d，期望 200", rec.Code)
	}
	var out struct {
		OK           bool   `json:"ok"`
		InternalDBOK bool   `json:"internal_db_ok"`
		DomainDBOK   bool   `json:"domain_db_ok"`
		Dialect      string `json:"dialect"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !out.OK || !out.InternalDBOK || !out.DomainDBOK {
		t.Fatalf("healthz = %+v，期望全部 ok", out)
	}
	if out.Dialect != "sqlite" {
		t.Fatalf("dialect = %q，期望 sqlite", out.Dialect)
	}
}

// login 用默认管理员登录并返回会话 cookie。
func login(t *testing.T, app *App) []*http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"username": auth.DefaultAdminUsername,
		"password": auth.DefaultAdminPassword,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)

	var out struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || !out.Success {
		t.Fatalf("登录失败: status=%d body=%s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("登录未返回会话 cookie")
	}
	return cookies
}

func TestLoginAndReportSummary(t *testing.T) {
	app := newTestApp(t)
	cookies := login(t, app)

	req := httptest.NewRequest(http.MethodGet, "/api/reports/summary", nil)
	req.Header.Set("HHSETL-User", auth.DefaultAdminUsername)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("summary 状态码 = %d，期望 200", rec.Code)
	}
	var out map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if _, okKey := out["total_people"]; !okKey {
		t.Fatalf("summary 缺少 total_people 字段: %s", rec.Body.String())
	}
}

func TestAPIRequiresSession(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/reports/summary", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if out.Success {
		t.Fatal("未登录请求不应成功")
	}
}

func TestAPIRequiresUserHeader(t *testing.T) {
	app := newTestApp(t)
	cookies := login(t, app)

	// 有合法会话但缺 HHSETL-User header，应被 CSRF 校验拦下。
	req := httptest.NewRequest(http.MethodGet, "/api/reports/summary", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)

	var out struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if out.Success {
		t.Fatal("缺少用户 header 的请求不应成功")
	}
}

func TestNoRouteServesIndexPage(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("前端回退页状态码 = %d，期望 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestNoRoute404ForAPIPaths(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/no-such-endpoint", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("未知 API 路径状态码 = %d，期望 404", rec.Code)
	}
}
