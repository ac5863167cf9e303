package auth_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"hhsetl/internal/auth"
	"hhsetl/internal/config"
	"hhsetl/internal/store"
)

// newManager 在临时内部库上构造 Manager，测试直连同一个库改数据造场景。
func newManager(t *testing.T, cfg config.AuthConfig) (*auth.Manager, *store.Store, *sql.DB) {
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

	st := store.New(internal, internal)
	st.SetDialect(store.DialectSQLite)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return auth.NewManager(st, cfg, logger), st, internal
}

func defaultAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		SessionTimeoutMinutes:  60,
		MaxFailedLogins:        5,
		LockoutDurationMinutes: 30,
	}
}

func createUser(t *testing.T, st *store.Store, username, password, role string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := st.CreateUser(context.Background(), store.SysUser{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		AuthMethod:   "local",
		IsActive:     true,
	}); err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := auth.HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !auth.VerifyPassword("correct horse battery", hash) {
		t.Fatalf("正确密码未通过校验: %s", hash)
	}
	if auth.VerifyPassword("wrong password", hash) {
		t.Fatal("错误密码通过了校验")
	}

	// 盐:散列 固定长度，盐 16 字节 hex、SHA-256 散列 32 字节 hex。
	if got, want := len(hash), 32+1+64; got != want {
		t.Fatalf("散列长度 = %d, want %d (%s)", got, want, hash)
	}

	again, err := auth.HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if again == hash {
		t.Fatal("两次散列结果相同，盐没有随机化")
	}
	if !auth.VerifyPassword("correct horse battery", again) {
		t.Fatal("新盐散列未通过校验")
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	for _, stored := range []string{"", "nocolon", ":", "salt:", ":hash"} {
		if auth.VerifyPassword("anything", stored) {
			t.Fatalf("非法散列 %q 通过了校验", stored)
		}
	}
}

func TestNewSessionID(t *testing.T) {
	a, err := auth.NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	b, err := auth.NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	// 32 字节 → 43 个无填充 base64 字符。
	if len(a) != 43 {
		t.Fatalf("会话标识长度 = %d, want 43 (%s)", len(a), a)
	}
	if a == b {
		t.Fatal("两次生成的会话标识相同")
	}
}

func TestLoginSuccess(t *testing.T) {
	m, st, _ := newManager(t, defaultAuthConfig())
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)

	sess, err := m.Login(ctx, "alice", "password123", "192.168.1.20", "go-test")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.Username != "alice" || sess.Role != store.RoleViewer {
		t.Fatalf("会话用户 = %s/%s, want alice/viewer", sess.Username, sess.Role)
	}
	if sess.IPAddress != "192.168.1.20" || sess.UserAgent != "go-test" {
		t.Fatalf("会话来源 = %s/%s", sess.IPAddress, sess.UserAgent)
	}
	if len(sess.SessionID) != 43 {
		t.Fatalf("会话标识长度 = %d", len(sess.SessionID))
	}

	// 会话已落库，用户最近登录时间已更新。
	if _, err := st.GetSession(ctx, sess.SessionID); err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	u, err := st.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u.LastLogin == nil || *u.LastLogin == "" {
		t.Fatal("last_login 未更新")
	}

	evs, err := st.QueryAuditEvents(ctx, store.AuditFilter{Username: "alice", Action: "login_success"})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("login_success 审计条数 = %d, want 1", len(evs))
	}
}

func TestLoginCaseInsensitiveUsername(t *testing.T) {
	m, st, _ := newManager(t, defaultAuthConfig())
	createUser(t, st, "alice", "password123", store.RoleViewer)

	sess, err := m.Login(context.Background(), "ALICE", "password123", "127.0.0.1", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	// 会话记录的是库里的规范写法，不是请求里的大小写。
	if sess.Username != "alice" {
		t.Fatalf("会话用户 = %s, want alice", sess.Username)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	m, st, _ := newManager(t, defaultAuthConfig())
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)

	if _, err := m.Login(ctx, "alice", "wrong", "127.0.0.1", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("错误密码: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := m.Login(ctx, "nobody", "whatever", "127.0.0.1", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("未知用户: err = %v, want ErrInvalidCredentials", err)
	}

	u, err := st.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u.FailedLoginAttempts != 1 {
		t.Fatalf("failed_login_attempts = %d, want 1", u.FailedLoginAttempts)
	}

	evs, err := st.QueryAuditEvents(ctx, store.AuditFilter{Action: "login_failed"})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("login_failed 审计条数 = %d, want 2", len(evs))
	}
}

func TestLoginInactiveUser(t *testing.T) {
	m, st, _ := newManager(t, defaultAuthConfig())
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)
	if err := st.SetUserActive(ctx, "alice", false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}

	// 停用账号对外表现与密码错误一致，不泄露账号状态。
	if _, err := m.Login(ctx, "alice", "password123", "127.0.0.1", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginLockoutAfterMaxFailures(t *testing.T) {
	cfg := defaultAuthConfig()
	cfg.MaxFailedLogins = 3
	m, st, _ := newManager(t, cfg)
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)

	for i := 0; i < 3; i++ {
		if _, err := m.Login(ctx, "alice", "wrong", "127.0.0.1", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("第 %d 次失败: err = %v", i+1, err)
		}
	}

	u, err := st.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u.LockedUntil == nil || *u.LockedUntil == "" {
		t.Fatal("达到失败上限后未写入 locked_until")
	}

	// 锁定期间连正确密码也拒绝。
	if _, err := m.Login(ctx, "alice", "password123", "127.0.0.1", ""); !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("err = %v, want ErrAccountLocked", err)
	}
}

func TestLoginExpiredLockClears(t *testing.T) {
	m, st, internal := newManager(t, defaultAuthConfig())
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)

	past := time.Now().UTC().Add(-5 * time.Minute).Format(time.RFC3339)
	if _, err := internal.ExecContext(ctx, `
	UPDATE sys_users SET locked_until=?, failed_login_attempts=5 WHERE username='alice'
	`, past); err != nil {
		t.Fatalf("造过期锁定: %v", err)
	}

	sess, err := m.Login(ctx, "alice", "password123", "127.0.0.1", "")
	if err != nil {
		t.Fatalf("锁定到期后登录失败: %v", err)
	}
	if sess.Username != "alice" {
		t.Fatalf("会话用户 = %s", sess.Username)
	}

	u, err := st.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u.FailedLoginAttempts != 0 || u.LockedUntil != nil {
		t.Fatalf("锁定未清除: attempts=%d locked=%v", u.FailedLoginAttempts, u.LockedUntil)
	}
}

func TestValidateSessionRefreshesActivity(t *testing.T) {
	m, st, internal := newManager(t, defaultAuthConfig())
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)

	sess, err := m.Login(ctx, "alice", "password123", "127.0.0.1", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	stale := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	if _, err := internal.ExecContext(ctx, `
	UPDATE sys_sessions SET last_activity=? WHERE session_id=?
	`, stale, sess.SessionID); err != nil {
		t.Fatalf("回拨活动时间: %v", err)
	}

	got, err := m.ValidateSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if got.Username != "alice" {
		t.Fatalf("会话用户 = %s", got.Username)
	}
	if got.LastActivity <= stale {
		t.Fatalf("last_activity 未刷新: %s", got.LastActivity)
	}
}

func TestValidateSessionTimeout(t *testing.T) {
	m, st, internal := newManager(t, defaultAuthConfig())
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)

	sess, err := m.Login(ctx, "alice", "password123", "127.0.0.1", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	stale := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	if _, err := internal.ExecContext(ctx, `
	UPDATE sys_sessions SET last_activity=? WHERE session_id=?
	`, stale, sess.SessionID); err != nil {
		t.Fatalf("回拨活动时间: %v", err)
	}

	if _, err := m.ValidateSession(ctx, sess.SessionID); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("err = %v, want ErrSessionInvalid", err)
	}
	// 超时会话已被删除。
	if _, err := st.GetSession(ctx, sess.SessionID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("超时会话仍存在: %v", err)
	}
}

func TestValidateSessionUserChanged(t *testing.T) {
	m, st, _ := newManager(t, defaultAuthConfig())
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)

	sess, err := m.Login(ctx, "alice", "password123", "127.0.0.1", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	// 角色调整后旧会话立即作废，强制重新登录拿新角色。
	if err := st.UpdateUserRole(ctx, "alice", store.RoleOperator); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}
	if _, err := m.ValidateSession(ctx, sess.SessionID); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("角色变更: err = %v, want ErrSessionInvalid", err)
	}

	sess2, err := m.Login(ctx, "alice", "password123", "127.0.0.1", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := st.SetUserActive(ctx, "alice", false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	if _, err := m.ValidateSession(ctx, sess2.SessionID); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("停用账号: err = %v, want ErrSessionInvalid", err)
	}
}

func TestLogout(t *testing.T) {
	m, st, _ := newManager(t, defaultAuthConfig())
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)

	sess, err := m.Login(ctx, "alice", "password123", "127.0.0.1", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := m.Logout(ctx, sess.SessionID, "logout"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := st.GetSession(ctx, sess.SessionID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("登出后会话仍存在: %v", err)
	}
	// 重复登出视为幂等。
	if err := m.Logout(ctx, sess.SessionID, "logout"); err != nil {
		t.Fatalf("重复 Logout: %v", err)
	}

	evs, err := st.QueryAuditEvents(ctx, store.AuditFilter{Username: "alice", Action: "logout"})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("logout 审计条数 = %d, want 1", len(evs))
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	m, st, internal := newManager(t, defaultAuthConfig())
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)
	createUser(t, st, "bob", "password123", store.RoleViewer)

	fresh, err := m.Login(ctx, "alice", "password123", "127.0.0.1", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	staleSess, err := m.Login(ctx, "bob", "password123", "127.0.0.1", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	stale := time.Now().UTC().Add(-3 * time.Hour).Format(time.RFC3339)
	if _, err := internal.ExecContext(ctx, `
	UPDATE sys_sessions SET last_activity=? WHERE session_id=?
	`, stale, staleSess.SessionID); err != nil {
		t.Fatalf("回拨活动时间: %v", err)
	}

	n, err := m.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("清理数 = %d, want 1", n)
	}
	if _, err := st.GetSession(ctx, fresh.SessionID); err != nil {
		t.Fatalf("活跃会话被误删: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	m, st, _ := newManager(t, defaultAuthConfig())
	ctx := context.Background()
	createUser(t, st, "alice", "password123", store.RoleViewer)

	if err := m.ChangePassword(ctx, "alice", "wrong", "newpassword1"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("旧密码错误: err = %v, want ErrInvalidCredentials", err)
	}
	if err := m.ChangePassword(ctx, "alice", "password123", "short"); err == nil {
		t.Fatal("过短新密码未被拒绝")
	}
	if err := m.ChangePassword(ctx, "alice", "password123", "newpassword1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := m.Login(ctx, "alice", "password123", "127.0.0.1", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("旧密码仍可登录: %v", err)
	}
	if _, err := m.Login(ctx, "alice", "newpassword1", "127.0.0.1", ""); err != nil {
		t.Fatalf("新密码登录失败: %v", err)
	}
}

func TestEnsureDefaultAdmin(t *testing.T) {
	m, st, _ := newManager(t, defaultAuthConfig())
	ctx := context.Background()

	created, err := m.EnsureDefaultAdmin(ctx)
	if err != nil {
		t.Fatalf("EnsureDefaultAdmin: %v", err)
	}
	if !created {
		t.Fatal("空库未创建默认管理员")
	}
	u, err := st.GetUserByUsername(ctx, auth.DefaultAdminUsername)
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u.Role != store.RoleAdmin || !u.IsActive {
		t.Fatalf("默认管理员 = %s/%v", u.Role, u.IsActive)
	}
	if !m.DefaultCredentialsActive(ctx) {
		t.Fatal("默认凭据探测应为 true")
	}

	// 已有用户时不再创建。
	created, err = m.EnsureDefaultAdmin(ctx)
	if err != nil {
		t.Fatalf("EnsureDefaultAdmin: %v", err)
	}
	if created {
		t.Fatal("非空库重复创建了默认管理员")
	}

	// 改掉默认密码后探测转为 false。
	if err := m.ChangePassword(ctx, auth.DefaultAdminUsername, auth.DefaultAdminPassword, "Str0ngerPass!"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if m.DefaultCredentialsActive(ctx) {
		t.Fatal("改密后默认凭据探测应为 false")
	}
}

func TestAllowIP(t *testing.T) {
	open, _, _ := newManager(t, defaultAuthConfig())
	if !open.AllowIP("8.8.8.8") {
		t.Fatal("未配置前缀时应放行所有来源")
	}

	cfg := defaultAuthConfig()
	cfg.AllowedIPPrefixes = []string{"192.168.", "10.", "172.", "127.0.0.1"}
	m, _, _ := newManager(t, cfg)

	cases := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.50", true},
		{"10.0.0.2", true},
		{"172.16.4.1", true},
		{"127.0.0.1", true},
		{"8.8.8.8", false},
		{"203.0.113.9", false},
	}
	for _, tc := range cases {
		if got := m.AllowIP(tc.ip); got != tc.want {
			t.Errorf("AllowIP(%s) = %v, want %v", tc.ip, got, tc.want)
		}
	}
}

func TestHasPermission(t *testing.T) {
	cases := []struct {
		role, required string
		want           bool
	}{
		{store.RoleViewer, store.RoleViewer, true},
		{store.RoleNewUser, store.RoleViewer, false},
		{store.RoleAdmin, store.RoleOperator, true},
		{store.RoleOperator, store.RoleAdmin, false},
		{store.RoleAdmin, store.RoleAdmin, true},
	}
	for _, tc := range cases {
		if got := auth.HasPermission(tc.role, tc.required); got != tc.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tc.role, tc.required, got, tc.want)
		}
	}
}
