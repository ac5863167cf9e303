package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hhsetl/internal/config"
	"hhsetl/internal/store"
)

// 默认管理员凭据，首次启动建库时写入，必须尽快修改。
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"
	defaultAdminEmail    = "admin@calaveras.local"
)

var (
	// ErrInvalidCredentials 对外统一掩盖"用户不存在/已停用/密码错误"三种情况。
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	// ErrAccountLocked 表示账号因连续登录失败被锁定。
	ErrAccountLocked = errors.New("账号已锁定，请稍后再试")
	// ErrSessionInvalid 表示会话不存在、已超时或对应用户状态已变化。
	ErrSessionInvalid = errors.New("会话无效或已过期")
	// ErrIPNotAllowed 表示来源 IP 不在允许的网段前缀内。
	ErrIPNotAllowed = errors.New("来源 IP 不在允许范围内")
)

// Manager 负责登录校验、失败锁定、会话生命周期与默认管理员初始化。
// 会话只落在内部库 sys_sessions 里，重启后仍然有效。
type Manager struct {
	st     *store.Store
	cfg    config.AuthConfig
	logger *slog.Logger
}

func NewManager(st *store.Store, cfg config.AuthConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{st: st, cfg: cfg, logger: logger}
}

func (m *Manager) sessionTimeout() time.Duration {
	minutes := m.cfg.SessionTimeoutMinutes
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

func (m *Manager) lockoutDuration() time.Duration {
	minutes := m.cfg.LockoutDurationMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

func (m *Manager) maxFailedLogins() int {
	if m.cfg.MaxFailedLogins <= 0 {
		return 5
	}
	return m.cfg.MaxFailedLogins
}

// HasPermission 判断角色是否达到所需级别，new_user < viewer < operator < admin。
func HasPermission(role, required string) bool {
	return store.RoleLevel(role) >= store.RoleLevel(required)
}

// AllowIP 按前缀匹配客户端 IP，未配置前缀时放行所有来源。
func (m *Manager) AllowIP(ip string) bool {
	if len(m.cfg.AllowedIPPrefixes) == 0 {
		return true
	}
	for _, prefix := range m.cfg.AllowedIPPrefixes {
		if prefix != "" && strings.HasPrefix(ip, prefix) {
			return true
		}
	}
	return false
}

// Login 校验用户名密码并创建持久化会话。用户名不区分大小写；
// 连续失败达到上限会锁定账号，锁定到期后的下一次尝试自动解锁。
func (m *Manager) Login(ctx context.Context, username, password, ip, userAgent string) (store.SysSession, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.SysSession{}, ErrInvalidCredentials
	}

	u, err := m.st.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		m.auditLogin(ctx, username, ip, userAgent, false, "用户不存在", "Invalid username or password")
		return store.SysSession{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.SysSession{}, err
	}
	if !u.IsActive {
		m.logger.Warn("登录被拒绝，账号已停用", "username", u.Username)
		m.auditLogin(ctx, u.Username, ip, userAgent, false, "账号已停用", "Invalid username or password")
		return store.SysSession{}, ErrInvalidCredentials
	}

	if u.LockedUntil != nil && *u.LockedUntil != "" {
		until, perr := time.Parse(time.RFC3339, *u.LockedUntil)
		if perr == nil && time.Now().UTC().Before(until) {
			m.logger.Warn("登录被拒绝，账号锁定中", "username", u.Username, "locked_until", *u.LockedUntil)
			m.auditLogin(ctx, u.Username, ip, userAgent, false, "账号锁定中", "Account locked")
			return store.SysSession{}, ErrAccountLocked
		}
		// 锁定已到期，先清零计数再继续校验。
		if cerr := m.st.ClearUserLock(ctx, u.Username); cerr != nil {
			return store.SysSession{}, cerr
		}
	}

	if !VerifyPassword(password, u.PasswordHash) {
		locked, ferr := m.st.RecordLoginFailure(ctx, u.Username, m.maxFailedLogins(), m.lockoutDuration())
		if ferr != nil && !errors.Is(ferr, sql.ErrNoRows) {
			return store.SysSession{}, ferr
		}
		if locked {
			m.logger.Warn("连续登录失败，账号已锁定", "username", u.Username, "max_failed", m.maxFailedLogins())
			m.auditLogin(ctx, u.Username, ip, userAgent, false, "连续失败触发锁定", "Account locked")
		} else {
			m.auditLogin(ctx, u.Username, ip, userAgent, false, "密码错误", "Invalid username or password")
		}
		return store.SysSession{}, ErrInvalidCredentials
	}

	if err := m.st.RecordLoginSuccess(ctx, u.Username); err != nil {
		return store.SysSession{}, err
	}

	sid, err := NewSessionID()
	if err != nil {
		return store.SysSession{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	display := u.Username
	if u.DisplayName != nil && *u.DisplayName != "" {
		display = *u.DisplayName
	}
	sess := store.SysSession{
		SessionID:    sid,
		Username:     u.Username,
		DisplayName:  display,
		Email:        u.Email,
		Role:         u.Role,
		LoginTime:    now,
		LastActivity: now,
		IPAddress:    ip,
		UserAgent:    userAgent,
		AuthMethod:   u.AuthMethod,
	}
	if err := m.st.UpsertSession(ctx, sess); err != nil {
		return store.SysSession{}, err
	}

	m.logger.Info("用户登录成功", "username", u.Username, "role", u.Role, "ip", ip)
	m.auditLogin(ctx, u.Username, ip, userAgent, true, fmt.Sprintf("登录成功（%s）", u.Role), "")
	return sess, nil
}

// ValidateSession 校验会话并刷新活动时间。
// 超过闲置超时、用户被停用/删除、角色与会话快照不一致时会话作废。
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (store.SysSession, error) {
	if sessionID == "" {
		return store.SysSession{}, ErrSessionInvalid
	}
	sess, err := m.st.GetSession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SysSession{}, ErrSessionInvalid
	}
	if err != nil {
		return store.SysSession{}, err
	}

	last, perr := time.Parse(time.RFC3339, sess.LastActivity)
	if perr != nil || time.Since(last) > m.sessionTimeout() {
		_ = m.st.DeleteSession(ctx, sessionID)
		m.logger.Info("会话闲置超时", "username", sess.Username)
		return store.SysSession{}, ErrSessionInvalid
	}

	u, uerr := m.st.GetUserByUsername(ctx, sess.Username)
	if uerr != nil || !u.IsActive || u.Role != sess.Role {
		_ = m.st.DeleteSession(ctx, sessionID)
		m.logger.Info("用户状态变化，会话作废", "username", sess.Username)
		return store.SysSession{}, ErrSessionInvalid
	}

	if err := m.st.TouchSession(ctx, sessionID); err != nil {
		return store.SysSession{}, err
	}
	sess.LastActivity = time.Now().UTC().Format(time.RFC3339)
	return sess, nil
}

// Logout 销毁会话并写审计。会话不存在时视为已登出，不报错。
func (m *Manager) Logout(ctx context.Context, sessionID, reason string) error {
	sess, err := m.st.GetSession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.st.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if reason == "" {
		reason = "logout"
	}
	m.logger.Info("用户登出", "username", sess.Username, "reason", reason)
	details := fmt.Sprintf("用户登出（%s）", reason)
	m.audit(ctx, store.AuditEvent{
		Username:  sess.Username,
		Action:    "logout",
		Category:  store.AuditCategoryAuthentication,
		Success:   true,
		Details:   &details,
		IPAddress: &sess.IPAddress,
		SessionID: &sessionID,
	})
	return nil
}

// InvalidateUserSessions 清掉某用户的全部会话，用于停用、删除或角色调整后强制重新登录。
func (m *Manager) InvalidateUserSessions(ctx context.Context, username string) error {
	return m.st.DeleteSessionsForUser(ctx, username)
}

// CleanupExpiredSessions 清理闲置超时的会话，启动时与后台定时任务各调一次。
func (m *Manager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-m.sessionTimeout()).Format(time.RFC3339)
	n, err := m.st.DeleteInactiveSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("清理过期会话", "count", n)
	}
	return n, nil
}

// ChangePassword 自助修改密码，旧密码校验通过后更新散列并清除失败计数。
func (m *Manager) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return errors.New("新密码长度至少 8 位")
	}
	u, err := m.st.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if !VerifyPassword(oldPassword, u.PasswordHash) {
		details := "旧密码校验失败"
		m.audit(ctx, store.AuditEvent{
			Username: u.Username,
			Action:   "password_change_failed",
			Category: store.AuditCategoryAuthentication,
			Success:  false,
			Details:  &details,
		})
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := m.st.UpdateUserPassword(ctx, u.Username, hash); err != nil {
		return err
	}
	details := "用户修改了自己的密码"
	m.audit(ctx, store.AuditEvent{
		Username: u.Username,
		Action:   "password_changed",
		Category: store.AuditCategoryAuthentication,
		Success:  true,
		Details:  &details,
	})
	m.logger.Info("密码已修改", "username", u.Username)
	return nil
}

// EnsureDefaultAdmin 在用户表为空时创建默认管理员，返回是否创建。
// 默认凭据写进日志是刻意的：首次部署必须看见并立即修改。
func (m *Manager) EnsureDefaultAdmin(ctx context.Context) (bool, error) {
	n, err := m.st.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	hash, err := HashPassword(DefaultAdminPassword)
	if err != nil {
		return false, err
	}
	display := "System Administrator"
	email := defaultAdminEmail
	if _, err := m.st.CreateUser(ctx, store.SysUser{
		Username:     DefaultAdminUsername,
		PasswordHash: hash,
		DisplayName:  &display,
		Email:        &email,
		Role:         store.RoleAdmin,
		AuthMethod:   "local",
		IsActive:     true,
	}); err != nil {
		return false, fmt.Errorf("创建默认管理员失败: %w", err)
	}
	m.logger.Warn("已创建默认管理员账号")
	m.logger.Warn("默认凭据", "username", DefaultAdminUsername, "password", DefaultAdminPassword)
	m.logger.Warn("请立即登录并修改默认密码")
	details := "首次启动创建默认管理员"
	m.audit(ctx, store.AuditEvent{
		Username: "system",
		Action:   "user_created",
		Category: store.AuditCategorySecurity,
		Success:  true,
		Details:  &details,
	})
	return true, nil
}

// DefaultCredentialsActive 探测默认管理员密码是否仍然可用，
// 登录响应里的改密提示与安全体检共用这一判断。
func (m *Manager) DefaultCredentialsActive(ctx context.Context) bool {
	u, err := m.st.GetUserByUsername(ctx, DefaultAdminUsername)
	if err != nil {
		return false
	}
	return u.IsActive && VerifyPassword(DefaultAdminPassword, u.PasswordHash)
}

func (m *Manager) auditLogin(ctx context.Context, username, ip, userAgent string, success bool, details, errMsg string) {
	action := "login_success"
	if !success {
		action = "login_failed"
	}
	ev := store.AuditEvent{
		Username: username,
		Action:   action,
		Category: store.AuditCategoryAuthentication,
		Success:  success,
		Details:  &details,
	}
	if ip != "" {
		ev.IPAddress = &ip
	}
	if userAgent != "" {
		ev.UserAgent = &userAgent
	}
	if errMsg != "" {
		ev.ErrorMessage = &errMsg
	}
	m.audit(ctx, ev)
}

// audit 写审计失败只记日志，不影响主流程。
func (m *Manager) audit(ctx context.Context, ev store.AuditEvent) {
	if err := m.st.InsertAuditEvent(ctx, ev); err != nil {
		m.logger.Warn("写入审计记录失败", "action", ev.Action, "err", err)
	}
}
