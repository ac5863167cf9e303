package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RoleNewUser  = "new_user"
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// RoleLevel 返回角色的权限级别，未知角色按最低级处理。
func RoleLevel(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Store 封装两个库的读写：internal 是固定 SQLite 的内部库（用户、会话、审计、作业、运行时设置），
// domain 是可切换后端的业务库（people/cases/referrals 等），SQL 写法经 dialect 适配。
type Store struct {
	internal *sql.DB
	domain   *sql.DB
	dialect  Dialect
}

func New(internal *sql.DB, domain *sql.DB) *Store {
	return &Store{
		internal: internal,
		domain:   domain,
		dialect:  DialectSQLite,
	}
}

func (s *Store) SetDialect(d Dialect) {
	if strings.TrimSpace(string(d)) == "" {
		return
	}
	s.dialect = d
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) PingInternal(ctx context.Context) error {
	return s.internal.PingContext(ctx)
}

func (s *Store) PingDomain(ctx context.Context) error {
	return s.domain.PingContext(ctx)
}

// nowText 是内部库 TEXT 时间戳的统一格式。
func nowText() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.internal.QueryRowContext(ctx, `SELECT COUNT(1) FROM sys_users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("统计用户失败: %w", err)
	}
	return n, nil
}

func (s *Store) CountActiveAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := s.internal.QueryRowContext(ctx, `
	SELECT COUNT(1) FROM sys_users WHERE role=? AND is_active=1
	`, RoleAdmin).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("统计管理员失败: %w", err)
	}
	return n, nil
}

func (s *Store) CreateUser(ctx context.Context, u SysUser) (int64, error) {
	if strings.TrimSpace(u.Username) == "" {
		return 0, errors.New("username 不能为空")
	}
	if strings.TrimSpace(u.PasswordHash) == "" {
		return 0, errors.New("password_hash 不能为空")
	}
	if u.Role == "" {
		u.Role = RoleNewUser
	}
	if u.AuthMethod == "" {
		u.AuthMethod = "local"
	}
	active := 0
	if u.IsActive {
		active = 1
	}
	res, err := s.internal.ExecContext(ctx, `
	INSERT INTO sys_users(username, password_hash, display_name, email, role, auth_method, is_active, created_at, created_by)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.Username, u.PasswordHash, u.DisplayName, u.Email, u.Role, u.AuthMethod, active, nowText(), u.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrUsernameTaken
		}
		return 0, fmt.Errorf("创建用户失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("获取用户 id 失败: %w", err)
	}
	return id, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (SysUser, error) {
	var (
		u      SysUser
		active int
	)
	err := s.internal.QueryRowContext(ctx, `
	SELECT
	  id, username, password_hash, display_name, email, role, auth_method, is_active,
	  created_at, created_by, last_login, failed_login_attempts, locked_until
	FROM sys_users
	WHERE username=?
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.Email, &u.Role, &u.AuthMethod,
		&active, &u.CreatedAt, &u.CreatedBy, &u.LastLogin, &u.FailedLoginAttempts, &u.LockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SysUser{}, sql.ErrNoRows
		}
		return SysUser{}, fmt.Errorf("查询用户失败: %w", err)
	}
	u.IsActive = active == 1
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]SysUser, error) {
	rows, err := s.internal.QueryContext(ctx, `
	SELECT
	  id, username, password_hash, display_name, email, role, auth_method, is_active,
	  created_at, created_by, last_login, failed_login_attempts, locked_until
	FROM sys_users
	ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("查询用户列表失败: %w", err)
	}
	defer rows.Close()
	var out []SysUser
	for rows.Next() {
		var (
			u      SysUser
			active int
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.Email, &u.Role, &u.AuthMethod,
			&active, &u.CreatedAt, &u.CreatedBy, &u.LastLogin, &u.FailedLoginAttempts, &u.LockedUntil); err != nil {
			return nil, fmt.Errorf("扫描用户失败: %w", err)
		}
		u.IsActive = active == 1
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历用户失败: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateUserRole(ctx context.Context, username string, role string) error {
	res, err := s.internal.ExecContext(ctx, `
	UPDATE sys_users SET role=? WHERE username=?
	`, role, username)
	if err != nil {
		return fmt.Errorf("更新用户角色失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) SetUserActive(ctx context.Context, username string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := s.internal.ExecContext(ctx, `
	UPDATE sys_users SET is_active=? WHERE username=?
	`, v, username)
	if err != nil {
		return fmt.Errorf("更新用户状态失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) UpdateUserProfile(ctx context.Context, username string, displayName *string, email *string) error {
	res, err := s.internal.ExecContext(ctx, `
	UPDATE sys_users
	SET display_name=COALESCE(?, display_name), email=COALESCE(?, email)
	WHERE username=?
	`, displayName, email, username)
	if err != nil {
		return fmt.Errorf("更新用户资料失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateUserPassword 同时清零失败计数与锁定状态。
func (s *Store) UpdateUserPassword(ctx context.Context, username string, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return errors.New("password_hash 不能为空")
	}
	res, err := s.internal.ExecContext(ctx, `
	UPDATE sys_users
	SET password_hash=?, failed_login_attempts=0, locked_until=NULL
	WHERE username=?
	`, passwordHash, username)
	if err != nil {
		return fmt.Errorf("更新用户密码失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.internal.ExecContext(ctx, `DELETE FROM sys_users WHERE username=?`, username)
	if err != nil {
		return fmt.Errorf("删除用户失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) RecordLoginSuccess(ctx context.Context, username string) error {
	_, err := s.internal.ExecContext(ctx, `
	UPDATE sys_users
	SET last_login=?, failed_login_attempts=0, locked_until=NULL
	WHERE username=?
	`, nowText(), username)
	if err != nil {
		return fmt.Errorf("记录登录成功失败: %w", err)
	}
	return nil
}

// RecordLoginFailure 累加失败计数，达到上限时写入锁定截止时间并返回 true。
func (s *Store) RecordLoginFailure(ctx context.Context, username string, maxFailed int, lockout time.Duration) (bool, error) {
	lockedUntil := time.Now().UTC().Add(lockout).Format(time.RFC3339)
	_, err := s.internal.ExecContext(ctx, `
	UPDATE sys_users
	SET failed_login_attempts=failed_login_attempts+1,
	    locked_until=CASE WHEN failed_login_attempts+1 >= ? THEN ? ELSE locked_until END
	WHERE username=?
	`, maxFailed, lockedUntil, username)
	if err != nil {
		return false, fmt.Errorf("记录登录失败次数失败: %w", err)
	}

	var locked sql.NullString
	err = s.internal.QueryRowContext(ctx, `
	SELECT locked_until FROM sys_users WHERE username=?
	`, username).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, sql.ErrNoRows
		}
		return false, fmt.Errorf("查询锁定状态失败: %w", err)
	}
	return locked.Valid && locked.String != "", nil
}

// ClearUserLock 将失败计数归零并清除锁定截止时间，用于锁定到期后的放行。
func (s *Store) ClearUserLock(ctx context.Context, username string) error {
	_, err := s.internal.ExecContext(ctx, `
	UPDATE sys_users
	SET failed_login_attempts=0, locked_until=NULL
	WHERE username=?
	`, username)
	if err != nil {
		return fmt.Errorf("清除账号锁定失败: %w", err)
	}
	return nil
}

func (s *Store) UpsertSession(ctx context.Context, sess SysSession) error {
	if strings.TrimSpace(sess.SessionID) == "" {
		return errors.New("session_id 不能为空")
	}
	_, err := s.internal.ExecContext(ctx, `
	INSERT OR REPLACE INTO sys_sessions(session_id, username, display_name, email, role, login_time, last_activity, ip_address, user_agent, auth_method)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.SessionID, sess.Username, sess.DisplayName, sess.Email, sess.Role,
		sess.LoginTime, sess.LastActivity, sess.IPAddress, sess.UserAgent, sess.AuthMethod)
	if err != nil {
		return fmt.Errorf("写入会话失败: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (SysSession, error) {
	var sess SysSession
	err := s.internal.QueryRowContext(ctx, `
	SELECT session_id, username, display_name, email, role, login_time, last_activity, ip_address, user_agent, auth_method
	FROM sys_sessions
	WHERE session_id=?
	`, sessionID).Scan(&sess.SessionID, &sess.Username, &sess.DisplayName, &sess.Email, &sess.Role,
		&sess.LoginTime, &sess.LastActivity, &sess.IPAddress, &sess.UserAgent, &sess.AuthMethod)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SysSession{}, sql.ErrNoRows
		}
		return SysSession{}, fmt.Errorf("查询会话失败: %w", err)
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	_, err := s.internal.ExecContext(ctx, `
	UPDATE sys_sessions SET last_activity=? WHERE session_id=?
	`, nowText(), sessionID)
	if err != nil {
		return fmt.Errorf("更新会话活动时间失败: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.internal.ExecContext(ctx, `DELETE FROM sys_sessions WHERE session_id=?`, sessionID)
	if err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	return nil
}

func (s *Store) DeleteSessionsForUser(ctx context.Context, username string) error {
	_, err := s.internal.ExecContext(ctx, `DELETE FROM sys_sessions WHERE username=?`, username)
	if err != nil {
		return fmt.Errorf("清理用户会话失败: %w", err)
	}
	return nil
}

// DeleteInactiveSessions 删除最后活动时间早于 cutoff 的会话，返回删除数量。
// 时间为 RFC3339 文本，字典序比较即时间序。
func (s *Store) DeleteInactiveSessions(ctx context.Context, cutoff string) (int64, error) {
	res, err := s.internal.ExecContext(ctx, `
	DELETE FROM sys_sessions WHERE last_activity < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理过期会话失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]SysSession, error) {
	rows, err := s.internal.QueryContext(ctx, `
	SELECT session_id, username, display_name, email, role, login_time, last_activity, ip_address, user_agent, auth_method
	FROM sys_sessions
	ORDER BY last_activity DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("查询会话列表失败: %w", err)
	}
	defer rows.Close()
	var out []SysSession
	for rows.Next() {
		var sess SysSession
		if err := rows.Scan(&sess.SessionID, &sess.Username, &sess.DisplayName, &sess.Email, &sess.Role,
			&sess.LoginTime, &sess.LastActivity, &sess.IPAddress, &sess.UserAgent, &sess.AuthMethod); err != nil {
			return nil, fmt.Errorf("扫描会话失败: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历会话失败: %w", err)
	}
	return out, nil
}
