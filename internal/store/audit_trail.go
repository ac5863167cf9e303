package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// 审计类别，与 sys_audit_trail.category 对应。
const (
	AuditCategoryAuthentication   = "authentication"
	AuditCategoryAuthorization    = "authorization"
	AuditCategoryDataAccess       = "data_access"
	AuditCategoryDataModification = "data_modification"
	AuditCategoryConfiguration    = "configuration"
	AuditCategoryETL              = "etl_operations"
	AuditCategorySecurity         = "security"
	AuditCategorySystem           = "system"
)

func (s *Store) InsertAuditEvent(ctx context.Context, ev AuditEvent) error {
	if strings.TrimSpace(ev.Username) == "" {
		return errors.New("username 不能为空")
	}
	if strings.TrimSpace(ev.Action) == "" {
		return errors.New("action 不能为空")
	}
	if ev.Timestamp == "" {
		ev.Timestamp = nowText()
	}
	if ev.Category == "" {
		ev.Category = AuditCategorySystem
	}
	success := 0
	if ev.Success {
		success = 1
	}
	_, err := s.internal.ExecContext(ctx, `
	INSERT INTO sys_audit_trail(timestamp, username, action, category, success, details, ip_address, user_agent,
	  session_id, target_user, target_resource, error_message, duration_ms, record_count, file_size)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.Timestamp, ev.Username, ev.Action, ev.Category, success, ev.Details, ev.IPAddress, ev.UserAgent,
		ev.SessionID, ev.TargetUser, ev.TargetResource, ev.ErrorMessage, ev.DurationMS, ev.RecordCount, ev.FileSize)
	if err != nil {
		return fmt.Errorf("写入审计记录失败: %w", err)
	}
	return nil
}

func (s *Store) QueryAuditEvents(ctx context.Context, f AuditFilter) ([]AuditEvent, error) {
	query := `
	SELECT id, timestamp, username, action, category, success, details, ip_address, user_agent,
	  session_id, target_user, target_resource, error_message, duration_ms, record_count, file_size
	FROM sys_audit_trail
	WHERE 1=1`
	query, args := appendAuditFilter(query, nil, f)
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.internal.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询审计记录失败: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var (
			ev      AuditEvent
			success int
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Username, &ev.Action, &ev.Category, &success,
			&ev.Details, &ev.IPAddress, &ev.UserAgent, &ev.SessionID, &ev.TargetUser, &ev.TargetResource,
			&ev.ErrorMessage, &ev.DurationMS, &ev.RecordCount, &ev.FileSize); err != nil {
			return nil, fmt.Errorf("扫描审计记录失败: %w", err)
		}
		ev.Success = success == 1
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历审计记录失败: %w", err)
	}
	return out, nil
}

func (s *Store) CountAuditEvents(ctx context.Context, f AuditFilter) (int64, error) {
	query := `SELECT COUNT(1) FROM sys_audit_trail WHERE 1=1`
	query, args := appendAuditFilter(query, nil, f)

	var n int64
	if err := s.internal.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("统计审计记录失败: %w", err)
	}
	return n, nil
}

// DeleteAuditEventsBefore 按保留期清理审计记录，返回删除数量。
func (s *Store) DeleteAuditEventsBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := s.internal.ExecContext(ctx, `
	DELETE FROM sys_audit_trail WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理审计记录失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AuditCategorySummary 按类别统计 since 之后的记录数。
func (s *Store) AuditCategorySummary(ctx context.Context, since string) (map[string]int64, error) {
	rows, err := s.internal.QueryContext(ctx, `
	SELECT category, COUNT(1)
	FROM sys_audit_trail
	WHERE timestamp >= ?
	GROUP BY category
	`, since)
	if err != nil {
		return nil, fmt.Errorf("统计审计类别失败: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			category string
			n        int64
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("扫描审计类别失败: %w", err)
		}
		out[category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历审计类别失败: %w", err)
	}
	return out, nil
}

// RecentFailedLogins 统计 since 之后指定来源 IP 的登录失败次数，供安全检查使用。
func (s *Store) RecentFailedLogins(ctx context.Context, ip string, since string) (int64, error) {
	var n int64
	err := s.internal.QueryRowContext(ctx, `
	SELECT COUNT(1)
	FROM sys_audit_trail
	WHERE category=? AND action='login_failed' AND ip_address=? AND timestamp >= ?
	`, AuditCategoryAuthentication, ip, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("统计登录失败次数失败: %w", err)
	}
	return n, nil
}

func appendAuditFilter(query string, args []any, f AuditFilter) (string, []any) {
	if f.Username != "" {
		query += ` AND username=?`
		args = append(args, f.Username)
	}
	if f.Category != "" {
		query += ` AND category=?`
		args = append(args, f.Category)
	}
	if f.Action != "" {
		query += ` AND action=?`
		args = append(args, f.Action)
	}
	if f.Success != nil {
		v := 0
		if *f.Success {
			v = 1
		}
		query += ` AND success=?`
		args = append(args, v)
	}
	if f.Since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since)
	}
	if f.Until != "" {
		query += ` AND timestamp <= ?`
		args = append(args, f.Until)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query += ` AND (details LIKE ? OR target_resource LIKE ? OR error_message LIKE ?)`
		args = append(args, like, like, like)
	}
	return query, args
}

// AuditUserCount 是某个用户的审计记录量。
type AuditUserCount struct {
	Username string
	Count    int64
}

// AuditUserSummary 统计 since 之后最活跃的用户，按记录数倒序取前 limit 个。
func (s *Store) AuditUserSummary(ctx context.Context, since string, limit int) ([]AuditUserCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.internal.QueryContext(ctx, `
	SELECT username, COUNT(1) AS n
	FROM sys_audit_trail
	WHERE timestamp >= ? AND username <> ''
	GROUP BY username
	ORDER BY n DESC
	LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("统计活跃用户失败: %w", err)
	}
	defer rows.Close()

	var out []AuditUserCount
	for rows.Next() {
		var uc AuditUserCount
		if err := rows.Scan(&uc.Username, &uc.Count); err != nil {
			return nil, fmt.Errorf("扫描活跃用户失败: %w", err)
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}

// FailedLoginCount 是某用户名的登录失败统计。
type FailedLoginCount struct {
	Username    string
	Count       int64
	LastAttempt string
}

// FailedLoginSummary 统计 since 之后失败最多的登录用户名，取前 limit 个。
func (s *Store) FailedLoginSummary(ctx context.Context, since string, limit int) ([]FailedLoginCount, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.internal.QueryContext(ctx, `
	SELECT username, COUNT(1) AS n, MAX(timestamp)
	FROM sys_audit_trail
	WHERE category=? AND action='login_failed' AND timestamp >= ?
	GROUP BY username
	ORDER BY n DESC
	LIMIT ?
	`, AuditCategoryAuthentication, since, limit)
	if err != nil {
		return nil, fmt.Errorf("统计登录失败用户失败: %w", err)
	}
	defer rows.Close()

	var out []FailedLoginCount
	for rows.Next() {
		var fc FailedLoginCount
		if err := rows.Scan(&fc.Username, &fc.Count, &fc.LastAttempt); err != nil {
			return nil, fmt.Errorf("扫描登录失败用户失败: %w", err)
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}
