package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func (s *Store) InsertSchemaError(ctx context.Context, e SchemaError) error {
	if strings.TrimSpace(e.ErrorType) == "" {
		return errors.New("error_type 不能为空")
	}
	if strings.TrimSpace(e.FileName) == "" {
		return errors.New("file_name 不能为空")
	}
	if e.Severity == "" {
		e.Severity = "critical"
	}
	if e.DetectedAt == "" {
		e.DetectedAt = nowText()
	}
	_, err := s.internal.ExecContext(ctx, `
	INSERT INTO schema_errors(error_type, table_name, file_name, error_message, detected_at, error_details, suggested_sql, severity)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ErrorType, e.TableName, e.FileName, e.ErrorMessage, e.DetectedAt, e.ErrorDetails, e.SuggestedSQL, e.Severity)
	if err != nil {
		return fmt.Errorf("写入 schema 错误失败: %w", err)
	}
	return nil
}

func (s *Store) ListSchemaErrors(ctx context.Context, includeResolved bool, limit int) ([]SchemaError, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	query := `
	SELECT id, error_type, table_name, file_name, error_message, detected_at, resolved_at, resolved_by, error_details, suggested_sql, severity
	FROM schema_errors`
	if !includeResolved {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`

	rows, err := s.internal.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("查询 schema 错误失败: %w", err)
	}
	defer rows.Close()

	var out []SchemaError
	for rows.Next() {
		var e SchemaError
		if err := rows.Scan(&e.ID, &e.ErrorType, &e.TableName, &e.FileName, &e.ErrorMessage, &e.DetectedAt,
			&e.ResolvedAt, &e.ResolvedBy, &e.ErrorDetails, &e.SuggestedSQL, &e.Severity); err != nil {
			return nil, fmt.Errorf("扫描 schema 错误失败: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 schema 错误失败: %w", err)
	}
	return out, nil
}

func (s *Store) ResolveSchemaError(ctx context.Context, id int64, resolvedBy string) error {
	res, err := s.internal.ExecContext(ctx, `
	UPDATE schema_errors SET resolved_at=?, resolved_by=? WHERE id=? AND resolved_at IS NULL
	`, nowText(), resolvedBy, id)
	if err != nil {
		return fmt.Errorf("标记 schema 错误已解决失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) CountUnresolvedSchemaErrors(ctx context.Context) (int64, error) {
	var n int64
	err := s.internal.QueryRowContext(ctx, `
	SELECT COUNT(1) FROM schema_errors WHERE resolved_at IS NULL
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("统计 schema 错误失败: %w", err)
	}
	return n, nil
}
