package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// domainNowText 是业务库 TIMESTAMP 列的统一写入格式，四种后端均可隐式解析。
func domainNowText() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// UpsertETLFileRecord 按文件名写入或覆盖一条处理记录。
func (s *Store) UpsertETLFileRecord(ctx context.Context, rec ETLFileRecord) error {
	if strings.TrimSpace(rec.FileName) == "" {
		return errors.New("file_name 不能为空")
	}
	if rec.TriggerType == "" {
		rec.TriggerType = "manual"
	}

	res, err := s.domain.ExecContext(ctx, rebind(s.dialect, `
	UPDATE etl_metadata
	SET table_name=?, file_date=?, records_processed=?, records_inserted=?, records_updated=?,
	    processing_started_at=?, processing_completed_at=?, status=?, error_message=?, file_hash=?,
	    trigger_type=?, triggered_by=?
	WHERE file_name=?
	`), rec.TableName, rec.FileDate, rec.RecordsProcessed, rec.RecordsInserted, rec.RecordsUpdated,
		rec.ProcessingStartedAt, rec.ProcessingCompletedAt, rec.Status, rec.ErrorMessage, rec.FileHash,
		rec.TriggerType, rec.TriggeredBy, rec.FileName)
	if err != nil {
		return fmt.Errorf("更新文件处理记录失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.domain.ExecContext(ctx, rebind(s.dialect, `
	INSERT INTO etl_metadata(file_name, table_name, file_date, records_processed, records_inserted, records_updated,
	  processing_started_at, processing_completed_at, status, error_message, file_hash, trigger_type, triggered_by)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.FileName, rec.TableName, rec.FileDate, rec.RecordsProcessed, rec.RecordsInserted, rec.RecordsUpdated,
		rec.ProcessingStartedAt, rec.ProcessingCompletedAt, rec.Status, rec.ErrorMessage, rec.FileHash,
		rec.TriggerType, rec.TriggeredBy)
	if err != nil {
		return fmt.Errorf("写入文件处理记录失败: %w", err)
	}
	return nil
}

func (s *Store) GetETLFileRecord(ctx context.Context, fileName string) (ETLFileRecord, error) {
	var rec ETLFileRecord
	err := s.domain.QueryRowContext(ctx, rebind(s.dialect, `
	SELECT id, file_name, table_name, file_date, records_processed, records_inserted, records_updated,
	  processing_started_at, processing_completed_at, status, error_message, file_hash, trigger_type, triggered_by
	FROM etl_metadata
	WHERE file_name=?
	`), fileName).Scan(&rec.ID, &rec.FileName, &rec.TableName, &rec.FileDate, &rec.RecordsProcessed,
		&rec.RecordsInserted, &rec.RecordsUpdated, &rec.ProcessingStartedAt, &rec.ProcessingCompletedAt,
		&rec.Status, &rec.ErrorMessage, &rec.FileHash, &rec.TriggerType, &rec.TriggeredBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ETLFileRecord{}, sql.ErrNoRows
		}
		return ETLFileRecord{}, fmt.Errorf("查询文件处理记录失败: %w", err)
	}
	return rec, nil
}

// IsFileProcessed 判断同名文件是否已经成功入库且内容未变（按哈希对比）。
func (s *Store) IsFileProcessed(ctx context.Context, fileName string, fileHash string) (bool, error) {
	var n int
	err := s.domain.QueryRowContext(ctx, rebind(s.dialect, `
	SELECT COUNT(1) FROM etl_metadata
	WHERE file_name=? AND file_hash=? AND status='success'
	`), fileName, fileHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("查询文件处理状态失败: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListETLFileRecords(ctx context.Context, limit int) ([]ETLFileRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, `
	SELECT id, file_name, table_name, file_date, records_processed, records_inserted, records_updated,
	  processing_started_at, processing_completed_at, status, error_message, file_hash, trigger_type, triggered_by
	FROM etl_metadata
	ORDER BY processing_completed_at DESC
	`+limitClause(s.dialect)), limit)
	if err != nil {
		return nil, fmt.Errorf("查询文件处理记录失败: %w", err)
	}
	defer rows.Close()

	var out []ETLFileRecord
	for rows.Next() {
		var rec ETLFileRecord
		if err := rows.Scan(&rec.ID, &rec.FileName, &rec.TableName, &rec.FileDate, &rec.RecordsProcessed,
			&rec.RecordsInserted, &rec.RecordsUpdated, &rec.ProcessingStartedAt, &rec.ProcessingCompletedAt,
			&rec.Status, &rec.ErrorMessage, &rec.FileHash, &rec.TriggerType, &rec.TriggeredBy); err != nil {
			return nil, fmt.Errorf("扫描文件处理记录失败: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历文件处理记录失败: %w", err)
	}
	return out, nil
}

func (s *Store) InsertDataQualityIssues(ctx context.Context, issues []DataQualityIssue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.domain.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始质量问题事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, rebind(s.dialect, `
	INSERT INTO data_quality_issues(table_name, record_id, issue_type, issue_description, field_name, original_value, corrected_value, detected_at, file_name)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("准备质量问题语句失败: %w", err)
	}
	defer stmt.Close()

	for _, issue := range issues {
		detectedAt := issue.DetectedAt
		if detectedAt == "" {
			detectedAt = domainNowText()
		}
		if _, err := stmt.ExecContext(ctx, issue.TableName, issue.RecordID, issue.IssueType, issue.IssueDescription,
			issue.FieldName, issue.OriginalValue, issue.CorrectedValue, detectedAt, issue.FileName); err != nil {
			return fmt.Errorf("写入质量问题失败: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交质量问题事务失败: %w", err)
	}
	return nil
}

func (s *Store) ListDataQualityIssues(ctx context.Context, tableName string, limit int) ([]DataQualityIssue, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
	SELECT id, table_name, record_id, issue_type, issue_description, field_name, original_value, corrected_value, detected_at, file_name
	FROM data_quality_issues
	WHERE 1=1`
	var args []any
	if tableName != "" {
		query += ` AND table_name=?`
		args = append(args, tableName)
	}
	query += ` ORDER BY detected_at DESC ` + limitClause(s.dialect)
	args = append(args, limit)

	rows, err := s.domain.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("查询质量问题失败: %w", err)
	}
	defer rows.Close()

	var out []DataQualityIssue
	for rows.Next() {
		var issue DataQualityIssue
		if err := rows.Scan(&issue.ID, &issue.TableName, &issue.RecordID, &issue.IssueType, &issue.IssueDescription,
			&issue.FieldName, &issue.OriginalValue, &issue.CorrectedValue, &issue.DetectedAt, &issue.FileName); err != nil {
			return nil, fmt.Errorf("扫描质量问题失败: %w", err)
		}
		out = append(out, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历质量问题失败: %w", err)
	}
	return out, nil
}

// DataQualitySummary 按问题类型统计数量。
func (s *Store) DataQualitySummary(ctx context.Context) (map[string]int64, error) {
	rows, err := s.domain.QueryContext(ctx, `
	SELECT issue_type, COUNT(1)
	FROM data_quality_issues
	GROUP BY issue_type
	`)
	if err != nil {
		return nil, fmt.Errorf("统计质量问题失败: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			issueType string
			n         int64
		)
		if err := rows.Scan(&issueType, &n); err != nil {
			return nil, fmt.Errorf("扫描质量问题统计失败: %w", err)
		}
		out[issueType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历质量问题统计失败: %w", err)
	}
	return out, nil
}

// InsertSFTPCache 记录一次远端文件列表快照（file_list 为 JSON 文本）。
func (s *Store) InsertSFTPCache(ctx context.Context, fileList string, fileCount int, syncedBy *string) error {
	_, err := s.domain.ExecContext(ctx, rebind(s.dialect, `
	INSERT INTO sftp_cache(sync_time, file_list, file_count, synced_by)
	VALUES(?, ?, ?, ?)
	`), domainNowText(), fileList, fileCount, syncedBy)
	if err != nil {
		return fmt.Errorf("写入 SFTP 缓存失败: %w", err)
	}
	return nil
}

// LatestSFTPCache 返回最近一次远端文件列表快照。
func (s *Store) LatestSFTPCache(ctx context.Context) (SFTPCacheEntry, error) {
	var entry SFTPCacheEntry
	err := s.domain.QueryRowContext(ctx, rebind(s.dialect, `
	SELECT id, sync_time, file_list, file_count, synced_by
	FROM sftp_cache
	ORDER BY sync_time DESC
	`+limitClause(s.dialect)), 1).Scan(&entry.ID, &entry.SyncTime, &entry.FileList, &entry.FileCount, &entry.SyncedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SFTPCacheEntry{}, sql.ErrNoRows
		}
		return SFTPCacheEntry{}, fmt.Errorf("查询 SFTP 缓存失败: %w", err)
	}
	return entry, nil
}
