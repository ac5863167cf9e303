package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ETL 作业状态。
const (
	ETLJobRunning            = "running"
	ETLJobCompleted          = "completed"
	ETLJobCompletedWithError = "completed_with_errors"
	ETLJobFailed             = "failed"
	ETLJobCancelled          = "cancelled"
)

// 作业内单文件状态。
const (
	ETLFileCompleted = "completed"
	ETLFileFailed    = "failed"
	ETLFileSkipped   = "skipped"
)

func (s *Store) CreateETLJob(ctx context.Context, job ETLJob) error {
	if strings.TrimSpace(job.JobID) == "" {
		return errors.New("job_id 不能为空")
	}
	if job.Status == "" {
		job.Status = ETLJobRunning
	}
	if job.StartTime == "" {
		job.StartTime = nowText()
	}
	if job.Username == "" {
		job.Username = "system"
	}
	_, err := s.internal.ExecContext(ctx, `
	INSERT INTO sys_etl_jobs(job_id, status, start_time, total_files, username, created_at)
	VALUES(?, ?, ?, ?, ?, ?)
	`, job.JobID, job.Status, job.StartTime, job.TotalFiles, job.Username, nowText())
	if err != nil {
		return fmt.Errorf("创建 ETL 作业失败: %w", err)
	}
	return nil
}

// RecordETLJobFile 写入单文件结果并同步累加作业计数，两者在同一事务内。
func (s *Store) RecordETLJobFile(ctx context.Context, f ETLJobFile) error {
	if strings.TrimSpace(f.JobID) == "" {
		return errors.New("job_id 不能为空")
	}

	tx, err := s.internal.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始作业事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO sys_etl_job_files(job_id, filename, table_name, status, record_count, inserted, updated, skipped, error_message, processing_time_seconds)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.JobID, f.Filename, f.TableName, f.Status, f.RecordCount, f.Inserted, f.Updated, f.Skipped, f.ErrorMessage, f.ProcessingTimeSeconds)
	if err != nil {
		return fmt.Errorf("写入作业文件结果失败: %w", err)
	}

	completed, failed, skipped := 0, 0, 0
	switch f.Status {
	case ETLFileCompleted:
		completed = 1
	case ETLFileFailed:
		failed = 1
	case ETLFileSkipped:
		skipped = 1
	}
	_, err = tx.ExecContext(ctx, `
	UPDATE sys_etl_jobs
	SET files_completed=files_completed+?,
	    files_failed=files_failed+?,
	    files_skipped=files_skipped+?,
	    total_records=total_records+?,
	    records_inserted=records_inserted+?,
	    records_updated=records_updated+?,
	    records_skipped=records_skipped+?
	WHERE job_id=?
	`, completed, failed, skipped, f.RecordCount, f.Inserted, f.Updated, f.Skipped, f.JobID)
	if err != nil {
		return fmt.Errorf("更新作业计数失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交作业事务失败: %w", err)
	}
	return nil
}

func (s *Store) FinishETLJob(ctx context.Context, jobID string, status string, errorMessage *string) error {
	res, err := s.internal.ExecContext(ctx, `
	UPDATE sys_etl_jobs
	SET status=?, end_time=?, error_message=?
	WHERE job_id=?
	`, status, nowText(), errorMessage, jobID)
	if err != nil {
		return fmt.Errorf("结束 ETL 作业失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) GetETLJob(ctx context.Context, jobID string) (ETLJob, []ETLJobFile, error) {
	var job ETLJob
	err := s.internal.QueryRowContext(ctx, `
	SELECT job_id, status, start_time, end_time, total_files, files_completed, files_failed, files_skipped,
	  total_records, records_inserted, records_updated, records_skipped, error_message, username, created_at
	FROM sys_etl_jobs
	WHERE job_id=?
	`, jobID).Scan(&job.JobID, &job.Status, &job.StartTime, &job.EndTime, &job.TotalFiles, &job.FilesCompleted,
		&job.FilesFailed, &job.FilesSkipped, &job.TotalRecords, &job.RecordsInserted, &job.RecordsUpdated,
		&job.RecordsSkipped, &job.ErrorMessage, &job.Username, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ETLJob{}, nil, sql.ErrNoRows
		}
		return ETLJob{}, nil, fmt.Errorf("查询 ETL 作业失败: %w", err)
	}

	rows, err := s.internal.QueryContext(ctx, `
	SELECT id, job_id, filename, table_name, status, record_count, inserted, updated, skipped, error_message, processing_time_seconds
	FROM sys_etl_job_files
	WHERE job_id=?
	ORDER BY id
	`, jobID)
	if err != nil {
		return ETLJob{}, nil, fmt.Errorf("查询作业文件结果失败: %w", err)
	}
	defer rows.Close()

	var files []ETLJobFile
	for rows.Next() {
		var f ETLJobFile
		if err := rows.Scan(&f.ID, &f.JobID, &f.Filename, &f.TableName, &f.Status, &f.RecordCount,
			&f.Inserted, &f.Updated, &f.Skipped, &f.ErrorMessage, &f.ProcessingTimeSeconds); err != nil {
			return ETLJob{}, nil, fmt.Errorf("扫描作业文件结果失败: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return ETLJob{}, nil, fmt.Errorf("遍历作业文件结果失败: %w", err)
	}
	return job, files, nil
}

func (s *Store) ListETLJobs(ctx context.Context, limit int) ([]ETLJob, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.internal.QueryContext(ctx, `
	SELECT job_id, status, start_time, end_time, total_files, files_completed, files_failed, files_skipped,
	  total_records, records_inserted, records_updated, records_skipped, error_message, username, created_at
	FROM sys_etl_jobs
	ORDER BY start_time DESC
	LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询 ETL 作业列表失败: %w", err)
	}
	defer rows.Close()

	var out []ETLJob
	for rows.Next() {
		var job ETLJob
		if err := rows.Scan(&job.JobID, &job.Status, &job.StartTime, &job.EndTime, &job.TotalFiles, &job.FilesCompleted,
			&job.FilesFailed, &job.FilesSkipped, &job.TotalRecords, &job.RecordsInserted, &job.RecordsUpdated,
			&job.RecordsSkipped, &job.ErrorMessage, &job.Username, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("扫描 ETL 作业失败: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 ETL 作业失败: %w", err)
	}
	return out, nil
}

// LatestRunningETLJob 返回最近一个 running 状态的作业，没有则返回 sql.ErrNoRows。
func (s *Store) LatestRunningETLJob(ctx context.Context) (ETLJob, error) {
	var job ETLJob
	err := s.internal.QueryRowContext(ctx, `
	SELECT job_id, status, start_time, end_time, total_files, files_completed, files_failed, files_skipped,
	  total_records, records_inserted, records_updated, records_skipped, error_message, username, created_at
	FROM sys_etl_jobs
	WHERE status=?
	ORDER BY start_time DESC
	LIMIT 1
	`, ETLJobRunning).Scan(&job.JobID, &job.Status, &job.StartTime, &job.EndTime, &job.TotalFiles, &job.FilesCompleted,
		&job.FilesFailed, &job.FilesSkipped, &job.TotalRecords, &job.RecordsInserted, &job.RecordsUpdated,
		&job.RecordsSkipped, &job.ErrorMessage, &job.Username, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ETLJob{}, sql.ErrNoRows
		}
		return ETLJob{}, fmt.Errorf("查询运行中作业失败: %w", err)
	}
	return job, nil
}

// SweepStaleETLJobs 把开始时间早于 cutoff 且仍为 running 的作业标记为失败。
// 服务异常退出会留下这类孤儿作业。
func (s *Store) SweepStaleETLJobs(ctx context.Context, cutoff string, message string) (int64, error) {
	res, err := s.internal.ExecContext(ctx, `
	UPDATE sys_etl_jobs
	SET status=?, end_time=?, error_message=?
	WHERE status=? AND start_time < ?
	`, ETLJobFailed, nowText(), message, ETLJobRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理孤儿作业失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
