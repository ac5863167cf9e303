package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"hhsetl/internal/store"
)

func TestETLJobLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateETLJob(ctx, store.ETLJob{JobID: "job-1", TotalFiles: 2, Username: "etl"}); err != nil {
		t.Fatalf("CreateETLJob: %v", err)
	}
	if err := st.CreateETLJob(ctx, store.ETLJob{}); err == nil {
		t.Fatalf("expected error for empty job id")
	}

	running, err := st.LatestRunningETLJob(ctx)
	if err != nil {
		t.Fatalf("LatestRunningETLJob: %v", err)
	}
	if running.JobID != "job-1" || running.Status != store.ETLJobRunning {
		t.Fatalf("running job = %+v", running)
	}

	if err := st.RecordETLJobFile(ctx, store.ETLJobFile{
		JobID:       "job-1",
		Filename:    "HHS_People_20260801.txt",
		TableName:   "people",
		Status:      store.ETLFileCompleted,
		RecordCount: 100,
		Inserted:    60,
		Updated:     40,
	}); err != nil {
		t.Fatalf("RecordETLJobFile(completed): %v", err)
	}
	if err := st.RecordETLJobFile(ctx, store.ETLJobFile{
		JobID:        "job-1",
		Filename:     "HHS_Cases_20260801.txt",
		TableName:    "cases",
		Status:       store.ETLFileFailed,
		ErrorMessage: strPtr("列数不匹配"),
	}); err != nil {
		t.Fatalf("RecordETLJobFile(failed): %v", err)
	}

	job, files, err := st.GetETLJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetETLJob: %v", err)
	}
	if job.FilesCompleted != 1 || job.FilesFailed != 1 || job.FilesSkipped != 0 {
		t.Fatalf("job file counters = %+v", job)
	}
	if job.TotalRecords != 100 || job.RecordsInserted != 60 || job.RecordsUpdated != 40 {
		t.Fatalf("job record counters = %+v", job)
	}
	if len(files) != 2 || files[0].Filename != "HHS_People_20260801.txt" {
		t.Fatalf("job files = %+v", files)
	}

	if err := st.FinishETLJob(ctx, "job-1", store.ETLJobCompletedWithError, strPtr("1 个文件失败")); err != nil {
		t.Fatalf("FinishETLJob: %v", err)
	}
	if err := st.FinishETLJob(ctx, "no-such-job", store.ETLJobCompleted, nil); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("FinishETLJob(missing): got %v, want sql.ErrNoRows", err)
	}

	job, _, err = st.GetETLJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetETLJob (2): %v", err)
	}
	if job.Status != store.ETLJobCompletedWithError || job.EndTime == nil || job.ErrorMessage == nil {
		t.Fatalf("finished job = %+v", job)
	}

	if _, err := st.LatestRunningETLJob(ctx); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("LatestRunningETLJob after finish: got %v, want sql.ErrNoRows", err)
	}

	jobs, err := st.ListETLJobs(ctx, 0)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListETLJobs = %d jobs, %v; want 1", len(jobs), err)
	}
}

func TestSweepStaleETLJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateETLJob(ctx, store.ETLJob{JobID: "stale", StartTime: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("CreateETLJob(stale): %v", err)
	}
	if err := st.CreateETLJob(ctx, store.ETLJob{JobID: "fresh", StartTime: "2026-08-01T00:00:00Z"}); err != nil {
		t.Fatalf("CreateETLJob(fresh): %v", err)
	}

	swept, err := st.SweepStaleETLJobs(ctx, "2026-06-01T00:00:00Z", "服务重启，作业中断")
	if err != nil {
		t.Fatalf("SweepStaleETLJobs: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	job, _, err := st.GetETLJob(ctx, "stale")
	if err != nil {
		t.Fatalf("GetETLJob(stale): %v", err)
	}
	if job.Status != store.ETLJobFailed || job.ErrorMessage == nil {
		t.Fatalf("stale job = %+v", job)
	}
	fresh, err := st.LatestRunningETLJob(ctx)
	if err != nil || fresh.JobID != "fresh" {
		t.Fatalf("fresh job = %+v, %v", fresh, err)
	}
}

func TestETLFileRecords(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.UpsertETLFileRecord(ctx, store.ETLFileRecord{
		FileName:         "HHS_People_20260801.txt",
		TableName:        "people",
		FileDate:         "20260801",
		RecordsProcessed: 100,
		RecordsInserted:  100,
		Status:           "success",
		FileHash:         "hash-1",
	}); err != nil {
		t.Fatalf("UpsertETLFileRecord: %v", err)
	}

	done, err := st.IsFileProcessed(ctx, "HHS_People_20260801.txt", "hash-1")
	if err != nil || !done {
		t.Fatalf("IsFileProcessed = %v, %v; want true", done, err)
	}
	done, err = st.IsFileProcessed(ctx, "HHS_People_20260801.txt", "hash-2")
	if err != nil || done {
		t.Fatalf("IsFileProcessed(other hash) = %v, %v; want false", done, err)
	}

	// 同名文件重新处理走更新分支，不产生第二行。
	if err := st.UpsertETLFileRecord(ctx, store.ETLFileRecord{
		FileName:         "HHS_People_20260801.txt",
		TableName:        "people",
		RecordsProcessed: 120,
		RecordsUpdated:   20,
		Status:           "success",
		FileHash:         "hash-2",
		TriggerType:      "sftp_auto",
	}); err != nil {
		t.Fatalf("UpsertETLFileRecord (2): %v", err)
	}

	rec, err := st.GetETLFileRecord(ctx, "HHS_People_20260801.txt")
	if err != nil {
		t.Fatalf("GetETLFileRecord: %v", err)
	}
	if rec.FileHash != "hash-2" || rec.RecordsProcessed != 120 || rec.TriggerType != "sftp_auto" {
		t.Fatalf("record = %+v", rec)
	}

	list, err := st.ListETLFileRecords(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListETLFileRecords = %d, %v; want 1", len(list), err)
	}
}

func TestDataQualityIssues(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	issues := []store.DataQualityIssue{
		{
			TableName:        "people",
			RecordID:         strPtr("P1"),
			IssueType:        "invalid_date",
			IssueDescription: "出生日期格式无法解析",
			FieldName:        strPtr("date_of_birth"),
			OriginalValue:    strPtr("13/45/1990"),
		},
		{
			TableName:        "cases",
			IssueType:        "missing_required",
			IssueDescription: "person_id 缺失",
		},
	}
	if err := st.InsertDataQualityIssues(ctx, issues); err != nil {
		t.Fatalf("InsertDataQualityIssues: %v", err)
	}

	got, err := st.ListDataQualityIssues(ctx, "people", 10)
	if err != nil {
		t.Fatalf("ListDataQualityIssues: %v", err)
	}
	if len(got) != 1 || got[0].IssueType != "invalid_date" || got[0].DetectedAt == "" {
		t.Fatalf("issues = %+v", got)
	}

	summary, err := st.DataQualitySummary(ctx)
	if err != nil {
		t.Fatalf("DataQualitySummary: %v", err)
	}
	if summary["invalid_date"] != 1 || summary["missing_required"] != 1 {
		t.Fatalf("summary = %v", summary)
	}
}

func TestSFTPCache(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.InsertSFTPCache(ctx, `["HHS_People_20260801.txt"]`, 1, strPtr("admin")); err != nil {
		t.Fatalf("InsertSFTPCache: %v", err)
	}
	entry, err := st.LatestSFTPCache(ctx)
	if err != nil {
		t.Fatalf("LatestSFTPCache: %v", err)
	}
	if entry.FileCount != 1 || entry.SyncedBy == nil || *entry.SyncedBy != "admin" {
		t.Fatalf("cache entry = %+v", entry)
	}
}
