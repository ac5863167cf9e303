package etl_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"hhsetl/internal/etl"
	"hhsetl/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.input(t, "people_20250104.txt",
		"person_id|first_name|last_name\nP001|Alice|Anderson\nP002|Bob|Baker\n")
	h.input(t, "cases_20250104.txt",
		"case_id|person_id|case_status\nC001|P001|open\n")

	runner := etl.NewRunner(h.st, h.cfg, h.proc, quietLogger())
	jobID, err := runner.RunJob(ctx, etl.JobOptions{Trigger: "manual", Username: "tester"})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if jobID == "" {
		t.Fatalf("jobID 为空")
	}

	job, files, err := h.st.GetETLJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetETLJob: %v", err)
	}
	if job.Status != store.ETLJobCompleted {
		t.Fatalf("Status = %q (%+v)", job.Status, job)
	}
	if job.TotalFiles != 2 || job.FilesCompleted != 2 || job.FilesFailed != 0 {
		t.Fatalf("job = %+v", job)
	}
	if job.TotalRecords != 3 || job.RecordsInserted != 3 {
		t.Fatalf("job 记录数 = %+v", job)
	}
	if job.Username != "tester" || job.EndTime == nil {
		t.Fatalf("job = %+v", job)
	}

	// 并发处理顺序不定，按文件名对账。
	got := map[string]store.ETLJobFile{}
	for _, f := range files {
		got[f.Filename] = f
	}
	if len(got) != 2 {
		t.Fatalf("files = %+v", files)
	}
	if f := got["people_20250104.txt"]; f.TableName != "people" || f.Status != store.ETLFileCompleted || f.Inserted != 2 {
		t.Fatalf("people 文件 = %+v", f)
	}
	if f := got["cases_20250104.txt"]; f.TableName != "cases" || f.Inserted != 1 {
		t.Fatalf("cases 文件 = %+v", f)
	}
}

func TestRunJobSecondRunSkips(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.input(t, "people_20250104.txt",
		"person_id|first_name|last_name\nP001|Alice|Anderson\n")

	runner := etl.NewRunner(h.st, h.cfg, h.proc, quietLogger())
	if _, err := runner.RunJob(ctx, etl.JobOptions{Trigger: "manual", Username: "tester"}); err != nil {
		t.Fatalf("第一次 RunJob: %v", err)
	}
	jobID, err := runner.RunJob(ctx, etl.JobOptions{Trigger: "manual", Username: "tester"})
	if err != nil {
		t.Fatalf("第二次 RunJob: %v", err)
	}
	job, _, err := h.st.GetETLJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetETLJob: %v", err)
	}
	if job.Status != store.ETLJobCompleted || job.FilesSkipped != 1 || job.FilesCompleted != 0 {
		t.Fatalf("job = %+v", job)
	}
}

func TestRunJobCompletedWithErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.input(t, "people_20250104.txt",
		"person_id|first_name|last_name\nP001|Alice|Anderson\n")
	h.input(t, "mystery_20250104.txt", "id|value\n1|x\n")

	runner := etl.NewRunner(h.st, h.cfg, h.proc, quietLogger())
	jobID, err := runner.RunJob(ctx, etl.JobOptions{Trigger: "manual", Username: "tester"})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	job, files, err := h.st.GetETLJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetETLJob: %v", err)
	}
	if job.Status != store.ETLJobCompletedWithError {
		t.Fatalf("Status = %q", job.Status)
	}
	if job.FilesCompleted != 1 || job.FilesFailed != 1 {
		t.Fatalf("job = %+v", job)
	}
	for _, f := range files {
		if f.Filename == "mystery_20250104.txt" && (f.Status != store.ETLFileFailed || f.ErrorMessage == nil) {
			t.Fatalf("失败文件 = %+v", f)
		}
	}
}

func TestRunJobLatestOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.input(t, "people_20250101.txt",
		"person_id|first_name|last_name\nP001|Alice|Old\n")
	h.input(t, "people_20250104.txt",
		"person_id|first_name|last_name\nP001|Alice|New\n")

	runner := etl.NewRunner(h.st, h.cfg, h.proc, quietLogger())
	jobID, err := runner.RunJob(ctx, etl.JobOptions{Trigger: "manual", Username: "tester", LatestOnly: true})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	job, files, err := h.st.GetETLJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetETLJob: %v", err)
	}
	if job.TotalFiles != 1 || len(files) != 1 {
		t.Fatalf("job = %+v files = %+v", job, files)
	}
	if files[0].Filename != "people_20250104.txt" {
		t.Fatalf("处理的不是最新文件: %+v", files[0])
	}
}

func TestRunJobSelectedFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.input(t, "people_20250104.txt",
		"person_id|first_name|last_name\nP001|Alice|Anderson\n")
	selected := h.input(t, "cases_20250104.txt",
		"case_id|person_id|case_status\nC001|P001|open\n")

	runner := etl.NewRunner(h.st, h.cfg, h.proc, quietLogger())
	jobID, err := runner.RunJob(ctx, etl.JobOptions{Trigger: "manual", Username: "tester", Files: []string{selected}})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	job, files, err := h.st.GetETLJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetETLJob: %v", err)
	}
	if job.TotalFiles != 1 || len(files) != 1 || files[0].Filename != "cases_20250104.txt" {
		t.Fatalf("job = %+v files = %+v", job, files)
	}
}

func TestRunJobRejectsConcurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.st.CreateETLJob(ctx, store.ETLJob{JobID: "busy"}); err != nil {
		t.Fatalf("CreateETLJob: %v", err)
	}

	runner := etl.NewRunner(h.st, h.cfg, h.proc, quietLogger())
	_, err := runner.RunJob(ctx, etl.JobOptions{Trigger: "manual", Username: "tester"})
	if !errors.Is(err, etl.ErrJobAlreadyRunning) {
		t.Fatalf("err = %v, want ErrJobAlreadyRunning", err)
	}
}

func TestRunnerCancelUnknownJob(t *testing.T) {
	h := newHarness(t)
	runner := etl.NewRunner(h.st, h.cfg, h.proc, quietLogger())
	if runner.Cancel("no-such-job") {
		t.Fatalf("未知作业的取消应返回 false")
	}
}

func TestSweepStaleJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.st.CreateETLJob(ctx, store.ETLJob{JobID: "orphan", StartTime: "2020-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("CreateETLJob: %v", err)
	}

	runner := etl.NewRunner(h.st, h.cfg, h.proc, quietLogger())
	n, err := runner.SweepStaleJobs(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SweepStaleJobs = %d, %v; want 1", n, err)
	}
	job, _, err := h.st.GetETLJob(ctx, "orphan")
	if err != nil || job.Status != store.ETLJobFailed {
		t.Fatalf("job = %+v, %v", job, err)
	}
}
