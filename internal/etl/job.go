package etl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hhsetl/internal/config"
	"hhsetl/internal/store"
)

// ErrJobAlreadyRunning 表示已有未结束的作业，同一时间只允许一个。
var ErrJobAlreadyRunning = errors.New("已有正在运行的导入作业")

// JobOptions 是一次导入作业的参数。
type JobOptions struct {
	Trigger  string // manual/auto/scheduled
	Username string
	// Force 忽略已处理指纹，所有发现的文件都重跑。
	Force bool
	// LatestOnly 每张表只处理文件日期最新的一份。
	LatestOnly bool
	// Files 非空时只处理列出的文件（绝对路径），不再扫描目录。
	Files []string
}

// Runner 驱动一次完整的导入作业：发现文件、并发处理、sys_etl_jobs 记账。
type Runner struct {
	st     *store.Store
	cfg    config.Config
	proc   *Processor
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewRunner(st *store.Store, cfg config.Config, proc *Processor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		st:      st,
		cfg:     cfg,
		proc:    proc,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// RunJob 同步跑完一个作业并返回作业号。
func (r *Runner) RunJob(ctx context.Context, opt JobOptions) (string, error) {
	jobID, files, err := r.prepare(ctx, opt)
	if err != nil {
		return "", err
	}
	r.execute(ctx, jobID, files, opt)
	return jobID, nil
}

// StartJob 建好作业记录后立即返回作业号，处理在后台进行（HTTP 触发用）。
func (r *Runner) StartJob(ctx context.Context, opt JobOptions) (string, error) {
	jobID, files, err := r.prepare(ctx, opt)
	if err != nil {
		return "", err
	}
	go r.execute(context.Background(), jobID, files, opt)
	return jobID, nil
}

// prepare 发现待处理文件并落下 running 状态的作业行。
func (r *Runner) prepare(ctx context.Context, opt JobOptions) (string, []string, error) {
	if _, err := r.st.LatestRunningETLJob(ctx); err == nil {
		return "", nil, ErrJobAlreadyRunning
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("查询运行中作业失败: %w", err)
	}

	files := opt.Files
	if len(files) == 0 {
		var err error
		files, err = DiscoverFiles(r.cfg.Dirs.InputDir, r.cfg.ETL)
		if err != nil {
			return "", nil, err
		}
	}
	if opt.LatestOnly || r.cfg.ETL.LatestOnly {
		files = filterLatestPerTable(files, ImportableTables(r.cfg.Quality))
	}

	jobID := uuid.NewString()
	job := store.ETLJob{
		JobID:      jobID,
		Status:     store.ETLJobRunning,
		StartTime:  time.Now().UTC().Format(time.RFC3339),
		TotalFiles: len(files),
		Username:   opt.Username,
	}
	if err := r.st.CreateETLJob(ctx, job); err != nil {
		return "", nil, err
	}
	return jobID, files, nil
}

func (r *Runner) execute(ctx context.Context, jobID string, files []string, opt JobOptions) {
	jobCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.cancels, jobID)
		r.mu.Unlock()
	}()

	r.logger.Info("导入作业开始", "job_id", jobID, "files", len(files), "trigger", opt.Trigger)

	var (
		tally                      sync.Mutex
		completed, failed, skipped int
		records                    int64
	)
	var triggeredBy *string
	if opt.Username != "" {
		u := opt.Username
		triggeredBy = &u
	}

	sem := make(chan struct{}, r.cfg.ETL.MaxWorkers)
	var wg sync.WaitGroup
	for _, path := range files {
		if jobCtx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := r.proc.ProcessFile(jobCtx, path, opt.Trigger, triggeredBy, opt.Force)
			if err != nil {
				// 只剩取消一种情况，文件按失败记，作业定性放在收尾。
				outcome.Status = store.ETLFileFailed
				if outcome.Error == "" {
					outcome.Error = err.Error()
				}
			}
			r.recordFile(jobID, outcome)

			tally.Lock()
			defer tally.Unlock()
			switch outcome.Status {
			case store.ETLFileCompleted:
				completed++
				records += outcome.Records
			case store.ETLFileSkipped:
				skipped++
			default:
				failed++
			}
		}(path)
	}
	wg.Wait()

	status := store.ETLJobCompleted
	var jobErr *string
	switch {
	case jobCtx.Err() != nil && ctx.Err() == nil:
		status = store.ETLJobCancelled
		msg := "作业被取消"
		jobErr = &msg
	case ctx.Err() != nil:
		status = store.ETLJobCancelled
		msg := "服务停止，作业中断"
		jobErr = &msg
	case failed > 0 && completed == 0 && skipped == 0:
		status = store.ETLJobFailed
	case failed > 0:
		status = store.ETLJobCompletedWithError
	}

	finishCtx, cancelFinish := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFinish()
	if err := r.st.FinishETLJob(finishCtx, jobID, status, jobErr); err != nil {
		r.logger.Error("收尾作业失败", "job_id", jobID, "error", err)
	}
	r.logger.Info("导入作业结束",
		"job_id", jobID,
		"status", status,
		"completed", completed,
		"failed", failed,
		"skipped", skipped,
		"records", records)
}

// Cancel 取消一个运行中的作业；作业不存在或已结束返回 false。
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

// filterLatestPerTable 每张表只保留文件日期最新的一份；推断不出表的文件原样保留，
// 让后面统一报"无法推断目标表"。
func filterLatestPerTable(files []string, tables []string) []string {
	type candidate struct {
		path string
		date string
	}
	latest := make(map[string]candidate)
	var out []string
	for _, path := range files {
		table, ok := TableForFile(path, tables)
		if !ok {
			out = append(out, path)
			continue
		}
		d := FileDate(path)
		if cur, seen := latest[table]; !seen || d > cur.date {
			latest[table] = candidate{path: path, date: d}
		}
	}
	for _, c := range latest {
		out = append(out, c.path)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) recordFile(jobID string, out FileOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := store.ETLJobFile{
		JobID:       jobID,
		Filename:    out.FileName,
		TableName:   out.TableName,
		Status:      out.Status,
		RecordCount: out.Records,
		Inserted:    out.Inserted,
		Updated:     out.Updated,
		Skipped:     out.Skipped,
	}
	if out.Error != "" {
		msg := out.Error
		f.ErrorMessage = &msg
	}
	if out.Seconds > 0 {
		sec := out.Seconds
		f.ProcessingTimeSeconds = &sec
	}
	if err := r.st.RecordETLJobFile(ctx, f); err != nil {
		r.logger.Warn("记录作业文件失败", "job_id", jobID, "file", out.FileName, "error", err)
	}
}

// SweepStaleJobs 把超时仍标记 running 的作业置为 failed。
// 启动时调一次清理上次异常退出留下的残骸，之后由后台循环周期执行。
func (r *Runner) SweepStaleJobs(ctx context.Context) (int64, error) {
	timeout := time.Duration(r.cfg.ETL.TimeoutSeconds) * time.Second
	cutoff := time.Now().UTC().Add(-timeout).Format(time.RFC3339)
	n, err := r.st.SweepStaleETLJobs(ctx, cutoff, "作业超时未结束，已标记失败")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("清理超时作业", "count", n)
	}
	return n, nil
}
