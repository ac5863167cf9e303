package etl

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"hhsetl/internal/config"
)

// Watcher 盯住输入目录，新文件落地并静默一段时间后自动触发导入。
// 静默期是为了躲开 SFTP/复制尚未写完的半截文件。
type Watcher struct {
	cfg    config.Config
	runner *Runner
	logger *slog.Logger
}

func NewWatcher(cfg config.Config, runner *Runner, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{cfg: cfg, runner: runner, logger: logger}
}

// Run 阻塞运行直到 ctx 结束。未开启 watch_input_dir 时立即返回 nil。
func (w *Watcher) Run(ctx context.Context) error {
	if !w.cfg.ETL.WatchInputDir {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.cfg.Dirs.InputDir); err != nil {
		return err
	}
	w.logger.Info("目录监控已启动", "dir", w.cfg.Dirs.InputDir)

	settle := time.Duration(w.cfg.ETL.WatchSettleSeconds) * time.Second
	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			if !w.matches(filepath.Base(ev.Name)) {
				continue
			}
			// 每来一个事件就重置静默计时，直到目录安静下来。
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(settle)
			armed = true
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("目录监控出错", "error", err)
		case <-timer.C:
			armed = false
			jobID, err := w.runner.RunJob(ctx, JobOptions{Trigger: "auto", Username: "watcher"})
			switch {
			case errors.Is(err, ErrJobAlreadyRunning):
				// 撞上手动作业就等下一轮。
				timer.Reset(settle)
				armed = true
			case err != nil:
				w.logger.Error("自动导入失败", "error", err)
			default:
				w.logger.Info("自动导入完成", "job_id", jobID)
			}
		}
	}
}

func (w *Watcher) matches(name string) bool {
	if hasIgnoredPrefix(name, w.cfg.ETL.IgnoredFilenamePrefixes) {
		return false
	}
	lower := strings.ToLower(name)
	for _, pat := range w.cfg.ETL.FilePatterns {
		if ok, err := filepath.Match(strings.ToLower(pat), lower); err == nil && ok {
			return true
		}
	}
	return false
}
