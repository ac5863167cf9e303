package sftp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"hhsetl/internal/store"
)

// ErrDisabled 表示 SFTP 下载在配置里被关闭。
var ErrDisabled = errors.New("SFTP 下载未启用")

// Secrets 存放不落库的连接凭据。密码与密钥口令只存在配置文件里，
// sys_sftp_config 仅保存非敏感字段，两者在建连时合并。
type Secrets struct {
	Password             string
	PrivateKeyPassphrase string
}

// Service 把数据库里的 SFTP 配置变成实际的连接测试、文件发现与批量下载。
type Service struct {
	st      *store.Store
	secrets Secrets
	logger  *slog.Logger
}

func NewService(st *store.Store, secrets Secrets, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{st: st, secrets: secrets, logger: logger}
}

// DownloadResult 记录单个文件的下载结果。
type DownloadResult struct {
	Success             bool    `json:"success"`
	Filename            string  `json:"filename"`
	LocalPath           string  `json:"local_path"`
	RemotePath          string  `json:"remote_path"`
	FileSize            int64   `json:"file_size"`
	DownloadTimeSeconds float64 `json:"download_time_seconds"`
	ErrorMessage        string  `json:"error_message"`
}

// DownloadSummary 汇总一轮批量下载。
type DownloadSummary struct {
	TotalFiles          int              `json:"total_files"`
	SuccessfulDownloads int              `json:"successful_downloads"`
	FailedDownloads     int              `json:"failed_downloads"`
	Results             []DownloadResult `json:"results"`
}

// clientOptions 合并数据库配置与文件凭据。认证方式互斥：
// key 模式不带密码，password 模式不带密钥，防止误用另一套凭据。
func (s *Service) clientOptions(cfg store.SFTPConfig) ClientOptions {
	opts := ClientOptions{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Username:       cfg.Username,
		AuthMethod:     cfg.AuthMethod,
		KnownHostsPath: cfg.KnownHostsPath,
		VerifyHostKey:  cfg.VerifyHostKey,
		Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if strings.EqualFold(strings.TrimSpace(cfg.AuthMethod), "password") {
		opts.Password = s.secrets.Password
	} else {
		opts.PrivateKeyPath = cfg.PrivateKeyPath
		opts.PrivateKeyPassphrase = s.secrets.PrivateKeyPassphrase
	}
	return opts
}

// dial 按 max_retries 重试建连，退避逐次加一秒。
func (s *Service) dial(ctx context.Context, cfg store.SFTPConfig) (*Client, error) {
	opts := s.clientOptions(cfg)
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
			s.logger.Warn("重试连接 SFTP 服务器", "attempt", i+1, "max_attempts", attempts)
		}
		client, err := Dial(opts, s.logger)
		if err == nil {
			return client, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) filePatterns(ctx context.Context) ([]string, error) {
	rows, err := s.st.ListSFTPFilePatterns(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("读取文件模式失败: %w", err)
	}
	patterns := make([]string, 0, len(rows))
	for _, r := range rows {
		patterns = append(patterns, r.Pattern)
	}
	return patterns, nil
}

// TestConnection 用当前配置试连一次，返回是否成功与给用户看的描述信息。
// 试连结果写入系统类审计。
func (s *Service) TestConnection(ctx context.Context, username string) (bool, string) {
	cfg, err := s.st.GetSFTPConfig(ctx)
	if err != nil {
		return false, "读取 SFTP 配置失败: " + err.Error()
	}
	if !cfg.Enabled {
		return false, "SFTP 下载未启用"
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return false, "未配置 SFTP 主机"
	}

	client, err := Dial(s.clientOptions(cfg), s.logger)
	if err != nil {
		details := "SFTP 连接测试失败"
		resource := "sftp_connection"
		errMsg := err.Error()
		s.audit(ctx, store.AuditEvent{
			Username:       username,
			Action:         "sftp_connection_test",
			Category:       store.AuditCategorySystem,
			Success:        false,
			Details:        &details,
			TargetResource: &resource,
			ErrorMessage:   &errMsg,
		})
		return false, "连接失败: " + err.Error()
	}
	defer client.Close()

	useKeyAuth := !strings.EqualFold(strings.TrimSpace(cfg.AuthMethod), "password")
	parts := []string{
		"SFTP 连接成功",
		"主机: " + cfg.Host,
		fmt.Sprintf("端口: %d", cfg.Port),
		"用户名: " + cfg.Username,
	}
	if useKeyAuth {
		parts = append(parts, "认证方式: SSH 密钥")
		if cfg.PrivateKeyPath != "" {
			parts = append(parts, "密钥文件: "+cfg.PrivateKeyPath)
		}
	} else {
		parts = append(parts, "认证方式: 密码")
	}

	details := "SFTP 连接测试成功: " + cfg.Host
	resource := "sftp_connection"
	s.audit(ctx, store.AuditEvent{
		Username:       username,
		Action:         "sftp_connection_test",
		Category:       store.AuditCategorySystem,
		Success:        true,
		Details:        &details,
		TargetResource: &resource,
	})
	return true, strings.Join(parts, " | ")
}

// DiscoverFiles 列出远端目录下匹配启用模式的文件，不做下载。
func (s *Service) DiscoverFiles(ctx context.Context) ([]FileInfo, error) {
	cfg, err := s.st.GetSFTPConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取 SFTP 配置失败: %w", err)
	}
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	patterns, err := s.filePatterns(ctx)
	if err != nil {
		return nil, err
	}
	client, err := s.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.ListFiles(cfg.RemoteDirectory, patterns)
}

// DownloadAll 下载远端匹配文件到本地下载目录，only 非空时只下载指定文件名。
// 每个文件的成败单独写 ETL 类审计，单个失败不中断整轮。
func (s *Service) DownloadAll(ctx context.Context, username string, only []string) (DownloadSummary, error) {
	summary := DownloadSummary{Results: []DownloadResult{}}

	cfg, err := s.st.GetSFTPConfig(ctx)
	if err != nil {
		return summary, fmt.Errorf("读取 SFTP 配置失败: %w", err)
	}
	if !cfg.Enabled {
		return summary, ErrDisabled
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return summary, errors.New("未配置 SFTP 主机")
	}
	patterns, err := s.filePatterns(ctx)
	if err != nil {
		return summary, err
	}

	client, err := s.dial(ctx, cfg)
	if err != nil {
		return summary, err
	}
	defer client.Close()

	files, err := client.ListFiles(cfg.RemoteDirectory, patterns)
	if err != nil {
		return summary, err
	}
	if len(only) > 0 {
		want := make(map[string]bool, len(only))
		for _, name := range only {
			want[name] = true
		}
		kept := files[:0]
		for _, f := range files {
			if want[f.Filename] {
				kept = append(kept, f)
			}
		}
		files = kept
	}
	if len(files) == 0 {
		s.logger.Info("远端没有待下载的文件")
		return summary, nil
	}

	localDir := strings.TrimSpace(cfg.LocalDownloadPath)
	if localDir == "" {
		localDir = filepath.Join("data", "input")
	}

	for _, f := range files {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		start := time.Now()
		localPath := filepath.Join(localDir, f.Filename)
		s.logger.Info("下载文件", "filename", f.Filename, "size", f.Size)

		written, err := client.DownloadFile(f.RemotePath, localPath)
		elapsed := time.Since(start)

		res := DownloadResult{
			Success:             err == nil,
			Filename:            f.Filename,
			RemotePath:          f.RemotePath,
			FileSize:            f.Size,
			DownloadTimeSeconds: elapsed.Seconds(),
		}
		if err == nil {
			res.LocalPath = localPath
			res.FileSize = written
			summary.SuccessfulDownloads++
		} else {
			res.ErrorMessage = err.Error()
			summary.FailedDownloads++
			s.logger.Error("下载文件失败", "filename", f.Filename, "error", err)
		}
		summary.Results = append(summary.Results, res)

		action := "file_downloaded"
		if err != nil {
			action = "file_failed"
		}
		details := "从 " + cfg.Host + " 下载"
		resource := f.Filename
		durationMS := elapsed.Milliseconds()
		fileSize := res.FileSize
		ev := store.AuditEvent{
			Username:       username,
			Action:         action,
			Category:       store.AuditCategoryETL,
			Success:        err == nil,
			Details:        &details,
			TargetResource: &resource,
			DurationMS:     &durationMS,
			FileSize:       &fileSize,
		}
		if err != nil {
			errMsg := err.Error()
			ev.ErrorMessage = &errMsg
		}
		s.audit(ctx, ev)

		if err == nil && cfg.DeleteAfterDownload {
			if delErr := client.DeleteFile(f.RemotePath); delErr != nil {
				s.logger.Warn("删除远端文件失败", "filename", f.Filename, "error", delErr)
			} else {
				s.logger.Info("已删除远端文件", "filename", f.Filename)
			}
		}
	}

	summary.TotalFiles = len(summary.Results)
	s.logger.Info("SFTP 下载完成",
		"total", summary.TotalFiles,
		"succeeded", summary.SuccessfulDownloads,
		"failed", summary.FailedDownloads)
	return summary, nil
}

// RunAutoDownload 周期性批量下载，阻塞直到 ctx 取消。间隔每轮重新读库，
// 配置修改即时生效；有成功下载时调用 after（用于触发 ETL 处理）。
func (s *Service) RunAutoDownload(ctx context.Context, after func(context.Context, DownloadSummary)) {
	const idlePoll = time.Minute
	for {
		interval := idlePoll
		cfg, err := s.st.GetSFTPConfig(ctx)
		switch {
		case err != nil:
			s.logger.Error("读取 SFTP 配置失败", "error", err)
		case cfg.Enabled && cfg.AutoDownload:
			if cfg.DownloadIntervalMinutes > 0 {
				interval = time.Duration(cfg.DownloadIntervalMinutes) * time.Minute
			}
			summary, err := s.DownloadAll(ctx, "system", nil)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Error("自动下载失败", "error", err)
			} else if summary.SuccessfulDownloads > 0 && after != nil {
				after(ctx, summary)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (s *Service) audit(ctx context.Context, ev store.AuditEvent) {
	if err := s.st.InsertAuditEvent(ctx, ev); err != nil {
		s.logger.Warn("写入审计记录失败", "action", ev.Action, "error", err)
	}
}
