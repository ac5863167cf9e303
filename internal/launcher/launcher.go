// Package launcher 控制 hhsetl 服务进程的启停，替代图形启动器：
// 起停、状态探测、证书生成与配置文件的端口/HTTPS 开关。
package launcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hhsetl/internal/certs"
	"hhsetl/internal/config"
)

var (
	ErrAlreadyRunning = errors.New("服务已在运行")
	ErrNotRunning     = errors.New("服务未在运行")
)

// Options 描述被管理的进程。
type Options struct {
	// ConfigPath 为空时用默认配置文件。
	ConfigPath string
	// PIDFile 为空时放在配置的 data_dir 下。
	PIDFile string
	// ServerBin 为空时在可执行文件同目录找 hhsetl。
	ServerBin string

	// StartTimeout 是等端口开始监听的上限，默认 30 秒。
	StartTimeout time.Duration
	// StopTimeout 是 SIGTERM 后等端口释放的上限，超时升级为 SIGKILL。默认 15 秒。
	StopTimeout time.Duration
}

type Launcher struct {
	opts Options
}

func New(opts Options) *Launcher {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 15 * time.Second
	}
	return &Launcher{opts: opts}
}

func (l *Launcher) loadConfig() (config.Config, error) {
	return config.Load(l.opts.ConfigPath)
}

func (l *Launcher) pidFile(cfg config.Config) string {
	if l.opts.PIDFile != "" {
		return l.opts.PIDFile
	}
	dir := cfg.Dirs.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "hhsetl.pid")
}

func (l *Launcher) serverBin() (string, error) {
	if l.opts.ServerBin != "" {
		return l.opts.ServerBin, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("定位可执行文件失败: %w", err)
	}
	return filepath.Join(filepath.Dir(self), "hhsetl"), nil
}

// Start 拉起服务进程并等到端口开始监听。
func (l *Launcher) Start(ctx context.Context) (int, error) {
	cfg, err := l.loadConfig()
	if err != nil {
		return 0, err
	}
	if PortListening(cfg.Server.Host, cfg.Server.Port, time.Second) {
		return 0, ErrAlreadyRunning
	}

	bin, err := l.serverBin()
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(bin, "-config", l.configPathOrDefault())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// 独立进程组：启动器退出后服务继续运行。
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("启动服务进程失败: %w", err)
	}
	pid := cmd.Process.Pid
	if err := WritePIDFile(l.pidFile(cfg), pid); err != nil {
		return pid, err
	}
	// 子进程由自己的生命周期管理，这里只是避免僵尸。
	go func() { _ = cmd.Wait() }()

	deadline := time.Now().Add(l.opts.StartTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return pid, err
		}
		if PortListening(cfg.Server.Host, cfg.Server.Port, time.Second) {
			return pid, nil
		}
		if !processAlive(pid) {
			return pid, fmt.Errorf("服务进程已退出（pid=%d），请查看日志", pid)
		}
		time.Sleep(500 * time.Millisecond)
	}
	return pid, fmt.Errorf("等待端口 %d 监听超时", cfg.Server.Port)
}

// Stop 给 pidfile 里的进程发 SIGTERM，等端口释放；超时升级为 SIGKILL。
func (l *Launcher) Stop(ctx context.Context) error {
	cfg, err := l.loadConfig()
	if err != nil {
		return err
	}
	pidFile := l.pidFile(cfg)
	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		if PortListening(cfg.Server.Host, cfg.Server.Port, time.Second) {
			return fmt.Errorf("端口 %d 有进程监听但没有 pidfile，请手工处理", cfg.Server.Port)
		}
		return ErrNotRunning
	}
	if !processAlive(pid) {
		_ = os.Remove(pidFile)
		return ErrNotRunning
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("发送停止信号失败（pid=%d）: %w", pid, err)
	}

	deadline := time.Now().Add(l.opts.StopTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !processAlive(pid) && !PortListening(cfg.Server.Host, cfg.Server.Port, time.Second) {
			_ = os.Remove(pidFile)
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}

	_ = syscall.Kill(pid, syscall.SIGKILL)
	_ = os.Remove(pidFile)
	return nil
}

// Restart 先停后起。服务本来没在跑时直接启动。
func (l *Launcher) Restart(ctx context.Context) (int, error) {
	if err := l.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return 0, err
	}
	return l.Start(ctx)
}

// Status 是进程与端口的探测结果。
type Status struct {
	PID           int
	ProcessAlive  bool
	PortListening bool
	Host          string
	Port          int
	UseHTTPS      bool
}

func (l *Launcher) Status(ctx context.Context) (Status, error) {
	cfg, err := l.loadConfig()
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		UseHTTPS: cfg.Server.UseHTTPS,
	}
	if pid, err := ReadPIDFile(l.pidFile(cfg)); err == nil {
		st.PID = pid
		st.ProcessAlive = processAlive(pid)
	}
	st.PortListening = PortListening(cfg.Server.Host, cfg.Server.Port, time.Second)
	return st, nil
}

// GenerateCerts 生成自签名证书，路径取配置里的 cert_file/key_file，
// 未配置时落到 ssl_dir 下的默认文件名。
func (l *Launcher) GenerateCerts(ctx context.Context) (*certs.Result, error) {
	cfg, err := l.loadConfig()
	if err != nil {
		return nil, err
	}
	certFile := cfg.Server.CertFile
	keyFile := cfg.Server.KeyFile
	if certFile == "" || keyFile == "" {
		sslDir := cfg.Dirs.SSLDir
		if sslDir == "" {
			sslDir = filepath.Join("data", "ssl")
		}
		certFile = filepath.Join(sslDir, "server.crt")
		keyFile = filepath.Join(sslDir, "server.key")
	}
	return certs.Generate(ctx, certs.Options{CertFile: certFile, KeyFile: keyFile})
}

// SetPort 改写配置文件里的监听端口。
func (l *Launcher) SetPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("端口不合法：%d", port)
	}
	return config.SetKey(l.opts.ConfigPath, "web.port", port)
}

// SetHTTPS 打开/关闭 HTTPS；打开时顺带写入证书路径（非空才写）。
func (l *Launcher) SetHTTPS(enable bool, certFile, keyFile string) error {
	path := l.opts.ConfigPath
	if err := config.SetKey(path, "web.use_https", enable); err != nil {
		return err
	}
	if enable && certFile != "" {
		if err := config.SetKey(path, "web.cert_file", certFile); err != nil {
			return err
		}
	}
	if enable && keyFile != "" {
		if err := config.SetKey(path, "web.key_file", keyFile); err != nil {
			return err
		}
	}
	return nil
}

func (l *Launcher) configPathOrDefault() string {
	if strings.TrimSpace(l.opts.ConfigPath) != "" {
		return l.opts.ConfigPath
	}
	return config.DefaultConfigFile
}

// WritePIDFile 原子地写入 pid。
func WritePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建 pidfile 目录失败: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("写入 pidfile 失败: %w", err)
	}
	return os.Rename(tmp, path)
}

func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pidfile 内容不合法（%s）", path)
	}
	return pid, nil
}

// processAlive 用 signal 0 探测进程是否存在。
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// PortInUse 通过尝试监听判断端口是否被占用。
func PortInUse(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return true
	}
	_ = ln.Close()
	return false
}

// PortListening 通过拨号判断端口上是否有服务在监听。
func PortListening(host string, port int, timeout time.Duration) bool {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
