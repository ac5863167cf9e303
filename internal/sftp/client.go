package sftp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	sftplib "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ClientOptions 描述一次 SFTP 连接所需的全部参数。
type ClientOptions struct {
	Host                 string
	Port                 int
	Username             string
	AuthMethod           string // key 或 password
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string
	KnownHostsPath       string
	VerifyHostKey        bool
	Timeout              time.Duration
}

// FileInfo 描述远端目录里一个可下载的文件。
type FileInfo struct {
	Filename     string    `json:"filename"`
	RemotePath   string    `json:"remote_path"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modified_time"`
}

// Client 是一条已建立的 SFTP 连接，调用方用完需 Close。
type Client struct {
	ssh    *ssh.Client
	sftp   *sftplib.Client
	logger *slog.Logger
}

// Dial 建立 SSH 连接并打开 SFTP 子系统。
func Dial(opts ClientOptions, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.Host) == "" {
		return nil, errors.New("未配置 SFTP 主机")
	}
	if opts.Port <= 0 {
		opts.Port = 22
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	auth, err := authMethods(opts)
	if err != nil {
		return nil, err
	}
	hostKeyCB, err := hostKeyCallback(opts, logger)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	logger.Info("连接 SFTP 服务器", "addr", addr, "username", opts.Username, "auth_method", opts.AuthMethod)
	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            opts.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
		Timeout:         opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("连接 SFTP 服务器失败: %w", err)
	}
	client, err := sftplib.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("打开 SFTP 子系统失败: %w", err)
	}
	return &Client{ssh: conn, sftp: client, logger: logger}, nil
}

// authMethods 按配置的认证方式组装凭据，两种方式互斥，避免误用另一套凭据。
func authMethods(opts ClientOptions) ([]ssh.AuthMethod, error) {
	switch strings.ToLower(strings.TrimSpace(opts.AuthMethod)) {
	case "", "key":
		keyPath := strings.TrimSpace(opts.PrivateKeyPath)
		if keyPath == "" {
			return nil, errors.New("key 认证需要配置 private_key_path")
		}
		if IsPuTTYKey(keyPath) {
			converted, err := ConvertPPK(keyPath)
			if err != nil {
				return nil, fmt.Errorf("转换 PuTTY 私钥失败: %w", err)
			}
			keyPath = converted
		}
		raw, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("读取私钥失败: %w", err)
		}
		var signer ssh.Signer
		if opts.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, []byte(opts.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(raw)
		}
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	case "password":
		if opts.Password == "" {
			return nil, errors.New("password 认证需要配置密码")
		}
		return []ssh.AuthMethod{ssh.Password(opts.Password)}, nil
	default:
		return nil, fmt.Errorf("不支持的认证方式: %s", opts.AuthMethod)
	}
}

// hostKeyCallback 构造主机密钥校验回调。开启校验时维护 known_hosts 文件：
// 目录与文件不存在则创建，首次见到的主机自动记录，之后的连接严格比对。
func hostKeyCallback(opts ClientOptions, logger *slog.Logger) (ssh.HostKeyCallback, error) {
	khPath := strings.TrimSpace(opts.KnownHostsPath)
	if !opts.VerifyHostKey || khPath == "" {
		logger.Warn("主机密钥校验已关闭，连接可能不安全")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if dir := filepath.Dir(khPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建 known_hosts 目录失败: %w", err)
		}
	}
	if _, err := os.Stat(khPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(khPath, nil, 0o600); err != nil {
			return nil, fmt.Errorf("创建 known_hosts 文件失败: %w", err)
		}
		logger.Info("已创建空的 known_hosts 文件", "path", khPath)
	}
	check, err := knownhosts.New(khPath)
	if err != nil {
		return nil, fmt.Errorf("加载 known_hosts 失败: %w", err)
	}
	v := &hostKeyVerifier{path: khPath, check: check, logger: logger}
	return v.verify, nil
}

// hostKeyVerifier 在 knownhosts 校验外再实现自动记录：
// 未知主机（无任何已存条目）追加进文件并放行，密钥不匹配则拒绝连接。
type hostKeyVerifier struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	check ssh.HostKeyCallback
}

func (v *hostKeyVerifier) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.check(hostname, remote, key)
	if err == nil {
		return nil
	}
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
		if addErr := appendKnownHost(v.path, hostname, key); addErr != nil {
			return fmt.Errorf("记录主机密钥失败: %w", addErr)
		}
		check, reloadErr := knownhosts.New(v.path)
		if reloadErr != nil {
			return fmt.Errorf("重新加载 known_hosts 失败: %w", reloadErr)
		}
		v.check = check
		v.logger.Info("已记录新的主机密钥",
			"hostname", hostname,
			"fingerprint", ssh.FingerprintSHA256(key))
		return nil
	}
	return fmt.Errorf("主机密钥校验失败: %w", err)
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, knownhosts.Line([]string{hostname}, key))
	return err
}

// ListFiles 列出远端目录下匹配任一通配模式的普通文件，目录一律跳过，
// 结果按文件名排序。
func (c *Client) ListFiles(remoteDir string, patterns []string) ([]FileInfo, error) {
	entries, err := c.sftp.ReadDir(remoteDir)
	if err != nil {
		return nil, fmt.Errorf("读取远端目录失败: %w", err)
	}
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !matchesAny(entry.Name(), patterns) {
			continue
		}
		files = append(files, FileInfo{
			Filename:     entry.Name(),
			RemotePath:   path.Join(remoteDir, entry.Name()),
			Size:         entry.Size(),
			ModifiedTime: entry.ModTime().UTC(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	c.logger.Info("远端文件发现完成", "dir", remoteDir, "matched", len(files), "total", len(entries))
	return files, nil
}

// matchesAny 按 shell 通配符匹配文件名，模式列表为空时放行所有文件。
func matchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// DownloadFile 把远端文件拉到本地路径，父目录不存在时自动创建，返回写入字节数。
func (c *Client) DownloadFile(remotePath, localPath string) (int64, error) {
	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("创建本地下载目录失败: %w", err)
		}
	}
	src, err := c.sftp.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("打开远端文件失败: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("创建本地文件失败: %w", err)
	}
	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		// 半截文件会被目录监听当作完整输入，必须清掉
		os.Remove(localPath)
		return 0, fmt.Errorf("下载文件失败: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(localPath)
		return 0, fmt.Errorf("写入本地文件失败: %w", err)
	}
	return n, nil
}

// DeleteFile 删除远端文件。
func (c *Client) DeleteFile(remotePath string) error {
	if err := c.sftp.Remove(remotePath); err != nil {
		return fmt.Errorf("删除远端文件失败: %w", err)
	}
	return nil
}

// Close 关闭 SFTP 会话与底层 SSH 连接。
func (c *Client) Close() error {
	var first error
	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			first = err
		}
	}
	if c.ssh != nil {
		if err := c.ssh.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
