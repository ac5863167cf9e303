package sftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	sftplib "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"hhsetl/internal/store"
)

func newServiceStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	internal, err := store.OpenInternalDB(filepath.Join(dir, "internal.db") + "?_busy_timeout=1000")
	if err != nil {
		t.Fatalf("OpenInternalDB: %v", err)
	}
	t.Cleanup(func() { internal.Close() })
	if err := store.EnsureInternalSchema(internal); err != nil {
		t.Fatalf("EnsureInternalSchema: %v", err)
	}
	return store.New(internal, internal)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// startSSHServer 起一个只认固定账号密码的 SSH 服务端，session 通道上
// 把 sftp 子系统接到本机文件系统，用于跑完整的下载链路。
func startSSHServer(t *testing.T, user, password string) string {
	t.Helper()
	signer, err := ssh.NewSignerFromKey(testRSAKey(t))
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("用户 %s 认证失败", meta.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, cfg)
		}
	}()
	return ln.Addr().String()
}

func serveSSHConn(nc net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "仅支持 session")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func(ch ssh.Channel, in <-chan *ssh.Request) {
			for req := range in {
				// subsystem 请求的 payload 是 4 字节长度前缀 + 名称
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				req.Reply(ok, nil)
				if !ok {
					continue
				}
				if srv, err := sftplib.NewServer(ch); err == nil {
					srv.Serve()
				}
				ch.Close()
				return
			}
		}(ch, requests)
	}
}

func saveSFTPConfig(t *testing.T, st *store.Store, cfg store.SFTPConfig) {
	t.Helper()
	if err := st.SaveSFTPConfig(context.Background(), cfg, "tester"); err != nil {
		t.Fatalf("SaveSFTPConfig: %v", err)
	}
}

func TestClientOptionsAuthGating(t *testing.T) {
	svc := NewService(nil, Secrets{Password: "pw", PrivateKeyPassphrase: "pp"}, quietLogger())

	keyOpts := svc.clientOptions(store.SFTPConfig{
		Host: "h", Port: 22, Username: "u",
		AuthMethod: "key", PrivateKeyPath: "/keys/id_rsa",
	})
	if keyOpts.Password != "" {
		t.Fatalf("key 模式不应携带密码: %q", keyOpts.Password)
	}
	if keyOpts.PrivateKeyPath != "/keys/id_rsa" || keyOpts.PrivateKeyPassphrase != "pp" {
		t.Fatalf("key 模式凭据不完整: %+v", keyOpts)
	}

	pwOpts := svc.clientOptions(store.SFTPConfig{
		Host: "h", Port: 22, Username: "u",
		AuthMethod: "password", PrivateKeyPath: "/keys/id_rsa",
	})
	if pwOpts.Password != "pw" {
		t.Fatalf("password 模式应携带密码: %+v", pwOpts)
	}
	if pwOpts.PrivateKeyPath != "" || pwOpts.PrivateKeyPassphrase != "" {
		t.Fatalf("password 模式不应携带密钥: %+v", pwOpts)
	}
}

func TestServiceDisabledGuards(t *testing.T) {
	st := newServiceStore(t)
	ctx := context.Background()
	svc := NewService(st, Secrets{}, quietLogger())

	saveSFTPConfig(t, st, store.SFTPConfig{Enabled: false, Host: "sftp.example.gov"})

	if ok, msg := svc.TestConnection(ctx, "admin"); ok || msg != "SFTP 下载未启用" {
		t.Fatalf("TestConnection = %v, %q", ok, msg)
	}
	if _, err := svc.DiscoverFiles(ctx); !errors.Is(err, ErrDisabled) {
		t.Fatalf("DiscoverFiles err = %v, want ErrDisabled", err)
	}
	if _, err := svc.DownloadAll(ctx, "admin", nil); !errors.Is(err, ErrDisabled) {
		t.Fatalf("DownloadAll err = %v, want ErrDisabled", err)
	}
}

func TestTestConnectionMissingHost(t *testing.T) {
	st := newServiceStore(t)
	svc := NewService(st, Secrets{}, quietLogger())

	saveSFTPConfig(t, st, store.SFTPConfig{Enabled: true, Host: "  "})

	if ok, msg := svc.TestConnection(context.Background(), "admin"); ok || msg != "未配置 SFTP 主机" {
		t.Fatalf("TestConnection = %v, %q", ok, msg)
	}
}

func TestTestConnectionFailureWritesAudit(t *testing.T) {
	st := newServiceStore(t)
	ctx := context.Background()
	svc := NewService(st, Secrets{Password: "pw"}, quietLogger())

	saveSFTPConfig(t, st, store.SFTPConfig{
		Enabled: true, Host: "127.0.0.1", Port: freePort(t),
		Username: "etl", AuthMethod: "password",
		TimeoutSeconds: 2, MaxRetries: 1,
	})

	ok, msg := svc.TestConnection(ctx, "admin")
	if ok {
		t.Fatal("连接已关闭的端口应失败")
	}
	if !strings.HasPrefix(msg, "连接失败: ") {
		t.Fatalf("失败消息 = %q", msg)
	}

	events, err := st.QueryAuditEvents(ctx, store.AuditFilter{Action: "sftp_connection_test"})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("审计条数 = %d, want 1", len(events))
	}
	if events[0].Success || events[0].ErrorMessage == nil {
		t.Fatalf("审计内容 = %+v", events[0])
	}
	if events[0].Category != store.AuditCategorySystem {
		t.Fatalf("审计分类 = %s, want %s", events[0].Category, store.AuditCategorySystem)
	}
}

func TestFilePatternsOnlyEnabled(t *testing.T) {
	st := newServiceStore(t)
	ctx := context.Background()
	svc := NewService(st, Secrets{}, quietLogger())

	if _, err := st.AddSFTPFilePattern(ctx, "*.csv"); err != nil {
		t.Fatalf("AddSFTPFilePattern: %v", err)
	}
	id, err := st.AddSFTPFilePattern(ctx, "*.tmp")
	if err != nil {
		t.Fatalf("AddSFTPFilePattern: %v", err)
	}
	if err := st.SetSFTPFilePatternEnabled(ctx, id, false); err != nil {
		t.Fatalf("SetSFTPFilePatternEnabled: %v", err)
	}

	patterns, err := svc.filePatterns(ctx)
	if err != nil {
		t.Fatalf("filePatterns: %v", err)
	}
	if len(patterns) != 1 || patterns[0] != "*.csv" {
		t.Fatalf("patterns = %v, want [*.csv]", patterns)
	}
}

func TestServiceDownloadAllEndToEnd(t *testing.T) {
	st := newServiceStore(t)
	ctx := context.Background()

	const user, pass = "etl", "pw123"
	addr := startSSHServer(t, user, pass)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}

	remote := t.TempDir()
	local := t.TempDir()
	khPath := filepath.Join(t.TempDir(), "ssh", "known_hosts")
	content := "person_id,first_name\nP0001,Maria\n"
	writeFile(t, filepath.Join(remote, "people_20240801.csv"), content)
	writeFile(t, filepath.Join(remote, "readme.txt"), "ignore me")

	saveSFTPConfig(t, st, store.SFTPConfig{
		Enabled: true, Host: host, Port: port,
		Username: user, AuthMethod: "password",
		RemoteDirectory: remote, LocalDownloadPath: local,
		TimeoutSeconds: 5, MaxRetries: 1,
		VerifyHostKey: true, KnownHostsPath: khPath,
		DeleteAfterDownload: true,
	})
	if _, err := st.AddSFTPFilePattern(ctx, "*.csv"); err != nil {
		t.Fatalf("AddSFTPFilePattern: %v", err)
	}

	svc := NewService(st, Secrets{Password: pass}, quietLogger())

	ok, msg := svc.TestConnection(ctx, "admin")
	if !ok {
		t.Fatalf("TestConnection: %s", msg)
	}
	if !strings.Contains(msg, "SFTP 连接成功") || !strings.Contains(msg, "认证方式: 密码") {
		t.Fatalf("连接消息 = %q", msg)
	}

	files, err := svc.DiscoverFiles(ctx)
	if err != nil {
		t.Fatalf("DiscoverFiles: %v", err)
	}
	if len(files) != 1 || files[0].Filename != "people_20240801.csv" {
		t.Fatalf("发现的文件 = %+v", files)
	}

	summary, err := svc.DownloadAll(ctx, "admin", nil)
	if err != nil {
		t.Fatalf("DownloadAll: %v", err)
	}
	if summary.TotalFiles != 1 || summary.SuccessfulDownloads != 1 || summary.FailedDownloads != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	res := summary.Results[0]
	if !res.Success || res.Filename != "people_20240801.csv" || res.FileSize != int64(len(content)) {
		t.Fatalf("result = %+v", res)
	}

	got, err := os.ReadFile(filepath.Join(local, "people_20240801.csv"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != content {
		t.Fatalf("下载内容 = %q, want %q", got, content)
	}

	// delete_after_download 应删掉远端文件
	if _, err := os.Stat(filepath.Join(remote, "people_20240801.csv")); err == nil {
		t.Fatal("远端文件应已被删除")
	}
	// 真实握手后主机密钥应被自动记录
	kh, err := os.ReadFile(khPath)
	if err != nil || len(kh) == 0 {
		t.Fatalf("known_hosts 未写入: %v", err)
	}

	events, err := st.QueryAuditEvents(ctx, store.AuditFilter{Action: "file_downloaded"})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("file_downloaded 审计条数 = %d, want 1", len(events))
	}
	ev := events[0]
	if !ev.Success || ev.Category != store.AuditCategoryETL {
		t.Fatalf("审计内容 = %+v", ev)
	}
	if ev.TargetResource == nil || *ev.TargetResource != "people_20240801.csv" {
		t.Fatalf("TargetResource = %v", ev.TargetResource)
	}
	if ev.FileSize == nil || *ev.FileSize != int64(len(content)) {
		t.Fatalf("FileSize = %v", ev.FileSize)
	}

	// 再跑一轮：远端已空，应得到空汇总
	again, err := svc.DownloadAll(ctx, "admin", nil)
	if err != nil {
		t.Fatalf("DownloadAll (2): %v", err)
	}
	if again.TotalFiles != 0 || len(again.Results) != 0 {
		t.Fatalf("第二轮 summary = %+v", again)
	}
}

func TestDownloadAllOnlyFilter(t *testing.T) {
	st := newServiceStore(t)
	ctx := context.Background()

	const user, pass = "etl", "pw123"
	addr := startSSHServer(t, user, pass)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	remote := t.TempDir()
	local := t.TempDir()
	writeFile(t, filepath.Join(remote, "people.csv"), "a\n1\n")
	writeFile(t, filepath.Join(remote, "cases.csv"), "b\n2\n")

	saveSFTPConfig(t, st, store.SFTPConfig{
		Enabled: true, Host: host, Port: port,
		Username: user, AuthMethod: "password",
		RemoteDirectory: remote, LocalDownloadPath: local,
		TimeoutSeconds: 5, MaxRetries: 1,
	})

	svc := NewService(st, Secrets{Password: pass}, quietLogger())

	summary, err := svc.DownloadAll(ctx, "admin", []string{"cases.csv"})
	if err != nil {
		t.Fatalf("DownloadAll: %v", err)
	}
	if summary.TotalFiles != 1 || summary.Results[0].Filename != "cases.csv" {
		t.Fatalf("summary = %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(local, "people.csv")); err == nil {
		t.Fatal("未指定的文件不应被下载")
	}
	// delete_after_download 未开启，远端文件应保留
	if _, err := os.Stat(filepath.Join(remote, "cases.csv")); err != nil {
		t.Fatalf("远端文件不应被删除: %v", err)
	}
}

func TestRunAutoDownloadStopsOnCancel(t *testing.T) {
	st := newServiceStore(t)
	svc := NewService(st, Secrets{}, quietLogger())

	saveSFTPConfig(t, st, store.SFTPConfig{Enabled: false})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunAutoDownload(ctx, nil)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunAutoDownload 未在取消后退出")
	}
}
