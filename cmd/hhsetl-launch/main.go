// hhsetl-launch 是 hhsetl 服务的进程启动器：起停、状态、证书与端口/HTTPS 配置。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"hhsetl/internal/launcher"
)

func usage() {
	fmt.Fprintln(os.Stderr, `用法: hhsetl-launch <命令> [选项]

命令:
  start      启动服务并等端口就绪
  stop       停止服务（SIGTERM，超时 SIGKILL）
  restart    先停后起
  status     打印进程与端口状态
  certgen    生成自签名 TLS 证书
  set-port   修改配置文件里的监听端口: set-port <端口>
  set-https  开关 HTTPS: set-https on|off [-cert 路径 -key 路径]

通用选项（放在命令之后）:
  -config 路径    配置文件（默认 .config.json）
  -pidfile 路径   pidfile（默认 <data_dir>/hhsetl.pid）
  -bin 路径       服务可执行文件（默认同目录的 hhsetl）`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "", "配置文件路径")
	pidFile := fs.String("pidfile", "", "pidfile 路径")
	serverBin := fs.String("bin", "", "服务可执行文件路径")
	certFile := fs.String("cert", "", "证书路径（set-https on 时写入配置）")
	keyFile := fs.String("key", "", "私钥路径（set-https on 时写入配置）")

	// set-port/set-https 带一个位置参数，先摘出来再解析选项。
	var positional string
	args := os.Args[2:]
	if (command == "set-port" || command == "set-https") && len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		positional = args[0]
		args = args[1:]
	}
	_ = fs.Parse(args)

	l := launcher.New(launcher.Options{
		ConfigPath: *configPath,
		PIDFile:    *pidFile,
		ServerBin:  *serverBin,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch command {
	case "start":
		pid, err := l.Start(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("服务已启动 pid=%d\n", pid)
	case "stop":
		if err := l.Stop(ctx); err != nil {
			fatal(err)
		}
		fmt.Println("服务已停止")
	case "restart":
		pid, err := l.Restart(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("服务已重启 pid=%d\n", pid)
	case "status":
		st, err := l.Status(ctx)
		if err != nil {
			fatal(err)
		}
		scheme := "http"
		if st.UseHTTPS {
			scheme = "https"
		}
		fmt.Printf("pid=%d alive=%v listening=%v url=%s://%s:%d\n",
			st.PID, st.ProcessAlive, st.PortListening, scheme, st.Host, st.Port)
		if !st.PortListening {
			os.Exit(1)
		}
	case "certgen":
		res, err := l.GenerateCerts(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("证书已生成 cert=%s key=%s 有效期至 %s\n",
			res.CertFile, res.KeyFile, res.NotAfter.Format("2006-01-02"))
	case "set-port":
		if positional == "" {
			usage()
		}
		var port int
		if _, err := fmt.Sscanf(positional, "%d", &port); err != nil {
			fatal(fmt.Errorf("端口不合法：%s", positional))
		}
		if err := l.SetPort(port); err != nil {
			fatal(err)
		}
		fmt.Printf("端口已改为 %d，重启服务后生效\n", port)
	case "set-https":
		switch positional {
		case "on":
			if err := l.SetHTTPS(true, *certFile, *keyFile); err != nil {
				fatal(err)
			}
			fmt.Println("HTTPS 已开启，重启服务后生效")
		case "off":
			if err := l.SetHTTPS(false, "", ""); err != nil {
				fatal(err)
			}
			fmt.Println("HTTPS 已关闭，重启服务后生效")
		default:
			usage()
		}
	default:
		usage()
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "错误:", err)
	os.Exit(1)
}
