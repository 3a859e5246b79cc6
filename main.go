package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"koil/config"
	"koil/server"
	"koil/sim"
)

// koil 入口：启动 HTTP + WebSocket 服务，并驱动权威世界的 Tick 循环
func main() {
	var cfgPath, addr string
	flag.StringVar(&cfgPath, "config", "", "path to YAML config (default: $KOIL_CONFIG)")
	flag.StringVar(&addr, "addr", "", "server listen address, e.g. :6970 (overrides config)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := server.InitLogger(cfg.Log); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	srv := server.NewServer(cfg, sim.DefaultLevel(), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWS)
	// 管理与监控接口
	mux.HandleFunc("/stats", srv.HandleStats)
	mux.Handle("/metrics", srv.MetricsHandler())
	mux.HandleFunc("/admin/status", srv.HandleAdminStatus)
	mux.HandleFunc("/admin/admission", srv.HandleAdminAdmission)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		srv.Run(ctx)
	}()

	listenErr := make(chan error, 1)
	go func() {
		server.Log.Infof("koil listening on %s at %d ticks/s", cfg.Server.Addr, cfg.Server.TickRate)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	// 优雅退出（Ctrl+C）
	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-listenErr:
		server.Log.Errorf("listen: %v", err)
		exitCode = 1
		stop()
	}
	server.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		server.Log.Warnf("http shutdown: %v", err)
	}
	if err := srv.Close(); err != nil {
		server.Log.Warnf("closing connections: %v", err)
	}
	<-tickDone
	if exitCode != 0 {
		server.SyncLogger()
		os.Exit(exitCode)
	}
}
