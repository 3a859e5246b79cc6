package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"koil/config"
	"koil/sim"
)

// Server 把准入、世界和 WebSocket 接入组装在一起
type Server struct {
	cfg       config.Config
	world     *World
	admission *Admission
	metrics   *Metrics
	upgrader  websocket.Upgrader
	started   time.Time

	mu    sync.Mutex
	conns map[*ClientConn]struct{}
}

// NewServer terrain 为空时使用关卡自带场景
func NewServer(cfg config.Config, level *sim.Level, terrain sim.Terrain) *Server {
	m := NewMetrics()
	return &Server{
		cfg:       cfg,
		world:     NewWorld(level, terrain, m),
		admission: NewAdmission(cfg.Admission.TotalLimit, cfg.Admission.OriginLimit, m),
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 不做来源校验，准入按对端地址计数
				return true
			},
		},
		started: time.Now(),
		conns:   make(map[*ClientConn]struct{}),
	}
}

func (s *Server) Admission() *Admission { return s.admission }
func (s *Server) Metrics() *Metrics     { return s.metrics }

// Run 驱动 Tick 循环直到 ctx 取消
func (s *Server) Run(ctx context.Context) {
	statsEvery := time.Duration(s.cfg.Stats.IntervalSeconds) * time.Second
	s.world.Run(ctx, s.cfg.Server.TickRate, statsEvery)
}

// Close 以 going away 关闭所有连接，汇总关闭错误
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*ClientConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.closeWith(websocket.CloseGoingAway, "server shutting down"))
	}
	return err
}

// HandleStats 输出运行指标（JSON）
// GET /stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"live":           s.admission.Live(),
		"metrics":        s.metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// MetricsHandler prometheus 抓取入口
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})
}
