package server

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"koil/protocol"
)

// Metrics 记录服务运行期的关键指标：原子计数器供 /stats 与周期日志，
// 同时镜像到独立的 prometheus 注册表供 /metrics 抓取
type Metrics struct {
	TickCount          int64 // 统计的 Tick 次数
	TotalTickNs        int64 // Tick 累计耗时（纳秒）
	MessagesSent       int64
	BytesSent          int64
	MessagesReceived   int64
	BytesReceived      int64
	PlayersJoined      int64
	PlayersLeft        int64
	PlayersCurrent     int64
	BogusMessages      int64 // 无法识别的入站帧
	ProtocolViolations int64 // 合法帧但出现在不该出现的方向/时机
	Rejected           int64 // 准入拒绝
	SlowPeers          int64 // 发送队列满被关闭的连接

	Registry *prometheus.Registry

	tickSeconds prometheus.Histogram
	sent        *prometheus.CounterVec
	sentBytes   prometheus.Counter
	received    *prometheus.CounterVec
	recvBytes   prometheus.Counter
	rejected    *prometheus.CounterVec
	bogus       prometheus.Counter
	violations  prometheus.Counter
	slowPeers   prometheus.Counter
	players     prometheus.Gauge
}

// NewMetrics 每个服务实例一套独立注册表，测试之间互不干扰
func NewMetrics() *Metrics {
	const ns = "koil"
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent inside one simulate+broadcast tick.",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033, 0.066},
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_sent_total",
			Help:      "Frames queued to clients, by kind.",
		}, []string{"kind"}),
		sentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bytes_sent_total",
			Help:      "Bytes queued to clients.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_received_total",
			Help:      "Frames received from clients, by kind.",
		}, []string{"kind"}),
		recvBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bytes_received_total",
			Help:      "Bytes received from clients.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_rejected_total",
			Help:      "Connection attempts refused by admission control.",
		}, []string{"reason"}),
		bogus: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bogus_messages_total",
			Help:      "Inbound frames that matched no known layout.",
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "protocol_violations_total",
			Help:      "Well-formed frames sent in the wrong direction.",
		}),
		slowPeers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "slow_peers_closed_total",
			Help:      "Connections closed because their send queue was full.",
		}),
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "players",
			Help:      "Players currently in the world.",
		}),
	}
	m.Registry.MustRegister(m.tickSeconds, m.sent, m.sentBytes, m.received, m.recvBytes,
		m.rejected, m.bogus, m.violations, m.slowPeers, m.players)
	return m
}

func (m *Metrics) AddTick(d time.Duration) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, d.Nanoseconds())
	m.tickSeconds.Observe(d.Seconds())
}

func (m *Metrics) AddSent(kind protocol.Kind, n int) {
	atomic.AddInt64(&m.MessagesSent, 1)
	atomic.AddInt64(&m.BytesSent, int64(n))
	m.sent.WithLabelValues(kind.String()).Inc()
	m.sentBytes.Add(float64(n))
}

func (m *Metrics) AddReceived(kind protocol.Kind, n int) {
	atomic.AddInt64(&m.MessagesReceived, 1)
	atomic.AddInt64(&m.BytesReceived, int64(n))
	m.received.WithLabelValues(kind.String()).Inc()
	m.recvBytes.Add(float64(n))
}

func (m *Metrics) IncJoined() {
	atomic.AddInt64(&m.PlayersJoined, 1)
	m.players.Set(float64(atomic.AddInt64(&m.PlayersCurrent, 1)))
}

func (m *Metrics) IncLeft() {
	atomic.AddInt64(&m.PlayersLeft, 1)
	m.players.Set(float64(atomic.AddInt64(&m.PlayersCurrent, -1)))
}

func (m *Metrics) IncRejected(reason RejectReason) {
	atomic.AddInt64(&m.Rejected, 1)
	m.rejected.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) IncBogus() {
	atomic.AddInt64(&m.BogusMessages, 1)
	m.bogus.Inc()
}

func (m *Metrics) IncViolation() {
	atomic.AddInt64(&m.ProtocolViolations, 1)
	m.violations.Inc()
}

func (m *Metrics) IncSlowPeer() {
	atomic.AddInt64(&m.SlowPeers, 1)
	m.slowPeers.Inc()
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"avg_tick_ms":         avgMs,
		"messages_sent":       atomic.LoadInt64(&m.MessagesSent),
		"bytes_sent":          atomic.LoadInt64(&m.BytesSent),
		"messages_received":   atomic.LoadInt64(&m.MessagesReceived),
		"bytes_received":      atomic.LoadInt64(&m.BytesReceived),
		"players_joined":      atomic.LoadInt64(&m.PlayersJoined),
		"players_left":        atomic.LoadInt64(&m.PlayersLeft),
		"players_current":     atomic.LoadInt64(&m.PlayersCurrent),
		"bogus_messages":      atomic.LoadInt64(&m.BogusMessages),
		"protocol_violations": atomic.LoadInt64(&m.ProtocolViolations),
		"rejected":            atomic.LoadInt64(&m.Rejected),
		"slow_peers":          atomic.LoadInt64(&m.SlowPeers),
	}
}
