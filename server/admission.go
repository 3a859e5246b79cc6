package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RejectReason 准入拒绝原因
type RejectReason int

const (
	Admitted RejectReason = iota
	RejectTotalLimit
	RejectOriginLimit
	RejectNoOrigin
)

func (r RejectReason) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case RejectTotalLimit:
		return "total_limit"
	case RejectOriginLimit:
		return "origin_limit"
	case RejectNoOrigin:
		return "no_origin"
	default:
		return "unknown"
	}
}

// 进程内唯一、单调递增，进程存活期间不复用
var playerIDs atomic.Uint32

func nextPlayerID() uint32 { return playerIDs.Add(1) - 1 }

// Admission 全局与单来源并发连接上限；在握手之前同步判定
type Admission struct {
	mu          sync.Mutex
	totalLimit  int
	originLimit int
	live        int
	perOrigin   map[string]int

	metrics *Metrics
	// 连接风暴时限制拒绝日志的频率，计数器不受影响
	warn *rate.Limiter
}

func NewAdmission(totalLimit, originLimit int, m *Metrics) *Admission {
	return &Admission{
		totalLimit:  totalLimit,
		originLimit: originLimit,
		perOrigin:   make(map[string]int),
		metrics:     m,
		warn:        rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Admit 通过时占用名额并分配新 id；拒绝时计数 +1
func (a *Admission) Admit(origin string) (uint32, RejectReason) {
	reason := a.check(origin)
	if reason != Admitted {
		a.metrics.IncRejected(reason)
		if a.warn.Allow() {
			Log.Warnw("connection rejected", "origin", origin, "reason", reason.String())
		}
		return 0, reason
	}
	return nextPlayerID(), Admitted
}

func (a *Admission) check(origin string) RejectReason {
	if origin == "" {
		return RejectNoOrigin
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.live >= a.totalLimit {
		return RejectTotalLimit
	}
	if a.perOrigin[origin] >= a.originLimit {
		return RejectOriginLimit
	}
	a.live++
	a.perOrigin[origin]++
	return Admitted
}

// Release 连接结束时归还名额
func (a *Admission) Release(origin string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.perOrigin[origin] <= 0 {
		return
	}
	a.live--
	if a.perOrigin[origin]--; a.perOrigin[origin] == 0 {
		delete(a.perOrigin, origin)
	}
}

// SetLimits 运行时热更新上限；非正数表示保持原值。已建立的连接不受影响
func (a *Admission) SetLimits(total, origin int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if total > 0 {
		a.totalLimit = total
	}
	if origin > 0 {
		a.originLimit = origin
	}
}

func (a *Admission) Limits() (total, origin int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalLimit, a.originLimit
}

func (a *Admission) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

func (a *Admission) Origins() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.perOrigin)
}

// OriginOf 取对端地址；trustForwarded 时优先取 X-Forwarded-For 的第一跳。
// 无法确定时返回空串
func OriginOf(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return ""
	}
	return host
}
