package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// HandleAdminStatus 返回配置、在线人数、指标与进程资源占用
// GET /admin/status
func (s *Server) HandleAdminStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	total, origin := s.admission.Limits()
	payload := map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"tick_rate":      s.cfg.Server.TickRate,
		"admission": map[string]any{
			"total_limit":  total,
			"origin_limit": origin,
			"live":         s.admission.Live(),
			"origins":      s.admission.Origins(),
		},
		"metrics": s.metrics.Snapshot(),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			payload["cpu_percent"] = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			payload["rss_mb"] = float64(mem.RSS) / 1024 / 1024
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// HandleAdminAdmission 提供准入上限的读取与热更新
// GET /admin/admission   返回当前上限
// POST /admin/admission  以 JSON 载荷更新部分字段，已建立的连接不受影响
func (s *Server) HandleAdminAdmission(w http.ResponseWriter, r *http.Request) {
	type limits struct {
		TotalLimit  *int `json:"totalLimit,omitempty"`
		OriginLimit *int `json:"originLimit,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		total, origin := s.admission.Limits()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(limits{TotalLimit: &total, OriginLimit: &origin})
		return
	case http.MethodPost:
		var body limits
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		var total, origin int
		if body.TotalLimit != nil {
			total = *body.TotalLimit
		}
		if body.OriginLimit != nil {
			origin = *body.OriginLimit
		}
		if (body.TotalLimit != nil && total <= 0) || (body.OriginLimit != nil && origin <= 0) {
			http.Error(w, "limits must be positive", http.StatusBadRequest)
			return
		}
		s.admission.SetLimits(total, origin)
		total, origin = s.admission.Limits()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "totalLimit": total, "originLimit": origin})
		Log.Infow("admission limits updated", "total", total, "origin", origin)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}
