package server

import (
	"encoding/json"
	"net/http"
	"time"

	"arenasync/logging"
	"arenasync/transport"
)

// Admin 管理与监控接口
type Admin struct {
	room  *Room
	stats *transport.Stats
	// lossy 为空时不支持模拟丢包/延迟
	lossy *transport.LossyConn
}

// NewAdmin stats、lossy 可以为空
func NewAdmin(room *Room, stats *transport.Stats, lossy *transport.LossyConn) *Admin {
	return &Admin{room: room, stats: stats, lossy: lossy}
}

// Routes 注册管理路由
func (a *Admin) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/config", a.HandleConfig)
	mux.HandleFunc("/metrics", a.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

type adminConfig struct {
	CompactionThreshold *int     `json:"compactionThreshold,omitempty"`
	MaxInputsPerTick    *int     `json:"maxInputsPerTick,omitempty"`
	SimulateDelayMinMs  *int     `json:"simulateDelayMinMs,omitempty"`
	SimulateDelayMaxMs  *int     `json:"simulateDelayMaxMs,omitempty"`
	SimulateDropProb    *float64 `json:"simulateDropProb,omitempty"`
}

// HandleConfig 提供房间配置的读取与更新（热更新）
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		threshold := a.room.repl.Threshold()
		maxInputs := a.room.MaxInputsPerTick()
		cur := adminConfig{CompactionThreshold: &threshold, MaxInputsPerTick: &maxInputs}
		if a.lossy != nil {
			p := a.lossy.Profile()
			minMs, maxMs := int(p.DelayMin/time.Millisecond), int(p.DelayMax/time.Millisecond)
			cur.SimulateDelayMinMs = &minMs
			cur.SimulateDelayMaxMs = &maxMs
			cur.SimulateDropProb = &p.DropProb
		}
		writeJSON(w, http.StatusOK, cur)
	case http.MethodPost:
		var body adminConfig
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		simulate := body.SimulateDelayMinMs != nil || body.SimulateDelayMaxMs != nil || body.SimulateDropProb != nil
		if simulate && a.lossy == nil {
			http.Error(w, "network simulation not enabled", http.StatusConflict)
			return
		}
		if body.CompactionThreshold != nil {
			if *body.CompactionThreshold < 1 {
				http.Error(w, "compactionThreshold must be positive", http.StatusBadRequest)
				return
			}
			a.room.repl.SetThreshold(*body.CompactionThreshold)
		}
		if body.MaxInputsPerTick != nil {
			a.room.SetMaxInputsPerTick(*body.MaxInputsPerTick)
		}
		if simulate {
			p := a.lossy.Profile()
			if body.SimulateDelayMinMs != nil {
				p.DelayMin = time.Duration(*body.SimulateDelayMinMs) * time.Millisecond
			}
			if body.SimulateDelayMaxMs != nil {
				p.DelayMax = time.Duration(*body.SimulateDelayMaxMs) * time.Millisecond
			}
			if body.SimulateDropProb != nil {
				p.DropProb = *body.SimulateDropProb
			}
			a.lossy.SetProfile(p)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		logging.Log.Infow("config updated", "room", a.room.ID, "k", a.room.repl.Threshold(), "max_inputs_per_tick", a.room.MaxInputsPerTick())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出房间、复制与传输层的运行指标
// GET /metrics
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"room":        a.room.ID,
		"tick":        a.room.Tick(),
		"peers":       a.room.PeerCount(),
		"metrics":     a.room.metrics.Snapshot(),
		"replication": a.room.repl.Stats(),
	}
	if a.stats != nil {
		payload["transport"] = a.stats.Snapshot()
	}
	if a.lossy != nil {
		payload["simulated"] = map[string]any{
			"dropped": a.lossy.Dropped(),
			"delayed": a.lossy.Delayed(),
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
