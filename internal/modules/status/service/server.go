package service

import (
	_ "embed"
	"net/http"

	"threshold_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed dashboard.html
var dashboardHTML []byte

// SnapshotSource — движок; Snapshot не блокируется на сети.
type SnapshotSource interface {
	Snapshot() models.Snapshot
}

// NewMux: дашборд, /api/status, пробы здоровья и /metrics.
// Пробы и метрики доступны и без дашборда (web=false), см. module.go.
func NewMux(src SnapshotSource, health *Health, withDashboard bool) *http.ServeMux {
	mux := http.NewServeMux()

	if withDashboard {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(dashboardHTML)
		})
		mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, src.Snapshot())
		})
	}

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: цикл тиков запущен
		if !health.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		var lastTick int64
		if t := health.LastTick(); !t.IsZero() {
			lastTick = t.Unix()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ready":        health.Ready(),
			"wsConnected":  health.WSConnected(),
			"uptimeSec":    int64(health.Uptime().Seconds()),
			"lastTickUnix": lastTick,
		})
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	bs, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(bs)
}
