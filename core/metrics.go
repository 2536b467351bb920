package core

// HealthLogger exposes node health as Prometheus gauges and a JSON
// `/status` snapshot, and writes structured JSON event logs. It is a
// read-only observability surface, entirely separate from the TCP gossip
// mesh.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// StatusSnapshot is the JSON body served at /status.
type StatusSnapshot struct {
	Height        int64   `json:"height"`
	SyncState     string  `json:"syncState"`
	PendingTx     int     `json:"pendingTx"`
	PeerCount     int     `json:"peerCount"`
	Balance       int64   `json:"balance"`
	ConsensusKind string  `json:"consensusKind"`
	Difficulty    float64 `json:"difficulty"`
	MemAllocBytes uint64  `json:"memAllocBytes"`
	Goroutines    int     `json:"goroutines"`
	Timestamp     int64   `json:"timestamp"`
}

// HealthLogger monitors one Node and exposes its health over HTTP.
type HealthLogger struct {
	node *Node

	log  *logrus.Logger
	file *os.File
	mu   sync.Mutex

	registry        *prometheus.Registry
	heightGauge     prometheus.Gauge
	pendingTxGauge  prometheus.Gauge
	peerCountGauge  prometheus.Gauge
	balanceGauge    prometheus.Gauge
	memAllocGauge   prometheus.Gauge
	goroutinesGauge prometheus.Gauge
	minedCounter    prometheus.Counter
	errorCounter    prometheus.Counter
}

// NewHealthLogger configures a HealthLogger writing JSON event logs to path.
func NewHealthLogger(n *Node, path string) (*HealthLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	h := &HealthLogger{node: n, log: lg, file: f, registry: reg}

	h.heightGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "coinmesh_block_height", Help: "Current ledger tip height"})
	h.pendingTxGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "coinmesh_pending_transactions", Help: "Mempool size"})
	h.peerCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "coinmesh_peer_count", Help: "Connected peer count"})
	h.balanceGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "coinmesh_wallet_balance", Help: "Local wallet balance cache"})
	h.memAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "coinmesh_mem_alloc_bytes", Help: "Current memory allocation in bytes"})
	h.goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "coinmesh_goroutines", Help: "Number of running goroutines"})
	h.minedCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "coinmesh_blocks_mined_total", Help: "Blocks mined locally"})
	h.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "coinmesh_log_errors_total", Help: "Error events logged"})

	reg.MustRegister(
		h.heightGauge, h.pendingTxGauge, h.peerCountGauge, h.balanceGauge,
		h.memAllocGauge, h.goroutinesGauge, h.minedCounter, h.errorCounter,
	)

	n.OnBlockMined(h.RecordBlockMined)

	return h, nil
}

// Close releases the underlying log file.
func (h *HealthLogger) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

// LogEvent records an arbitrary message at the given level.
func (h *HealthLogger) LogEvent(level logrus.Level, msg string) {
	h.mu.Lock()
	if level >= logrus.ErrorLevel {
		h.errorCounter.Inc()
	}
	h.log.Log(level, msg)
	h.mu.Unlock()
}

// RecordBlockMined increments the mined-blocks counter; called by the
// node's mining loop on a Found outcome.
func (h *HealthLogger) RecordBlockMined() {
	h.minedCounter.Inc()
}

// Snapshot gathers the current status from the node and runtime.
func (h *HealthLogger) Snapshot() StatusSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := h.node.Status()
	return StatusSnapshot{
		Height:        h.node.Ledger().Height(),
		SyncState:     h.node.SyncState().String(),
		PendingTx:     h.node.Mempool().Len(),
		PeerCount:     h.node.Transport().PeerCount(),
		Balance:       h.node.Wallet().Balance,
		ConsensusKind: st.Kind.String(),
		Difficulty:    st.Difficulty,
		MemAllocBytes: mem.Alloc,
		Goroutines:    runtime.NumGoroutine(),
		Timestamp:     time.Now().Unix(),
	}
}

// RecordMetrics captures the current snapshot and updates Prometheus gauges.
func (h *HealthLogger) RecordMetrics() {
	s := h.Snapshot()
	h.heightGauge.Set(float64(s.Height))
	h.pendingTxGauge.Set(float64(s.PendingTx))
	h.peerCountGauge.Set(float64(s.PeerCount))
	h.balanceGauge.Set(float64(s.Balance))
	h.memAllocGauge.Set(float64(s.MemAllocBytes))
	h.goroutinesGauge.Set(float64(s.Goroutines))
}

// RunMetricsCollector periodically records metrics until ctx is canceled.
func (h *HealthLogger) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.RecordMetrics()
		case <-ctx.Done():
			return
		}
	}
}

// Router builds the chi mux serving /metrics (Prometheus text format) and
// /status (JSON snapshot).
func (h *HealthLogger) Router() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.Snapshot())
	})
	return r
}

// StartServer exposes Router on addr in the background.
func (h *HealthLogger) StartServer(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: h.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.LogEvent(logrus.ErrorLevel, err.Error())
		}
	}()
	return srv
}

// ShutdownServer gracefully stops the health HTTP server.
func (h *HealthLogger) ShutdownServer(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
