// ============================================================================
// fiberjobs Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集排程器運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 任務計數器 (Counter)：
//      - fiberjobs_jobs_started_total: 開始執行的任務總數
//      - fiberjobs_jobs_finished_total: 執行完成的任務總數（按 worker 分類）
//
//   2. 性能指標 (Histogram)：
//      - fiberjobs_job_duration_seconds: 任務本體執行時間（含 Wait 停駐時間）
//      - fiberjobs_fiber_wait_seconds: fiber 在 Wait 中停駐的時間
//
//   3. 狀態指標 (Gauge)：
//      - fiberjobs_fibers_free / fiberjobs_fibers_parked: fiber 池狀態
//      - fiberjobs_counters_live: 存活中的完成計數器
//      - fiberjobs_jobs_queued: 佇列中尚未開始的任務
//
// 使用場景:
//   - fibers_free 接近 0 → fiber 池即將耗盡（致命錯誤）
//   - counters_live 持續增長 → handle 未被等待完成
//   - fiber_wait_seconds 高分位上升 → 子任務過長或 worker 不足
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/fiberjobs/pkg/jobsystem"
	"github.com/ChuLiYu/fiberjobs/pkg/types"
)

// Collector Prometheus 指標收集器，同時實作 jobsystem.Observer
type Collector struct {
	// 任務相關指標
	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec

	// 效能指標
	jobDuration prometheus.Histogram
	fiberWait   prometheus.Histogram

	// 狀態指標
	fibersFree   prometheus.Gauge
	fibersParked prometheus.Gauge
	countersLive prometheus.Gauge
	jobsQueued   prometheus.Gauge
}

var _ jobsystem.Observer = (*Collector)(nil)

// NewCollector 創建指標收集器並註冊到 reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fiberjobs_jobs_started_total",
			Help: "Total number of job bodies started",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fiberjobs_jobs_finished_total",
			Help: "Total number of job bodies finished, by worker",
		}, []string{"worker"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiberjobs_job_duration_seconds",
			Help:    "Job body duration in seconds, including time parked in Wait",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		fiberWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiberjobs_fiber_wait_seconds",
			Help:    "Time a fiber spent parked in Wait",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		fibersFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fiberjobs_fibers_free",
			Help: "Fibers on the free list",
		}),
		fibersParked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fiberjobs_fibers_parked",
			Help: "Fibers parked in Wait",
		}),
		countersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fiberjobs_counters_live",
			Help: "Allocated completion counters",
		}),
		jobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fiberjobs_jobs_queued",
			Help: "Jobs queued and not yet started",
		}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.jobsStarted,
		c.jobsFinished,
		c.jobDuration,
		c.fiberWait,
		c.fibersFree,
		c.fibersParked,
		c.countersLive,
		c.jobsQueued,
	)

	return c
}

// JobStarted 記錄任務開始
func (c *Collector) JobStarted(types.WorkerID) {
	c.jobsStarted.Inc()
}

// JobFinished 記錄任務完成與執行時間
func (c *Collector) JobFinished(worker types.WorkerID, elapsed time.Duration) {
	c.jobsFinished.WithLabelValues(strconv.Itoa(int(worker))).Inc()
	c.jobDuration.Observe(elapsed.Seconds())
}

// FiberWaited 記錄 fiber 停駐時間
func (c *Collector) FiberWaited(elapsed time.Duration) {
	c.fiberWait.Observe(elapsed.Seconds())
}

// UpdateSchedulerStats 由排程器快照更新狀態指標
func (c *Collector) UpdateSchedulerStats(st jobsystem.Stats) {
	c.fibersFree.Set(float64(st.FreeFibers))
	c.fibersParked.Set(float64(st.ParkedFibers))
	c.countersLive.Set(float64(st.LiveCounters))
	c.jobsQueued.Set(float64(st.QueuedJobs))
}

// Handler 返回 gatherer 的 /metrics HTTP handler
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器
//
// 參數：
//   - port: HTTP 伺服器端口
//   - g: 指標來源
//
// 返回值：
//   - *http.Server: 已啟動的伺服器，由呼叫方負責 Close
//   - <-chan error: ListenAndServe 結束時的錯誤
func StartServer(port int, g prometheus.Gatherer) (*http.Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return srv, errCh
}
