// Package metrics はPrometheusの指標レジストリと /metrics ハンドラーを提供します。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ai_memory"

// Registry はアプリケーションが公開する指標の集合です。
type Registry struct {
	reg *prometheus.Registry

	Promotions    *prometheus.CounterVec
	Forgotten     prometheus.Counter
	JudgeCache    *prometheus.CounterVec
	StagingQueue  prometheus.Gauge
	AlertsFired   *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	JobRuns       *prometheus.CounterVec
}

// NewRegistry は指標を登録した新しいRegistryを生成します。
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Staging entries promoted to or rejected from long-term memory.",
		}, []string{"result"}),
		Forgotten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forgotten_total",
			Help:      "Long-term memories evicted by decay.",
		}),
		JudgeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_cache_total",
			Help:      "Judge cache lookups.",
		}, []string{"result"}),
		StagingQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "staging_queue_length",
			Help:      "Pending staging entries.",
		}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts fired by rule and level.",
		}, []string{"rule", "level"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_notifications_total",
			Help:      "Alert notifications by channel and result.",
		}, []string{"channel", "result"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_job_runs_total",
			Help:      "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Promotions,
		r.Forgotten,
		r.JudgeCache,
		r.StagingQueue,
		r.AlertsFired,
		r.Notifications,
		r.JobRuns,
	)
	return r
}

// Handler は /metrics 用のHTTPハンドラーを返します。
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Result は成功/失敗をラベル値に変換します。
func Result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
