// Package metrics 暴露改价引擎的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kaspi_dumping"

var (
	// ScansTotal 竞争对手扫描次数（ok / no_data / error）
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scans_total",
			Help:      "Total number of competitor scans by outcome",
		},
		[]string{"outcome"},
	)

	// DecisionsTotal 定价决策结果
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "decisions_total",
			Help:      "Total number of pricing decisions by action",
		},
		[]string{"action"},
	)

	// PriceWritesTotal 改价写入结果（ok / failed）
	PriceWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "price_writes_total",
			Help:      "Total number of price writes to the cabinet by outcome",
		},
		[]string{"outcome"},
	)

	// CabinetLoginsTotal 后台登录结果
	CabinetLoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cabinet",
			Name:      "logins_total",
			Help:      "Total number of cabinet logins by outcome",
		},
		[]string{"outcome"},
	)

	// ProxyPoolSize 最近一次组建的代理池大小
	ProxyPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "pool_size",
			Help:      "Number of proxies admitted to the latest pool",
		},
	)

	// ProxyBalance 代理商账户余额
	ProxyBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "vendor_balance",
			Help:      "Proxy vendor account balance",
		},
		[]string{"vendor"},
	)

	// ReconcileDuration 一次改价批次耗时
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "batch_duration_seconds",
			Help:      "Duration of reconcile batches in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// JobRunsTotal 定时任务执行结果（ok / failed / locked）
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs by outcome",
		},
		[]string{"job", "outcome"},
	)
)
