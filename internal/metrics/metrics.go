package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_runs_total",
		Help: "Total number of full sync runs",
	}, []string{"result"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_sync_duration_seconds",
		Help:    "Duration of full sync runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	ProductsSyncedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_products_synced_total",
		Help: "Products handled by reconciliation, by outcome",
	}, []string{"outcome"})

	ERPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_requests_total",
		Help: "Requests issued to the ERP API, by action and outcome",
	}, []string{"action", "outcome"})

	WhitelistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_whitelist_size",
		Help: "SKU count of the last whitelist snapshot",
	})
)
