package metrics

import "github.com/prometheus/client_golang/prometheus"

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for executor metrics.
const (
	ExecutorQueueDepthKey     = "seqlite_executor_queue_depth"
	ExecutorTasksTotalKey     = "seqlite_executor_tasks_total"
	ExecutorTasksSkippedKey   = "seqlite_executor_tasks_skipped_total"
	ExecutorOffloadsTotalKey  = "seqlite_executor_offloads_total"
	ExecutorWorkersStartedKey = "seqlite_executor_workers_started_total"

	Fail = "fail"
	Ok   = "ok"
)

// Collectors for executor metrics.
var (
	ExecutorQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ExecutorQueueDepthKey,
		Help: "Number of tasks currently queued across serializing executors.",
	})
	ExecutorTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ExecutorTasksTotalKey,
		Help: "Cumulative number of tasks executed by serializing executors.",
	}, []string{"status"})
	ExecutorTasksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ExecutorTasksSkippedKey,
		Help: "Cumulative number of queued tasks skipped because their future resolved first.",
	})
	ExecutorOffloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: ExecutorOffloadsTotalKey,
		Help: "Cumulative number of tasks offloaded to pooled executors.",
	}, []string{"status"})
	ExecutorWorkersStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ExecutorWorkersStartedKey,
		Help: "Cumulative number of serializing executor workers spawned.",
	})
)

// ExecutorCollectors lists collectors used by the async package.
func ExecutorCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		ExecutorQueueDepth,
		ExecutorTasksTotal,
		ExecutorTasksSkipped,
		ExecutorOffloadsTotal,
		ExecutorWorkersStarted,
	}
}

// Keys for connection manager metrics.
const (
	ConnectionsOpenedTotalKey = "seqlite_connections_opened_total"
	ConnectionsClosedTotalKey = "seqlite_connections_closed_total"
	StatementsTotalKey        = "seqlite_statements_total"
	StatementsCachedKey       = "seqlite_statements_cached"
	TxTotalKey                = "seqlite_tx_total"
	RowsFetchedTotalKey       = "seqlite_rows_fetched_total"
)

// Collectors for connection manager metrics.
var (
	ConnectionsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ConnectionsOpenedTotalKey,
		Help: "Cumulative number of native database connections opened.",
	})
	ConnectionsClosedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: ConnectionsClosedTotalKey,
		Help: "Cumulative number of native database connections closed.",
	})
	StatementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: StatementsTotalKey,
		Help: "Cumulative number of statements executed.",
	}, []string{"operation", "status"})
	StatementsCached = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: StatementsCachedKey,
		Help: "Number of prepared statements currently cached.",
	})
	TxTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: TxTotalKey,
		Help: "Cumulative number of transactions finished.",
	}, []string{"operation"})
	RowsFetchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: RowsFetchedTotalKey,
		Help: "Cumulative number of rows fetched through cursors.",
	})
)

// SQLiteCollectors lists collectors used by the sqlite package.
func SQLiteCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		ConnectionsOpenedTotal,
		ConnectionsClosedTotal,
		StatementsTotal,
		StatementsCached,
		TxTotal,
		RowsFetchedTotal,
	}
}

// Keys for table metrics.
const (
	TableRecordsTotalKey         = "seqlite_table_records_total"
	TableDeferredDroppedTotalKey = "seqlite_table_deferred_dropped_total"
)

// Collectors for table metrics.
var (
	TableRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: TableRecordsTotalKey,
		Help: "Cumulative number of records written through table operations.",
	}, []string{"operation"})
	TableDeferredDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: TableDeferredDroppedTotalKey,
		Help: "Cumulative number of deferred table writes whose failure was logged and dropped.",
	})
)

// TableCollectors lists collectors used by the table package.
func TableCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		TableRecordsTotal,
		TableDeferredDroppedTotal,
	}
}
