package chainmanager

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/datarequest"
	"github.com/witnet/witnet-go/mempool"
)

// managerMetrics exposes the node-stats gauges the chain state machine
// maintains. The collectors are created unregistered and only join a
// registry through Register, so tests can construct managers freely.
type managerMetrics struct {
	epoch        prometheus.Gauge
	state        prometheus.Gauge
	mempoolVT    prometheus.Gauge
	mempoolDR    prometheus.Gauge
	dataRequests prometheus.Gauge

	blocksConsolidated   prometheus.Counter
	dataRequestsFinished prometheus.Counter
	forksRolledBack      prometheus.Counter
}

func newManagerMetrics() *managerMetrics {
	m := &managerMetrics{
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "witnet", Subsystem: "chain", Name: "current_epoch",
			Help: "Current epoch as seen by the chain manager.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "witnet", Subsystem: "chain", Name: "sm_state",
			Help: "Chain state machine state (0 WaitingConsensus .. 3 Synced).",
		}),
		mempoolVT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "witnet", Subsystem: "mempool", Name: "vt_transactions",
			Help: "Pending value-transfer transactions.",
		}),
		mempoolDR: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "witnet", Subsystem: "mempool", Name: "dr_transactions",
			Help: "Pending data-request transactions.",
		}),
		dataRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "witnet", Subsystem: "chain", Name: "data_requests_tracked",
			Help: "Data requests currently tracked by the DR pool.",
		}),
		blocksConsolidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "witnet", Subsystem: "chain", Name: "blocks_consolidated_total",
			Help: "Blocks consolidated into the chain.",
		}),
		dataRequestsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "witnet", Subsystem: "chain", Name: "data_requests_finished_total",
			Help: "Data requests moved to Finished.",
		}),
		forksRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "witnet", Subsystem: "chain", Name: "fork_rollbacks_total",
			Help: "Fork rollbacks performed.",
		}),
	}
	return m
}

// Register attaches the manager's collectors to reg. Called once by the
// node wiring; tests that never call it simply keep the metrics local.
func (m *Manager) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.metrics.epoch, m.metrics.state,
		m.metrics.mempoolVT, m.metrics.mempoolDR, m.metrics.dataRequests,
		m.metrics.blocksConsolidated, m.metrics.dataRequestsFinished,
		m.metrics.forksRolledBack,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *managerMetrics) setEpoch(e chain.Epoch)  { m.epoch.Set(float64(e)) }
func (m *managerMetrics) setState(s SMState)      { m.state.Set(float64(s)) }
func (m *managerMetrics) blockConsolidated()      { m.blocksConsolidated.Inc() }
func (m *managerMetrics) dataRequestFinished()    { m.dataRequestsFinished.Inc() }
func (m *managerMetrics) forkRollback()           { m.forksRolledBack.Inc() }

func (m *managerMetrics) observePools(pool *mempool.Pool, drPool *datarequest.Pool) {
	m.mempoolVT.Set(float64(pool.VTLen()))
	m.mempoolDR.Set(float64(pool.DRLen()))
	m.dataRequests.Set(float64(drPool.Len()))
}
