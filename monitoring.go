package megadex

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes an Env's transaction counters and size to Prometheus.
type Collector struct {
	env *Env

	size           *prometheus.Desc
	readers        *prometheus.Desc
	writers        *prometheus.Desc
	pendingWriters *prometheus.Desc
	reads          *prometheus.Desc
	writes         *prometheus.Desc
	commits        *prometheus.Desc
	aborts         *prometheus.Desc
}

// NewCollector returns a collector for env. constLabels are attached to
// every metric, which is handy when several environments are registered.
func NewCollector(env *Env, constLabels prometheus.Labels) *Collector {
	return &Collector{
		env: env,

		size: prometheus.NewDesc(
			"megadex_size_bytes",
			"Size of the storage as of the last commit",
			nil, constLabels,
		),
		readers: prometheus.NewDesc(
			"megadex_open_readers",
			"Number of open read transactions",
			nil, constLabels,
		),
		writers: prometheus.NewDesc(
			"megadex_open_writers",
			"Number of open write transactions",
			nil, constLabels,
		),
		pendingWriters: prometheus.NewDesc(
			"megadex_pending_writers",
			"Number of write transactions waiting for the writer lock",
			nil, constLabels,
		),
		reads: prometheus.NewDesc(
			"megadex_read_transactions_total",
			"Total number of read transactions started",
			nil, constLabels,
		),
		writes: prometheus.NewDesc(
			"megadex_write_transactions_total",
			"Total number of write transactions started",
			nil, constLabels,
		),
		commits: prometheus.NewDesc(
			"megadex_commits_total",
			"Total number of committed write transactions",
			nil, constLabels,
		),
		aborts: prometheus.NewDesc(
			"megadex_aborts_total",
			"Total number of rolled back write transactions",
			nil, constLabels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.readers
	ch <- c.writers
	ch <- c.pendingWriters
	ch <- c.reads
	ch <- c.writes
	ch <- c.commits
	ch <- c.aborts
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	env := c.env
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(env.Size()))
	ch <- prometheus.MustNewConstMetric(c.readers, prometheus.GaugeValue, float64(env.ReaderCount.Load()))
	ch <- prometheus.MustNewConstMetric(c.writers, prometheus.GaugeValue, float64(env.WriterCount.Load()))
	ch <- prometheus.MustNewConstMetric(c.pendingWriters, prometheus.GaugeValue, float64(env.PendingWriterCount.Load()))
	ch <- prometheus.MustNewConstMetric(c.reads, prometheus.CounterValue, float64(env.ReadCount.Load()))
	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(env.WriteCount.Load()))
	ch <- prometheus.MustNewConstMetric(c.commits, prometheus.CounterValue, float64(env.CommitCount.Load()))
	ch <- prometheus.MustNewConstMetric(c.aborts, prometheus.CounterValue, float64(env.AbortCount.Load()))
}
