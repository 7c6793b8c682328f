// Package metrics exposes Ferrous's own Prometheus metrics, mirroring
// the sections INFO reports (clients, command throughput, keyspace
// hit/miss ratio, replication offset) under the "ferrous" namespace,
// the same Namespace/Help convention the ecosystem's own Redis
// exporter uses for the metrics it scrapes from a real server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "ferrous"

// Metrics is the full set of counters/gauges the admin HTTP surface
// registers and serves via promhttp.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectedClients prometheus.Gauge
	CommandsTotal    *prometheus.CounterVec
	KeyspaceHits     prometheus.Counter
	KeyspaceMisses   prometheus.Counter
	ExpiredKeysTotal prometheus.Counter
	ReplicaCount     prometheus.Gauge
	MasterReplOffset prometheus.Gauge
	DBKeys           *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of client connections currently open.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_processed_total",
			Help:      "Commands processed, labeled by command name.",
		}, []string{"command"}),
		KeyspaceHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyspace_hits_total",
			Help:      "Successful key lookups.",
		}),
		KeyspaceMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyspace_misses_total",
			Help:      "Key lookups that found nothing.",
		}),
		ExpiredKeysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_keys_total",
			Help:      "Keys removed by lazy or active expiry.",
		}),
		ReplicaCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_slaves",
			Help:      "Number of replicas currently attached.",
		}),
		MasterReplOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "master_repl_offset",
			Help:      "Current replication stream offset.",
		}),
		DBKeys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_keys",
			Help:      "Live key count, labeled by database index.",
		}, []string{"db"}),
	}
	reg.MustRegister(
		m.ConnectedClients, m.CommandsTotal, m.KeyspaceHits, m.KeyspaceMisses,
		m.ExpiredKeysTotal, m.ReplicaCount, m.MasterReplOffset, m.DBKeys,
	)
	return m
}
