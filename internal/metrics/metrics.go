// Package metrics records the outcome of a run as Prometheus metrics and
// writes them in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gravityyaml/internal/model"
	"gravityyaml/internal/storage"
)

// Namespace prefixes every metric name.
const Namespace = "gravityyaml"

// Metrics holds the gauges of a single run on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Entries     *prometheus.GaugeVec
	RowsChanged *prometheus.GaugeVec
	LastRun     *prometheus.GaugeVec
	LastSuccess *prometheus.GaugeVec
}

// New creates the gauges and registers them.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "entries",
			Help:      "Number of entries in the gravity configuration, by section.",
		}, []string{"section"}),
		RowsChanged: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "rows_changed",
			Help:      "Rows written by the last import, by table and change.",
		}, []string{"table", "change"}),
		LastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last run, by command.",
		}, []string{"command"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run succeeded, by command.",
		}, []string{"command"}),
	}
	m.registry.MustRegister(m.Entries, m.RowsChanged, m.LastRun, m.LastSuccess)
	return m
}

// ObserveModel sets the entry gauges from a loaded or parsed model.
func (m *Metrics) ObserveModel(g *model.Model) {
	if g == nil {
		return
	}
	m.Entries.WithLabelValues(model.SectionGroups).Set(float64(len(g.Groups)))
	m.Entries.WithLabelValues(model.SectionAdlists).Set(float64(len(g.Adlists)))
	m.Entries.WithLabelValues(model.SectionDomains).Set(float64(len(g.Domains)))
	m.Entries.WithLabelValues(model.SectionClients).Set(float64(len(g.Clients)))
	m.Entries.WithLabelValues(model.SectionAdlistGroups).Set(float64(len(g.AdlistGroups)))
	m.Entries.WithLabelValues(model.SectionDomainGroups).Set(float64(len(g.DomainGroups)))
	m.Entries.WithLabelValues(model.SectionClientGroups).Set(float64(len(g.ClientGroups)))
}

// ObserveReport sets the row change gauges. Dry runs are not recorded.
func (m *Metrics) ObserveReport(r *storage.ReconcileReport) {
	if r == nil || r.DryRun {
		return
	}
	for _, t := range r.Tables {
		m.RowsChanged.WithLabelValues(t.Table, "inserted").Set(float64(t.Inserted))
		m.RowsChanged.WithLabelValues(t.Table, "updated").Set(float64(t.Updated))
		m.RowsChanged.WithLabelValues(t.Table, "deleted").Set(float64(t.Deleted))
	}
}

// ObserveRun records when command finished and whether it failed.
func (m *Metrics) ObserveRun(command string, at time.Time, err error) {
	m.LastRun.WithLabelValues(command).Set(float64(at.Unix()))
	ok := 0.0
	if err == nil {
		ok = 1
	}
	m.LastSuccess.WithLabelValues(command).Set(ok)
}

// WriteFile writes the metrics to path atomically for the textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
