package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raterudder/indrav2h/pkg/coordinator"
	"github.com/raterudder/indrav2h/pkg/entity"
	"github.com/raterudder/indrav2h/pkg/types"
)

const namespace = "indra_v2h"

// Source lists the coordinators to export.
type Source interface {
	Coordinators() []*coordinator.Coordinator
}

// Metrics owns the prometheus registry of the service.
type Metrics struct {
	Registry *prometheus.Registry

	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
}

// New returns metrics registered with a new registry that also carries the go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		Registry: reg,
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Poll cycles by result (ok|error).",
		}, []string{"entry", "result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time taken by a poll cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entry"}),
	}
	reg.MustRegister(m.refreshes, m.refreshDuration)
	return m
}

// ObserveRefresh records a completed poll cycle.
func (m *Metrics) ObserveRefresh(entryID string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshes.WithLabelValues(entryID, result).Inc()
	m.refreshDuration.WithLabelValues(entryID).Observe(took.Seconds())
}

// Watch exports the snapshots of every coordinator in src at scrape time.
func (m *Metrics) Watch(src Source) {
	m.Registry.MustRegister(newCollector(src))
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

type collector struct {
	src Source

	up         *prometheus.Desc
	lastUpdate *prometheus.Desc
	power      *prometheus.Desc
	energy     *prometheus.Desc
	mode       *prometheus.Desc
}

func newCollector(src Source) *collector {
	return &collector{
		src: src,
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"Whether the last poll of the entry succeeded.",
			[]string{"entry"}, nil,
		),
		lastUpdate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_update_timestamp_seconds"),
			"When the published snapshot was fetched.",
			[]string{"entry"}, nil,
		),
		power: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "power_kilowatts"),
			"Power delivered to the EV.",
			[]string{"entry"}, nil,
		),
		energy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "energy_kilowatt_hours"),
			"Energy counter reported by the charger.",
			[]string{"entry"}, nil,
		),
		mode: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "mode"),
			"Current charger mode, 1 for the active mode.",
			[]string{"entry", "mode"}, nil,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.lastUpdate
	ch <- c.power
	ch <- c.energy
	ch <- c.mode
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, coord := range c.src.Coordinators() {
		id := coord.EntryID()
		up := 0.0
		if coord.LastUpdateSuccess() {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up, id)

		snap := coord.Data()
		if snap == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.lastUpdate, prometheus.GaugeValue, float64(snap.FetchedAt.UnixNano())/1e9, id)
		if v, ok := entity.Power(snap.Statistics); ok {
			ch <- prometheus.MustNewConstMetric(c.power, prometheus.GaugeValue, v, id)
		}
		if v, ok := entity.Energy(snap.Statistics); ok {
			ch <- prometheus.MustNewConstMetric(c.energy, prometheus.GaugeValue, v, id)
		}
		current := entity.CurrentMode(snap.Statistics)
		for _, mode := range types.Modes {
			v := 0.0
			if mode == current {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.mode, prometheus.GaugeValue, v, id, mode.String())
		}
	}
}
