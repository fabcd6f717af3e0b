package prometheus

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	EventsDropped() uint64
}

// pollingSource is implemented by sources that can report the refresh loop.
// *goIdentity.Engine does.
type pollingSource interface {
	Polling() (string, bool)
}

// PrometheusExporter renders goIdentity metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from the given [goIdentity.Engine].
func NewPrometheusExporter(engine *goIdentity.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from a
// custom [MetricsSource].
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.EventsDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])
		writeHistogram(&b, def, nonCumulative)
	}

	writeCounter(&b, internaldefs.EventsDropped.Name, internaldefs.EventsDropped.Help, dropped)

	if ps, ok := p.source.(pollingSource); ok {
		var active uint64
		if _, running := ps.Polling(); running {
			active = 1
		}
		writeGauge(&b, internaldefs.PollingActive.Name, internaldefs.PollingActive.Help, active)
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, name string, value uint64) {
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "counter")
	writeSample(b, name, value)
}

func writeGauge(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "gauge")
	writeSample(b, name, value)
}

// writeHistogram renders raw engine buckets. The engine keeps no running
// total, so _sum charges each sample at its bucket's upper bound and +Inf
// samples at the largest finite bound.
func writeHistogram(b *strings.Builder, def internaldefs.HistogramDef, raw [8]uint64) {
	writeHeader(b, def.Name, def.Help, "histogram")

	cumulative := internaldefs.CumulativeBuckets(raw)
	var sum float64
	lastFinite := 0.0
	for i, bound := range def.Bounds {
		b.WriteString(def.Name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(internaldefs.Label(bound))
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')

		if !math.IsInf(bound, 1) {
			lastFinite = bound
		}
		sum += float64(raw[i]) * lastFinite
	}

	b.WriteString(def.Name)
	b.WriteString("_sum ")
	b.WriteString(strconv.FormatFloat(sum, 'g', -1, 64))
	b.WriteByte('\n')
	writeSample(b, def.Name+"_count", cumulative[len(cumulative)-1])
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
