package otel

import (
	"context"
	"errors"
	"fmt"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	EventsDropped() uint64
}

type pollingSource interface {
	Polling() (string, bool)
}

type observedCounter struct {
	id         goIdentity.MetricID
	instrument metric.Int64ObservableCounter
}

// observedHistogram carries one bucket gauge whose points are split by an
// "le" attribute, so every bound shares the histogram's name and unit.
type observedHistogram struct {
	id     goIdentity.MetricID
	bucket metric.Int64ObservableGauge
	count  metric.Int64ObservableGauge
	bounds [8]attribute.Set
}

// OTelExporter observes engine metrics through asynchronous instruments.
type OTelExporter struct {
	source        metricsSource
	registration  metric.Registration
	counters      []observedCounter
	histograms    []observedHistogram
	eventsDropped metric.Int64ObservableCounter
	polling       metric.Int64ObservableGauge
}

func NewOTelExporter(meter metric.Meter, engine *goIdentity.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers the instruments for source. Sources
// that also report polling state get a goidentity_polling_active gauge.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:     source,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*2+2)

	for _, def := range internaldefs.CounterDefs {
		ins, err := newCounter(meter, def)
		if err != nil {
			return nil, err
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		bucket, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."),
			metric.WithUnit(def.Unit),
		)
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total sample count."),
			metric.WithUnit("{sample}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
		}
		for i, bound := range def.Bounds {
			h.bounds[i] = attribute.NewSet(attribute.String("le", internaldefs.Label(bound)))
		}
		h.bucket, h.count = bucket, count
		observables = append(observables, bucket, count)
		exporter.histograms = append(exporter.histograms, h)
	}

	eventsDropped, err := newCounter(meter, internaldefs.EventsDropped)
	if err != nil {
		return nil, err
	}
	exporter.eventsDropped = eventsDropped
	observables = append(observables, eventsDropped)

	polls, reportsPolling := source.(pollingSource)
	if reportsPolling {
		def := internaldefs.PollingActive
		gauge, err := meter.Int64ObservableGauge(def.Name, metric.WithDescription(def.Help), metric.WithUnit(def.Unit))
		if err != nil {
			return nil, fmt.Errorf("create polling gauge: %w", err)
		}
		exporter.polling = gauge
		observables = append(observables, gauge)
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		for _, h := range exporter.histograms {
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
			for i := range cumulative {
				observer.ObserveInt64(h.bucket, int64(cumulative[i]), metric.WithAttributeSet(h.bounds[i]))
			}
			observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		}
		observer.ObserveInt64(exporter.eventsDropped, int64(exporter.source.EventsDropped()))
		if reportsPolling {
			var active int64
			if _, running := polls.Polling(); running {
				active = 1
			}
			observer.ObserveInt64(exporter.polling, active)
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func newCounter(meter metric.Meter, def internaldefs.CounterDef) (metric.Int64ObservableCounter, error) {
	ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help), metric.WithUnit(def.Unit))
	if err != nil {
		return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
	}
	return ins, nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
