package otel

import (
	"context"
	"errors"
	"fmt"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is implemented by *goIdentity.Engine.
type MetricsSource interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	AuditDropped() uint64
	MailDropped() uint64
}

// reading pairs an instrument with the value it reports from one snapshot.
type reading struct {
	instrument metric.Int64Observable
	value      func(snap *goIdentity.MetricsSnapshot, src MetricsSource) uint64
}

// Exporter feeds engine metrics to an OpenTelemetry meter through a single
// observable callback.
type Exporter struct {
	source       MetricsSource
	readings     []reading
	registration metric.Registration
}

// New registers the engine's instruments on meter. Close unregisters them.
func New(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		if err := e.addCounter(meter, def.Name, def.Help, func(s *goIdentity.MetricsSnapshot, _ MetricsSource) uint64 {
			return s.Counters[id]
		}); err != nil {
			return nil, err
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		if err := e.addHistogram(meter, def); err != nil {
			return nil, err
		}
	}
	if err := e.addCounter(meter, "identity_audit_dropped_total", "Audit events lost before reaching the sink.",
		func(_ *goIdentity.MetricsSnapshot, src MetricsSource) uint64 { return src.AuditDropped() }); err != nil {
		return nil, err
	}
	if err := e.addCounter(meter, "identity_mail_queue_dropped_total", "Messages rejected by a full mail queue.",
		func(_ *goIdentity.MetricsSnapshot, src MetricsSource) uint64 { return src.MailDropped() }); err != nil {
		return nil, err
	}

	observables := make([]metric.Observable, len(e.readings))
	for i, r := range e.readings {
		observables[i] = r.instrument
	}
	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) addCounter(meter metric.Meter, name, help string, value func(*goIdentity.MetricsSnapshot, MetricsSource) uint64) error {
	ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		return fmt.Errorf("counter %s: %w", name, err)
	}
	e.readings = append(e.readings, reading{instrument: ins, value: value})
	return nil
}

// addHistogram exposes each cumulative bucket and the sample count as gauges;
// observable instruments cannot carry explicit bucket boundaries.
func (e *Exporter) addHistogram(meter metric.Meter, def internaldefs.HistogramDef) error {
	id := def.ID
	bucket := func(i int) func(*goIdentity.MetricsSnapshot, MetricsSource) uint64 {
		return func(s *goIdentity.MetricsSnapshot, _ MetricsSource) uint64 {
			return internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(s.Histograms[id]))[i]
		}
	}
	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
		if err != nil {
			return fmt.Errorf("gauge %s: %w", name, err)
		}
		e.readings = append(e.readings, reading{instrument: ins, value: bucket(i)})
	}
	name := def.Name + "_count"
	ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Histogram sample count."))
	if err != nil {
		return fmt.Errorf("gauge %s: %w", name, err)
	}
	e.readings = append(e.readings, reading{instrument: ins, value: bucket(len(internaldefs.HistogramBoundSuffix) - 1)})
	return nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, r := range e.readings {
		o.ObserveInt64(r.instrument, int64(r.value(&snap, e.source)))
	}
	return nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
