package prometheus

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// MetricsSource is implemented by *goIdentity.Engine.
type MetricsSource interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	AuditDropped() uint64
	MailDropped() uint64
}

// Exporter renders engine metrics in the Prometheus text exposition format.
// It reads the source on every scrape and keeps no state of its own.
type Exporter struct {
	source MetricsSource
}

func New(source MetricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current metrics. A source that has recorded nothing
// yields an empty 200 response.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var buf bytes.Buffer
		e.WriteTo(&buf)
		w.Header().Set("Content-Type", contentType)
		_, _ = buf.WriteTo(w)
	})
}

// Render is WriteTo into a string.
func (e *Exporter) Render() string {
	var sb strings.Builder
	e.WriteTo(&sb)
	return sb.String()
}

// WriteTo writes every counter family, then every histogram, then the queue
// drop counters. Nothing is written when all values are zero.
func (e *Exporter) WriteTo(w io.Writer) (int64, error) {
	if e == nil || e.source == nil {
		return 0, nil
	}
	snap := e.source.MetricsSnapshot()
	auditDropped := e.source.AuditDropped()
	mailDropped := e.source.MailDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && auditDropped == 0 && mailDropped == 0 {
		return 0, nil
	}

	cw := &countingWriter{w: w}
	for _, def := range internaldefs.CounterDefs {
		counter(cw, def.Name, def.Help, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID]))
		histogram(cw, def.Name, def.Help, buckets)
	}
	counter(cw, "identity_audit_dropped_total", "Audit events lost before reaching the sink.", auditDropped)
	counter(cw, "identity_mail_queue_dropped_total", "Messages rejected by a full mail queue.", mailDropped)
	return cw.n, cw.err
}

func counter(w io.Writer, name, help string, v uint64) {
	header(w, name, help, "counter")
	fmt.Fprintf(w, "%s %d\n", name, v)
}

func histogram(w io.Writer, name, help string, cumulative [8]uint64) {
	header(w, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}
	fmt.Fprintf(w, "%s_count %d\n", name, cumulative[len(cumulative)-1])
	// Snapshots carry bucket counts only.
	fmt.Fprintf(w, "%s_sum 0\n", name)
}

func header(w io.Writer, name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, helpEscaper.Replace(help), name, kind)
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

// countingWriter remembers the first write error and stops writing after it.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
