// Package prometheus renders goIdentity engine metrics in the Prometheus
// text exposition format without pulling in a client library.
//
// Mount New(engine).Handler() on the scrape path. Counters are named
// identity_*_total and the latency histograms identity_*_latency_seconds.
package prometheus
