// Package metric provides Prometheus metrics for KiteSync nodes.
//
// Metrics live on an explicit registry per node so multiple nodes can
// share one process. The package exposes two renderings: the standard
// Prometheus text exposition via Handler, and an OTLP-style JSON
// document via EncodeOTelJSON for collectors that ingest OTel JSON.
package metric
