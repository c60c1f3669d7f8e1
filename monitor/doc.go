// Package monitor tracks per-operation latency and error counts, samples
// process resources and evaluates threshold alert rules into a health score.
package monitor
