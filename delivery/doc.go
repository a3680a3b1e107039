// Package delivery implements the reliable outbound path to the radio: a
// bounded FIFO queue drained by a single worker, message chunking at word and
// sentence boundaries, and per-chunk acknowledgment reconciliation with
// retries and backoff. One global pacing policy applies across all
// destinations; there is no per-destination parallelism.
package delivery
