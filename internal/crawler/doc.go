// Package crawler implements the job listing crawl pipeline: category
// discovery, per-category pagination, tolerant record extraction and
// threshold-based batched persistence. Browsers and stores are reached
// through the narrow interfaces in interfaces.go.
package crawler
