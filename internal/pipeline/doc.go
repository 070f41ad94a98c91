// Package pipeline runs a scan as an ordered list of steps.
//
// Each step receives the Result accumulated by the steps before it: the
// fetch step records the page, the classify step turns it into evidence,
// and the issue step derives curated issues. Handler adapts a pipeline to
// the job queue so workers can execute scan jobs, and BatchProcessor runs
// pipelines for many targets concurrently from the command line.
package pipeline
