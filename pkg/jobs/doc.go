// Package jobs holds background jobs. CycleAudit checks every stored formula
// set for dependency cycles and publishes the counts as gauges; Scheduler runs
// it with robfig/cron.
package jobs
