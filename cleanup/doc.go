// Package cleanup runs filesystem maintenance for a store directory on a
// schedule.
//
// Each task has its own interval and is registered with a cron scheduler;
// a zero interval disables the task. CleanupNow runs every enabled task
// synchronously. A failing task is logged and reported in the aggregate
// statistics without stopping the others.
package cleanup
