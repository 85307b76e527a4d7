// Package scheduler triggers named jobs on cron or interval schedules.
//
// It is trigger-only: each firing calls the Fire callback with the schedule
// name and never runs job code itself. Execution, admission and concurrency
// belong to the task queues the callback submits into.
//
// Supported schedule strings:
//   - Cron (5 or 6 fields): "*/5 * * * *", "0 */2 * * * *", "@hourly"
//   - "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2h30m)
//
// Interval schedules get a random startup spread (at most 30s) so jobs added
// together do not fire together.
package scheduler
