// Package scheduler runs the background jobs of the server:
//   - order fulfilment polling
//   - market index refresh during US trading hours
//   - the daily portfolio history snapshot
//   - weekly cleanup of closed orders, old snapshots, archived news and caches
//
// Jobs are defined in jobs.go.
package scheduler
