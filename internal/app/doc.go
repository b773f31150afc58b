// Package app wires the license server together: configuration, logging,
// metrics, the license manager and its stores, the per-action rate
// limiter, the backup manager with its scheduler, and the HTTP router.
//
// The Application struct is a plain dependency container. Construction
// (NewApplication) does all the wiring; Run starts the HTTP server and
// the backup scheduler and handles graceful shutdown on SIGINT/SIGTERM.
package app
