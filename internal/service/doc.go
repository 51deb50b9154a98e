// Package service contains the business logic layer for EvalForge.
//
// Services coordinate between handlers and repositories, implementing
// domain rules and orchestrating operations across multiple repositories.
//
// Services depend on repository interfaces defined in this package,
// following the dependency inversion principle. The two domain areas
// are datasets (versioned example store and its mutation batches) and
// experiments (snapshots, run ledger, completion reports).
//
// Every mutation batch runs inside one transaction acquired through the
// Transactor interface: exactly one new DatasetVersion plus its
// revisions commit together or not at all. All validation happens
// before or at the start of that scope, so failures never leave
// partial writes.
//
// # Thread Safety
//
// All services are designed to be safe for concurrent use from
// multiple goroutines.
package service
