// Package repository contains the storage implementations for EvalForge.
//
// The postgres subpackage is the system of record: datasets, examples,
// the append-only revision log, versions, experiments, runs and
// annotations. Repositories hand-write SQL against a pgx pool and
// translate storage-level absence (pgx.ErrNoRows) into the NotFound
// error category; they never perform domain validation, which belongs
// to the service layer.
package repository
