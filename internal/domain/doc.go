// Package domain contains the core business entities and types for EvalForge.
//
// This package defines:
//   - Entity types (Dataset, DatasetExample, ExampleRevision, Experiment, etc.)
//   - Value objects and enums
//   - Input/output types for service operations
//   - Read models returned by the completion calculator
//
// # Design Philosophy
//
// Domain types are persistence-agnostic and represent the core
// business concepts independent of how they are stored or transmitted.
//
// Example content never lives on the example row itself: every content
// state is an immutable ExampleRevision tied to a DatasetVersion, and
// the "current" content of an example is always derived from the
// revision history.
//
// # Naming Conventions
//
// Types ending in "Input" are used for create/update operations.
// Types ending in "Patch" carry partial updates with explicit field
// presence (see Optional).
package domain
