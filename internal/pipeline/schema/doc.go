// Package schema validates extracted document data against built-in JSON
// Schemas (invoice, report, form) with a shape-based type heuristic.
package schema
