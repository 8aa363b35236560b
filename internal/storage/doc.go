// Package storage persists rvbot's two record sets (claims and marks) as
// whole JSON documents.
//
// Backends:
//   - "file": <dir>/<name>.json plus <dir>/<name>.bak.json
//   - "sqlite": documents and documents_backup tables (modernc.org/sqlite)
//
// Both write the primary copy, then the backup copy, and read the backup
// when the primary is missing or corrupt. Decoding upgrades legacy record
// shapes in place (see schema.go).
package storage
