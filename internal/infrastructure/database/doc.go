// Package database provides SQLite connection management and schema
// migrations for Fieldline Core.
//
// The database is the authoritative state store: device readings are
// applied as single-statement UPDATEs scoped to the device primary
// key, so concurrent producers (ingestion workers, command requests)
// can never interleave partial field writes. SQLite serialises the
// writes; the last complete update wins.
//
// Migrations are embedded into the binary via the migrations package
// and applied on startup, each in its own transaction.
package database
