// Package stores keeps the history of setup and teardown runs in SQLite:
// run headers, per-resource decisions, the event timeline and the last
// known controller id of every declared resource. The schema is embedded
// and applied with golang-migrate.
package stores
