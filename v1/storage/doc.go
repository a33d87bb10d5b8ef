// Package storage opens the shared backends used by the lease, queue and
// activity stores: a SQLite file with the embedded turn schema, and helpers
// that bound Redis calls and normalize their errors.
package storage
