// Package cache holds generated documents between generation and download.
// Entries expire on their own so an abandoned session cannot pin memory; the
// in-memory cache also sweeps expired entries in the background.
package cache
