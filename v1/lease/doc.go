// Package lease implements the exclusive, time-bounded turn lease with
// in-memory, Redis, SQLite and Firestore backends. Every backend performs the
// expiry check and the takeover as one indivisible step, so concurrent callers
// racing for a lapsed lease resolve to exactly one winner.
package lease
