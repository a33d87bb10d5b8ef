// Package errors holds the error classes shared by every turn component.
// Package-level sentinels wrap one of these classes so callers can branch with
// errors.Is without knowing which store or collaborator produced the error.
package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
)

var (
	// ErrContention means another participant holds the turn or waits ahead.
	ErrContention = errors.New("contention")
	// ErrValidation means the request had a bad shape or arrived out of order.
	ErrValidation = errors.New("validation")
	// ErrEngine means a recognition or render collaborator failed.
	ErrEngine = errors.New("engine")
	// ErrStoreUnavailable means lease or queue storage could not be read.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEvicted means the session was ended by idle timeout or lease loss.
	ErrEvicted = errors.New("evicted")
)
