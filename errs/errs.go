// Package errs defines the error kinds surfaced to callers of this module,
// wrapped with cockroachdb/errors so that errors.Is/As compose across the
// loader's remap and retry boundaries without a bespoke type switch: errors
// need to survive being wrapped multiple times as they cross buffer ->
// load0 -> caller boundaries.
package errs

import "github.com/cockroachdb/errors"

// Sentinel error kinds. Wrap these with errors.Wrap/Mark; never return them
// bare once they've picked up call-specific detail (node id, cache name,
// request id) so log lines stay useful without losing errors.Is/As.
var (
	// ErrLoaderClosed: submission after Close.
	ErrLoaderClosed = errors.New("loader: closed")
	// ErrNoTopology: no node hosts the target cache at mapping time.
	ErrNoTopology = errors.New("loader: no node hosts cache in current topology")
	// ErrNodeLeft: destination node left before ack; retryable, drives remap.
	ErrNodeLeft = errors.New("loader: destination node left")
	// ErrTooManyRemaps: remap budget exhausted.
	ErrTooManyRemaps = errors.New("loader: too many remaps")
	// ErrUpdaterError: the server-side updater rejected the batch.
	ErrUpdaterError = errors.New("loader: updater error")
	// ErrMarshalError: failed to encode/decode a request, response, or blob.
	ErrMarshalError = errors.New("loader: marshal error")
	// ErrCancelled: loader closed with cancel=true while the batch was in
	// flight.
	ErrCancelled = errors.New("loader: cancelled")
	// ErrResolverFailure: affinity resolution failed after retries.
	ErrResolverFailure = errors.New("affinity: resolution failed")
	// ErrNoCacheNode: no node in the topology currently hosts the cache.
	ErrNoCacheNode = errors.New("affinity: no node hosts cache")
	// ErrLocalModeMismatch: a queried node reports the cache as
	// single-owner/local, so it has no affinity function to hand out.
	ErrLocalModeMismatch = errors.New("affinity: cache mode is local, cannot map remotely")
	// ErrNoRemoteSource: this process has no RemoteSource wired at all, so
	// a cache that isn't hosted locally can't be resolved any other way.
	ErrNoRemoteSource = errors.New("affinity: no remote source configured")

	// ErrRetryable is a marker wrapped alongside any error that load0
	// should treat as remap-worthy rather than terminal. Check with
	// errors.Is(err, ErrRetryable).
	ErrRetryable = errors.New("retryable")
)

// Retryable wraps err so that errors.Is(result, ErrRetryable) is true,
// while preserving errors.Is/As against err itself.
func Retryable(err error) error {
	return errors.Mark(err, ErrRetryable)
}

// IsRetryable reports whether err (or anything it wraps) was marked
// Retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// Wrap annotates err with msg, preserving errors.Is/As against err.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}
