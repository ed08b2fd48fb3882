package archive

import "errors"

// Sentinel errors returned by the archive subsystem. Wrap one of these with
// fmt.Errorf("...: %w", ErrX) so callers can classify failures with
// errors.Is without depending on string matching.
var (
	// ErrConfig indicates an archive configuration value failed validation.
	ErrConfig = errors.New("archive: invalid configuration")

	// ErrLayout indicates a segment path could not be computed, for example
	// an invalid timestamp or a custom template missing a required token.
	ErrLayout = errors.New("archive: layout error")

	// ErrEncode indicates the MRT encoder rejected an input record.
	ErrEncode = errors.New("archive: encode error")

	// ErrIO wraps a filesystem failure (create, rename, stat, fsync).
	ErrIO = errors.New("archive: io error")

	// ErrCompression indicates the configured compression codec could not
	// be opened or could not finish cleanly.
	ErrCompression = errors.New("archive: compression error")

	// ErrHash indicates a manifest hash could not be computed or did not
	// match the segment bytes on re-verification.
	ErrHash = errors.New("archive: hash error")

	// ErrQueue wraps a replication queue storage failure.
	ErrQueue = errors.New("archive: queue error")

	// ErrDestination indicates a replication destination is misconfigured
	// or rejected a write.
	ErrDestination = errors.New("archive: destination error")

	// ErrCancelled indicates an operation was aborted via context.
	ErrCancelled = errors.New("archive: operation cancelled")

	// ErrDisabled indicates the archive subsystem is not enabled.
	ErrDisabled = errors.New("archive: subsystem disabled")
)
