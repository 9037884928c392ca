// Package integrity computes artifact checksums and writes the load
// metadata record, the sole contract read by downstream consumers (DDL
// generation and rerun/idempotency checks).
package integrity

import "fmt"

// ManifestName is the checksum manifest file inside a Bronze partition.
const ManifestName = "_checksums.json"

// MetadataName is the load metadata record inside a Silver load partition.
const MetadataName = "_metadata.json"

// IntegrityError reports a checksum contract violation. It is always
// surfaced, never silently repaired.
type IntegrityError struct {
	Path   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation at %s: %s", e.Path, e.Reason)
}
