package ebml

import "fmt"

// RewriteClusterTimecode locates the Timecode child inside a Cluster prefix
// (Cluster element header + Timecode element, verbatim as produced by
// Parser's ClusterBegin callback) and overwrites its payload in place with
// newValue. Used by the broadcast package to give each subscriber a
// Timecode relative to its own join point (spec.md §4.2 "Timestamp
// rewriting").
func RewriteClusterTimecode(prefix []byte, newValue int64) error {
	_, _, clusterIDN, err := readElementID(prefix)
	if err != nil {
		return fmt.Errorf("ebml: cluster prefix: %w", err)
	}
	_, _, _, clusterSizeN, err := readVint(prefix[clusterIDN:])
	if err != nil {
		return fmt.Errorf("ebml: cluster prefix size: %w", err)
	}
	off := clusterIDN + clusterSizeN

	if off >= len(prefix) {
		return fmt.Errorf("ebml: cluster prefix has no timecode child")
	}
	_, tcID, tcIDN, err := readElementID(prefix[off:])
	if err != nil {
		return fmt.Errorf("ebml: timecode id: %w", err)
	}
	if tcID != IDTimecode {
		return fmt.Errorf("ebml: cluster prefix's first child is not Timecode (id 0x%X)", tcID)
	}
	_, size, unknown, tcSizeN, err := readVint(prefix[off+tcIDN:])
	if err != nil {
		return fmt.Errorf("ebml: timecode size: %w", err)
	}
	if unknown {
		return fmt.Errorf("ebml: timecode must have a known length")
	}

	payloadStart := off + tcIDN + tcSizeN
	payloadEnd := payloadStart + int(size)
	if payloadEnd > len(prefix) {
		return fmt.Errorf("ebml: cluster prefix truncated before timecode payload")
	}
	return rewriteTimecode(prefix[payloadStart:payloadEnd], newValue)
}
