// Package ebml implements an incremental EBML/Matroska element-tree decoder
// tailored to the subset of the format a live WebM stream actually uses:
// the EBML header, a Segment containing SeekHead/Info/Tracks (collectively
// the "header" a decoder needs to initialize) followed by a sequence of
// Clusters.
//
// The element ID table below is grounded on the struct-tag constants in
// other_examples' pixelbender-go-matroska and Azunyan1111 webm muxer.
package ebml

// Element IDs recognized explicitly by the parser. All other IDs encountered
// are still framed correctly (their declared length is honored) but their
// payload is treated as opaque passthrough of whichever span currently
// contains them.
const (
	IDEBMLHeader = 0x1A45DFA3
	IDSegment    = 0x18538067

	// Segment children that make up the header.
	IDSeekHead = 0x114D9B74
	IDInfo     = 0x1549A966
	IDTracks   = 0x1654AE6B

	// Segment children that are not part of the header and are not Clusters.
	IDCues        = 0x1C53BB6B
	IDChapters    = 0x1043A770
	IDTags        = 0x1254C367
	IDAttachments = 0x1941A469

	// Cluster and its children.
	IDCluster     = 0x1F43B675
	IDTimecode    = 0xE7
	IDSimpleBlock = 0xA3
	IDBlockGroup  = 0xA0
)

// isSegmentChild reports whether id is a recognized direct child of Segment.
func isSegmentChild(id uint32) bool {
	switch id {
	case IDSeekHead, IDInfo, IDTracks, IDCluster, IDCues, IDChapters, IDTags, IDAttachments:
		return true
	default:
		return false
	}
}

// isHeaderElement reports whether id is part of the header (appears before
// the header closes on Tracks).
func isHeaderElement(id uint32) bool {
	switch id {
	case IDSeekHead, IDInfo, IDTracks:
		return true
	default:
		return false
	}
}

// isClusterChild reports whether id is a recognized direct child of Cluster.
func isClusterChild(id uint32) bool {
	switch id {
	case IDTimecode, IDSimpleBlock, IDBlockGroup:
		return true
	default:
		return false
	}
}
