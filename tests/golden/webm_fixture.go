// Package golden builds small, deterministic WebM byte streams for the
// integration suite, mirroring the teacher's tests/golden generators:
// fixed inputs, reproducible output, no external encoder dependency.
package golden

import "github.com/alxayo/webmrelay/internal/ebml"

func idBytes(id uint32) []byte {
	switch {
	case id <= 0xFF:
		return []byte{byte(id)}
	case id <= 0xFFFF:
		return []byte{byte(id >> 8), byte(id)}
	case id <= 0xFFFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	default:
		return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	}
}

// vint8 encodes n as a fixed 8-byte VINT; always valid for these small
// fixture payload sizes.
func vint8(n uint64) []byte {
	out := make([]byte, 8)
	out[0] = 0x01
	for i := 0; i < 7; i++ {
		out[1+i] = byte(n >> uint(8*(6-i)))
	}
	return out
}

func elem(id uint32, payload []byte) []byte {
	out := append([]byte(nil), idBytes(id)...)
	out = append(out, vint8(uint64(len(payload)))...)
	return append(out, payload...)
}

func timecodeElem(ts int64) []byte {
	return elem(ebml.IDTimecode, []byte{byte(ts >> 24), byte(ts >> 16), byte(ts >> 8), byte(ts)})
}

func clusterElem(ts int64, blocks ...[]byte) []byte {
	payload := timecodeElem(ts)
	for _, b := range blocks {
		payload = append(payload, elem(ebml.IDSimpleBlock, b)...)
	}
	return elem(ebml.IDCluster, payload)
}

// unknownLengthHeader returns an element's id+unknown-length-size header with
// no payload appended, since the caller streams children separately.
func unknownLengthHeader(id uint32) []byte {
	out := append([]byte(nil), idBytes(id)...)
	out = append(out, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	return out
}

// Header returns the EBML header + Segment(Info,Tracks) prefix that every
// fixture starts with. The Segment is unknown-length, per spec.md §4.1
// ("usually unknown length"), so Clusters appended afterward -- in this call
// or a later one -- are still parsed as Segment children rather than silently
// absorbed once a known-length Segment closed on Tracks alone.
func Header() []byte {
	ebmlHdr := elem(ebml.IDEBMLHeader, []byte{0x01, 0x02, 0x03})
	segHdr := unknownLengthHeader(ebml.IDSegment)
	info := elem(ebml.IDInfo, []byte{0xAA, 0xBB})
	tracks := elem(ebml.IDTracks, []byte{0xCC, 0xDD})
	out := append([]byte(nil), ebmlHdr...)
	out = append(out, segHdr...)
	out = append(out, info...)
	out = append(out, tracks...)
	return out
}

// ThreeClusterStream returns spec.md S2/S3's fixture F: a header followed by
// three clusters at timecodes 0, 1000, and 2500, each carrying one
// SimpleBlock. Cluster boundaries are returned alongside so tests can POST
// the stream in staged slices (e.g. "up to end of cluster 1").
func ThreeClusterStream() (full []byte, clusterOffsets []int) {
	full = append(full, Header()...)
	clusterOffsets = append(clusterOffsets, len(full))

	c1 := clusterElem(0, []byte{0x01})
	full = append(full, c1...)
	clusterOffsets = append(clusterOffsets, len(full))

	c2 := clusterElem(1000, []byte{0x02})
	full = append(full, c2...)
	clusterOffsets = append(clusterOffsets, len(full))

	c3 := clusterElem(2500, []byte{0x03})
	full = append(full, c3...)
	clusterOffsets = append(clusterOffsets, len(full))

	return full, clusterOffsets
}
