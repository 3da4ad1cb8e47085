package ebml

import "fmt"

// maxVintWidth is the widest VINT this decoder accepts. EBML technically
// allows up to 8-byte width; a 9th leading zero bit is always an error per
// spec.md §4.1 ("a VINT overflows 8 bytes").
const maxVintWidth = 8

// vintWidth returns the encoded width (1..8) of a VINT from its first byte,
// found from the position of the leading set bit, or 0 if the byte is
// invalid (no set bit in the high 8 bits, i.e. first byte == 0x00).
func vintWidth(first byte) int {
	for w := 1; w <= maxVintWidth; w++ {
		if first&(0x80>>(w-1)) != 0 {
			return w
		}
	}
	return 0
}

// readVint decodes a VINT starting at buf[0]. It returns the raw encoded
// bytes (with the length-marker bit still set, for element IDs) and the
// numeric value with the marker bit masked off (for sizes), the number of
// bytes consumed, whether the value is the "unknown length" all-ones
// sentinel, and an error.
//
// needMoreData is returned (as errNeedMoreData) when buf does not yet
// contain the full VINT; callers retain their buffer and retry after the
// next Feed.
func readVint(buf []byte) (raw []byte, value uint64, unknown bool, n int, err error) {
	if len(buf) == 0 {
		return nil, 0, false, 0, errNeedMoreData
	}
	w := vintWidth(buf[0])
	if w == 0 {
		return nil, 0, false, 0, fmt.Errorf("ebml: invalid vint leading byte 0x%02x", buf[0])
	}
	if len(buf) < w {
		return nil, 0, false, 0, errNeedMoreData
	}
	raw = buf[:w]

	// value = data bits only (marker bit cleared from first byte).
	value = uint64(buf[0]) &^ (0x80 >> (w - 1))
	allOnes := value == uint64(0xFF>>w)
	for i := 1; i < w; i++ {
		value = value<<8 | uint64(buf[i])
		if buf[i] != 0xFF {
			allOnes = false
		}
	}
	return raw, value, allOnes, w, nil
}

// errNeedMoreData is a sentinel error: the buffer does not yet hold a
// complete VINT or element; callers must wait for more input.
var errNeedMoreData = fmt.Errorf("ebml: need more data")

// readElementID decodes an EBML element ID. Unlike a size VINT, the
// length-marker bit is kept as part of the value (an element ID's raw
// encoded bytes, read as a single big-endian integer, *is* the ID used
// throughout ids.go). IDs wider than 4 bytes are not used by WebM and are
// rejected.
func readElementID(buf []byte) (raw []byte, id uint32, n int, err error) {
	if len(buf) == 0 {
		return nil, 0, 0, errNeedMoreData
	}
	w := vintWidth(buf[0])
	if w == 0 {
		return nil, 0, 0, fmt.Errorf("ebml: invalid element id leading byte 0x%02x", buf[0])
	}
	if w > 4 {
		return nil, 0, 0, fmt.Errorf("ebml: element id wider than 4 bytes")
	}
	if len(buf) < w {
		return nil, 0, 0, errNeedMoreData
	}
	raw = buf[:w]
	var v uint32
	for i := 0; i < w; i++ {
		v = v<<8 | uint32(buf[i])
	}
	return raw, v, w, nil
}

// encodeVint encodes n as the shortest VINT that can hold it (size fields,
// not IDs — IDs keep their original marker-bit width and are never
// re-encoded by this decoder). A width whose data bits would all be 1 is
// skipped, since that pattern is the "unknown length" sentinel. Grounded on
// the writeVarInt width ladder in other_examples' Azunyan1111 webm muxer.
func encodeVint(n uint64) []byte {
	for w := 1; w <= maxVintWidth; w++ {
		max := uint64(1)<<(7*w) - 2
		if n <= max {
			out := make([]byte, w)
			marker := byte(0x80) >> (w - 1)
			out[0] = marker
			for i := w - 1; i >= 1; i-- {
				out[i] = byte(n)
				n >>= 8
			}
			out[0] |= byte(n)
			return out
		}
	}
	panic("ebml: value too large for an 8-byte vint")
}

// rewriteTimecode overwrites a Timecode element's integer payload in place,
// keeping its original byte width (the payload is a plain big-endian
// unsigned integer of whatever width Timecode was written with, not itself a
// VINT). newValue must be non-negative and fit in len(payload) bytes.
func rewriteTimecode(payload []byte, newValue int64) error {
	if newValue < 0 {
		return fmt.Errorf("ebml: negative timecode %d", newValue)
	}
	v := uint64(newValue)
	width := len(payload)
	if width == 0 {
		return fmt.Errorf("ebml: empty timecode payload")
	}
	maxVal := uint64(1)<<(8*uint(width)) - 1
	if width >= 8 {
		maxVal = ^uint64(0)
	}
	if v > maxVal {
		return fmt.Errorf("ebml: timecode %d does not fit in %d byte(s)", newValue, width)
	}
	for i := width - 1; i >= 0; i-- {
		payload[i] = byte(v)
		v >>= 8
	}
	return nil
}

// decodeUint decodes a plain big-endian unsigned integer payload (used for
// Timecode values, not VINT-encoded).
func decodeUint(b []byte) int64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return int64(v)
}
