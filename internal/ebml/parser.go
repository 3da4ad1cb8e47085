package ebml

import (
	relerrors "github.com/alxayo/webmrelay/internal/errors"
)

// Handler receives the tagged element spans a Parser emits as it consumes
// publisher bytes. Implementations (the broadcast package's Broadcast) decide
// what to retain and what to forward to subscribers; the parser itself holds
// no subscriber-facing state. Grounded on spec.md §9 "Callback-to-channel
// bridge": the parser is a pure state machine that calls straight into the
// dispatch logic, no intermediate queue.
//
// Byte slices passed to Handler methods are views into the parser's internal
// buffer and are valid only for the duration of the call; implementations
// that need to retain bytes beyond the call MUST copy them.
type Handler interface {
	// HeaderAppend delivers bytes that belong to the header buffer (stream
	// start through the end of the first Tracks element).
	HeaderAppend(p []byte)
	// HeaderClose signals that Tracks has been fully seen.
	HeaderClose()
	// ClusterBegin signals a new Cluster; prefix is the Cluster element
	// header plus its Timecode child, baseTS is the cluster's timestamp as
	// sent by the publisher.
	ClusterBegin(prefix []byte, baseTS int64)
	// ClusterBody delivers bytes belonging inside the currently open
	// cluster (SimpleBlock/BlockGroup elements, or unrecognized siblings).
	ClusterBody(p []byte)
	// ClusterEnd signals the current cluster has ended.
	ClusterEnd()
	// Trailer delivers bytes for elements that are siblings of Cluster at
	// the Segment level but are not part of the header and not a Cluster
	// (Cues, Chapters, Tags, Attachments encountered after the header has
	// closed). Not part of spec.md's six named output events; added so the
	// parser never silently drops bytes it is handed (needed for the
	// since-start-subscriber byte-identity property).
	Trailer(p []byte)
}

const (
	stepExpectEBML = iota
	stepExpectSegment
	stepExpectSegmentChild
	stepReadLeaf
	stepReadTimecode
	stepExpectClusterChild
	stepDone
)

const (
	leafKindHeader = iota
	leafKindTrailer
	leafKindClusterBody
)

// Parser incrementally decodes the subset of EBML/Matroska a live WebM
// stream uses. Feed may be called with arbitrarily sized chunks, including
// chunks that split a VINT or element header mid-byte; the parser buffers
// whatever is incomplete and resumes on the next Feed call.
type Parser struct {
	h Handler

	pending []byte
	cursor  int
	absBase int64 // absolute stream position corresponding to pending[0]

	headerClosed bool
	started      bool
	step         int
	afterLeaf    int

	leafRemaining int64
	leafKind      int
	leafElemID    uint32

	tcRemaining int64
	tcBuf       []byte
	tcHeader    []byte

	clusterPrefix []byte
	clusterPrimed bool
	clusterEnd    int64

	segmentEnd int64

	failed error
}

// NewParser creates a Parser that emits events to h.
func NewParser(h Handler) *Parser {
	return &Parser{
		h:          h,
		clusterEnd: -1,
		segmentEnd: -1,
	}
}

// Feed consumes another chunk of publisher bytes. It returns a *BadContainer
// error (from internal/errors) on the first malformed input; once failed, a
// Parser never recovers and every subsequent Feed returns the same error.
func (p *Parser) Feed(data []byte) error {
	if p.failed != nil {
		return p.failed
	}
	if len(data) > 0 {
		p.pending = append(p.pending, data...)
	}
	if err := p.run(); err != nil {
		p.failed = err
		return err
	}
	if p.cursor > 0 {
		p.absBase += int64(p.cursor)
		p.pending = p.pending[p.cursor:]
		p.cursor = 0
	}
	return nil
}

func (p *Parser) absPos() int64 { return p.absBase + int64(p.cursor) }

func (p *Parser) avail() int { return len(p.pending) - p.cursor }

// copyOut returns a view of the next n unconsumed bytes and advances the
// cursor. Caller must have already verified n <= avail().
func (p *Parser) copyOut(n int) []byte {
	b := p.pending[p.cursor : p.cursor+n]
	p.cursor += n
	return b
}

func (p *Parser) run() error {
	for {
		switch p.step {
		case stepDone:
			return nil

		case stepExpectEBML:
			id, header, size, unknown, ok, err := p.peekElementHeader()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if id != IDEBMLHeader {
				return relerrors.NewBadContainer("first element is not EBML", nil)
			}
			if unknown {
				return relerrors.NewBadContainer("EBML header must have a known length", nil)
			}
			p.started = true
			p.commitLeafStart(header, int64(size), leafKindHeader, id, stepExpectSegment)

		case stepExpectSegment:
			id, header, size, unknown, ok, err := p.peekElementHeader()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if id != IDSegment {
				return relerrors.NewBadContainer("expected Segment after EBML header", nil)
			}
			p.commitBytes(header)
			p.h.HeaderAppend(header)
			if unknown {
				p.segmentEnd = -1
			} else {
				p.segmentEnd = p.absPos() + int64(size)
			}
			p.step = stepExpectSegmentChild

		case stepExpectSegmentChild:
			if p.segmentEnd >= 0 && p.absPos() >= p.segmentEnd {
				p.step = stepDone
				continue
			}
			id, header, size, unknown, ok, err := p.peekElementHeader()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := p.checkParentBound(p.segmentEnd, int64(len(header)), size, unknown); err != nil {
				return err
			}

			if id == IDCluster {
				if !p.headerClosed {
					return relerrors.NewBadContainer("cluster seen before header closed", nil)
				}
				p.commitBytes(header)
				p.clusterPrefix = append([]byte(nil), header...)
				p.clusterPrimed = false
				if unknown {
					p.clusterEnd = -1
				} else {
					p.clusterEnd = p.absPos() + int64(size)
				}
				p.step = stepExpectClusterChild
				continue
			}

			if isHeaderElement(id) {
				p.commitLeafStart(header, int64(size), leafKindHeader, id, stepExpectSegmentChild)
				continue
			}

			// Cues/Chapters/Tags/Attachments, or any unrecognized sibling:
			// passthrough, routed by whether the header is still open.
			kind := leafKindTrailer
			if !p.headerClosed {
				kind = leafKindHeader
			}
			p.commitLeafStart(header, int64(size), kind, id, stepExpectSegmentChild)

		case stepReadLeaf:
			n := p.avail()
			if n == 0 {
				return nil
			}
			if int64(n) > p.leafRemaining {
				n = int(p.leafRemaining)
			}
			data := p.copyOut(n)
			p.leafRemaining -= int64(n)
			switch p.leafKind {
			case leafKindHeader:
				p.h.HeaderAppend(data)
			case leafKindTrailer:
				p.h.Trailer(data)
			case leafKindClusterBody:
				p.h.ClusterBody(data)
			}
			if p.leafRemaining == 0 {
				if p.leafKind == leafKindHeader && p.leafElemID == IDTracks {
					p.headerClosed = true
					p.h.HeaderClose()
				}
				p.step = p.afterLeaf
			}

		case stepExpectClusterChild:
			if p.clusterEnd >= 0 && p.absPos() >= p.clusterEnd {
				p.endCluster()
				p.step = stepExpectSegmentChild
				continue
			}
			id, header, size, unknown, ok, err := p.peekElementHeader()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if isSegmentChild(id) {
				// Unknown-length cluster implicitly ends at the next
				// sibling element valid at the Segment level.
				p.endCluster()
				p.step = stepExpectSegmentChild
				continue
			}
			if err := p.checkParentBound(p.clusterEnd, int64(len(header)), size, unknown); err != nil {
				return err
			}

			if id == IDTimecode && !p.clusterPrimed {
				if unknown {
					return relerrors.NewBadContainer("Timecode must have a known length", nil)
				}
				p.commitBytes(header)
				p.tcHeader = append([]byte(nil), header...)
				p.tcRemaining = int64(size)
				p.tcBuf = p.tcBuf[:0]
				p.step = stepReadTimecode
				continue
			}

			if !p.clusterPrimed {
				p.primeCluster(0)
			}
			if unknown {
				return relerrors.NewBadContainer("cluster child must have a known length", nil)
			}
			p.commitBytes(header)
			p.h.ClusterBody(header)
			p.leafRemaining = int64(size)
			p.leafKind = leafKindClusterBody
			p.leafElemID = id
			p.afterLeaf = stepExpectClusterChild
			p.step = stepReadLeaf

		case stepReadTimecode:
			n := p.avail()
			if n == 0 {
				return nil
			}
			if int64(n) > p.tcRemaining {
				n = int(p.tcRemaining)
			}
			p.tcBuf = append(p.tcBuf, p.copyOut(n)...)
			p.tcRemaining -= int64(n)
			if p.tcRemaining == 0 {
				ts := decodeUint(p.tcBuf)
				p.clusterPrefix = append(p.clusterPrefix, p.tcHeader...)
				p.clusterPrefix = append(p.clusterPrefix, p.tcBuf...)
				p.primeCluster(ts)
				p.step = stepExpectClusterChild
			}

		default:
			return relerrors.NewBadContainer("parser in unknown state", nil)
		}
	}
}

// endCluster closes the currently open cluster. A cluster that ends before
// any child ever primed it (a zero-length Cluster, or one whose only bytes
// were its own id+size header) still owns committed header bytes that must
// reach the Handler, so it is primed here with baseTS 0 before closing.
func (p *Parser) endCluster() {
	if !p.clusterPrimed {
		p.primeCluster(0)
	}
	p.h.ClusterEnd()
	p.clusterPrimed = false
	p.clusterPrefix = nil
	p.clusterEnd = -1
}

func (p *Parser) primeCluster(ts int64) {
	prefix := append([]byte(nil), p.clusterPrefix...)
	p.h.ClusterBegin(prefix, ts)
	p.clusterPrimed = true
}

// commitLeafStart commits header (the element's id+size bytes) as already
// consumed, emits it through the given leaf kind's handler method, and sets
// up stepReadLeaf to stream the body as it arrives.
func (p *Parser) commitLeafStart(header []byte, bodyLen int64, kind int, elemID uint32, after int) {
	p.commitBytes(header)
	switch kind {
	case leafKindHeader:
		p.h.HeaderAppend(header)
	case leafKindTrailer:
		p.h.Trailer(header)
	}
	p.leafRemaining = bodyLen
	p.leafKind = kind
	p.leafElemID = elemID
	p.afterLeaf = after
	p.step = stepReadLeaf
}

// commitBytes advances the cursor past bytes already returned by a peek.
func (p *Parser) commitBytes(consumed []byte) {
	p.cursor += len(consumed)
}

// checkParentBound enforces "a child element declares length exceeding its
// parent's remaining length" when the parent's end is known.
func (p *Parser) checkParentBound(parentEnd int64, headerLen int64, size uint64, unknown bool) error {
	if parentEnd < 0 || unknown {
		return nil
	}
	childEnd := p.absPos() + headerLen + int64(size)
	if childEnd > parentEnd {
		return relerrors.NewBadContainer("child element exceeds parent's declared length", nil)
	}
	return nil
}

// peekElementHeader reads an element ID VINT followed by a size VINT from
// the unconsumed tail of pending, without advancing the cursor. ok is false
// when more data is needed; header is the exact id+size bytes that must be
// committed (via commitBytes/commitLeafStart) once the caller decides how to
// handle the element.
func (p *Parser) peekElementHeader() (id uint32, header []byte, size uint64, unknown bool, ok bool, err error) {
	buf := p.pending[p.cursor:]
	_, idVal, idN, err := readElementID(buf)
	if err == errNeedMoreData {
		return 0, nil, 0, false, false, nil
	}
	if err != nil {
		return 0, nil, 0, false, false, relerrors.NewBadContainer("invalid element id", err)
	}
	_, sizeVal, unk, sizeN, err := readVint(buf[idN:])
	if err == errNeedMoreData {
		return 0, nil, 0, false, false, nil
	}
	if err != nil {
		return 0, nil, 0, false, false, relerrors.NewBadContainer("invalid element size", err)
	}
	return idVal, buf[:idN+sizeN], sizeVal, unk, true, nil
}
