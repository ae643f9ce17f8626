package dicomx

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
)

// FrameKind classifies how a pixel-data element is laid out on disk,
// decided from the transfer-syntax UID and frame count (spec.md §4.4).
type FrameKind string

const (
	UncompressedSingle FrameKind = "UNCOMPRESSED_SINGLE"
	CompressedSingle   FrameKind = "COMPRESSED_SINGLE"
	UncompressedMulti  FrameKind = "UNCOMPRESSED_MULTI"
	CompressedMulti    FrameKind = "COMPRESSED_MULTI"
	Video              FrameKind = "VIDEO"
)

// mpeg/HEVC transfer syntaxes, classified VIDEO regardless of frame count.
var videoTransferSyntaxes = map[string]bool{
	"1.2.840.10008.1.2.4.100": true, // MPEG2 Main Profile @ Main Level
	"1.2.840.10008.1.2.4.101": true, // MPEG2 Main Profile @ High Level
	"1.2.840.10008.1.2.4.102": true, // MPEG-4 AVC/H.264 High Profile
	"1.2.840.10008.1.2.4.103": true, // MPEG-4 AVC/H.264 BD-compatible
	"1.2.840.10008.1.2.4.104": true,
	"1.2.840.10008.1.2.4.105": true,
	"1.2.840.10008.1.2.4.106": true,
	"1.2.840.10008.1.2.4.107": true, // HEVC/H.265 Main Profile
	"1.2.840.10008.1.2.4.108": true,
}

var uncompressedTransferSyntaxes = map[string]bool{
	"1.2.840.10008.1.2":      true, // Implicit VR Little Endian
	"1.2.840.10008.1.2.1":    true, // Explicit VR Little Endian
	"1.2.840.10008.1.2.1.99": true, // Deflated Explicit VR Little Endian
	"1.2.840.10008.1.2.2":    true, // Explicit VR Big Endian
}

// ClassifyFrameKind implements the classification table in spec.md §4.4.
func ClassifyFrameKind(transferSyntaxUID string, numberOfFrames int) FrameKind {
	multi := numberOfFrames > 1
	switch {
	case videoTransferSyntaxes[transferSyntaxUID]:
		return Video
	case uncompressedTransferSyntaxes[transferSyntaxUID]:
		if multi {
			return UncompressedMulti
		}
		return UncompressedSingle
	default:
		if multi {
			return CompressedMulti
		}
		return CompressedSingle
	}
}

// pixel-data and item delimiter tags.
const (
	tagGroupPixelData   = 0x7FE0
	tagElementPixelData = 0x0010
	tagGroupItem        = 0xFFFE
	tagElementItem      = 0xE000
	tagElementItemDelim = 0xE00D // per spec.md §4.4's stated terminator
)

// pixelGeometry holds the attributes needed to compute an uncompressed
// frame's byte length.
type pixelGeometry struct {
	rows, columns, bitsAllocated, samplesPerPixel, planarConfiguration int
}

// ExtractFrame extracts frameNumber's (1-indexed) raw pixel bytes from a
// fresh stream positioned at file start and writes them to out, without
// decoding pixel values — frames are served at their native transfer
// syntax (spec.md Non-goals).
func ExtractFrame(stream io.Reader, frameNumber int, kind FrameKind, totalFrames int, out io.Writer) error {
	if frameNumber < 1 || frameNumber > totalFrames {
		return spaxerrors.NewFrameOutOfRange(frameNumber, totalFrames)
	}

	r := bufio.NewReader(stream)
	bigEndian, explicitVR, err := skipPreambleAndMeta(r)
	if err != nil {
		return err
	}

	geom := pixelGeometry{bitsAllocated: 16, samplesPerPixel: 1}
	for {
		hdr, err := readElementHeader(r, explicitVR, bigEndian)
		if err != nil {
			return newInvalidDicom("scanning for pixel data: %v", err)
		}
		if hdr.group == tagGroupPixelData && hdr.element == tagElementPixelData {
			return extractFromPixelData(r, hdr, geom, frameNumber, kind, totalFrames, out)
		}

		switch {
		case hdr.group == 0x0028 && hdr.element == 0x0010 && hdr.length == 2:
			geom.rows = int(mustReadUint16(r, bigEndian))
		case hdr.group == 0x0028 && hdr.element == 0x0011 && hdr.length == 2:
			geom.columns = int(mustReadUint16(r, bigEndian))
		case hdr.group == 0x0028 && hdr.element == 0x0100 && hdr.length == 2:
			geom.bitsAllocated = int(mustReadUint16(r, bigEndian))
		case hdr.group == 0x0028 && hdr.element == 0x0002 && hdr.length == 2:
			geom.samplesPerPixel = int(mustReadUint16(r, bigEndian))
		case hdr.group == 0x0028 && hdr.element == 0x0006 && hdr.length == 2:
			geom.planarConfiguration = int(mustReadUint16(r, bigEndian))
		default:
			if err := discard(r, int64(hdr.length)); err != nil {
				return newInvalidDicom("skipping element (%04x,%04x): %v", hdr.group, hdr.element, err)
			}
		}
	}
}

func extractFromPixelData(r *bufio.Reader, hdr elementHeader, geom pixelGeometry, frameNumber int, kind FrameKind, totalFrames int, out io.Writer) error {
	switch kind {
	case UncompressedSingle:
		return copyN(r, out, int64(hdr.length))

	case UncompressedMulti:
		if geom.rows == 0 || geom.columns == 0 {
			return newInvalidDicom("uncompressed multi-frame pixel data missing rows/columns attributes")
		}
		frameLength := int64(geom.rows) * int64(geom.columns) * int64(geom.bitsAllocated/8) * int64(geom.samplesPerPixel)
		if err := discard(r, int64(frameNumber-1)*frameLength); err != nil {
			return newInvalidDicom("skipping to frame %d: %v", frameNumber, err)
		}
		return copyN(r, out, frameLength)

	case CompressedSingle, Video:
		if hdr.length != undefinedLength {
			// some encoders emit a compressed single frame with a
			// defined length instead of the item-sequence form.
			return copyN(r, out, int64(hdr.length))
		}
		return extractEncapsulatedFrame(r, 1, out)

	case CompressedMulti:
		return extractEncapsulatedFrame(r, frameNumber, out)

	default:
		return newInvalidDicom("unknown frame kind %q", kind)
	}
}

// extractEncapsulatedFrame skips the Basic Offset Table item, then the
// (n-1) fragments preceding the target frame, then copies the n-th
// fragment's body — one fragment per frame, per spec.md §4.4's stated
// conformant-encoder assumption.
func extractEncapsulatedFrame(r *bufio.Reader, frameNumber int, out io.Writer) error {
	// Basic Offset Table: always the first item, possibly zero-length.
	botGroup, botElement, botLength, err := readItemHeader(r)
	if err != nil {
		return newInvalidDicom("reading basic offset table: %v", err)
	}
	if botGroup != tagGroupItem || botElement != tagElementItem {
		return newInvalidDicom("expected basic offset table item, got (%04x,%04x)", botGroup, botElement)
	}
	if err := discard(r, int64(botLength)); err != nil {
		return newInvalidDicom("skipping basic offset table: %v", err)
	}

	fragment := 0
	for {
		group, element, length, err := readItemHeader(r)
		if err != nil {
			return newInvalidDicom("reading fragment item: %v", err)
		}
		if group == tagGroupItem && element == tagElementItemDelim {
			return spaxerrors.NewFrameOutOfRange(frameNumber, fragment)
		}
		if group != tagGroupItem || element != tagElementItem {
			return newInvalidDicom("expected fragment item, got (%04x,%04x)", group, element)
		}
		fragment++
		if fragment == frameNumber {
			return copyN(r, out, int64(length))
		}
		if err := discard(r, int64(length)); err != nil {
			return newInvalidDicom("skipping fragment %d: %v", fragment, err)
		}
	}
}

func readItemHeader(r *bufio.Reader) (group, element uint16, length uint32, err error) {
	group, err = readUint16LE(r)
	if err != nil {
		return 0, 0, 0, err
	}
	element, err = readUint16LE(r)
	if err != nil {
		return 0, 0, 0, err
	}
	length, err = readUint32LE(r)
	return group, element, length, err
}

func copyN(r io.Reader, out io.Writer, n int64) error {
	_, err := io.CopyN(out, r, n)
	return err
}

func discard(r *bufio.Reader, n int64) error {
	_, err := io.CopyN(io.Discard, r, n)
	return err
}

func mustReadUint16(r *bufio.Reader, bigEndian bool) uint16 {
	var v uint16
	if bigEndian {
		v, _ = readUint16BE(r)
	} else {
		v, _ = readUint16LE(r)
	}
	return v
}

func readUint16LE(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readUint16BE(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readUint32LE(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

const undefinedLength = 0xFFFFFFFF

// elementHeader is a decoded (group, element, VR, length) header for one
// dataset element, independent of whether the source used implicit or
// explicit VR encoding.
type elementHeader struct {
	group, element uint16
	vr             string
	length         uint32
}

// longFormVRs use a 2-byte reserved field plus a 4-byte length under
// explicit VR little/big endian encoding; all others use a 2-byte length.
var longFormVRs = map[string]bool{
	"OB": true, "OW": true, "OF": true, "OL": true, "OD": true,
	"SQ": true, "UC": true, "UR": true, "UT": true, "UN": true,
}

func readElementHeader(r *bufio.Reader, explicitVR, bigEndian bool) (elementHeader, error) {
	var group, element uint16
	var err error
	if bigEndian {
		group, err = readUint16BE(r)
		if err == nil {
			element, err = readUint16BE(r)
		}
	} else {
		group, err = readUint16LE(r)
		if err == nil {
			element, err = readUint16LE(r)
		}
	}
	if err != nil {
		return elementHeader{}, err
	}

	if !explicitVR {
		length, err := readLength32(r, bigEndian)
		if err != nil {
			return elementHeader{}, err
		}
		return elementHeader{group: group, element: element, length: length}, nil
	}

	var vrBuf [2]byte
	if _, err := io.ReadFull(r, vrBuf[:]); err != nil {
		return elementHeader{}, err
	}
	vr := string(vrBuf[:])

	if longFormVRs[vr] {
		if _, err := io.CopyN(io.Discard, r, 2); err != nil { // reserved bytes
			return elementHeader{}, err
		}
		length, err := readLength32(r, bigEndian)
		if err != nil {
			return elementHeader{}, err
		}
		return elementHeader{group: group, element: element, vr: vr, length: length}, nil
	}

	length16 := mustReadUint16(r, bigEndian)
	return elementHeader{group: group, element: element, vr: vr, length: uint32(length16)}, nil
}

func readLength32(r *bufio.Reader, bigEndian bool) (uint32, error) {
	if bigEndian {
		return readUint32BE(r)
	}
	return readUint32LE(r)
}

func readUint32BE(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// skipPreambleAndMeta reads the 128-byte preamble and "DICM" magic (if
// present), then scans the File Meta group (0002,xxxx, always Explicit VR
// Little Endian) to recover the transfer syntax UID used for the main
// dataset, returning (bigEndian, explicitVR) for that dataset.
//
// The group's own (0002,0000) File Meta Information Group Length element
// gives the exact byte span of the rest of the group (PS3.10 §7.1); the
// whole span must be consumed here even once the transfer syntax UID is
// found, since mandatory elements such as (0002,0012) Implementation
// Class UID follow it and the main dataset loop assumes the stream is
// positioned right after the meta group, not mid-group.
func skipPreambleAndMeta(r *bufio.Reader) (bigEndian, explicitVR bool, err error) {
	peek, err := r.Peek(132)
	if err == nil && string(peek[128:132]) == "DICM" {
		if _, err := io.CopyN(io.Discard, r, 132); err != nil {
			return false, false, err
		}
	}

	glHdr, err := readElementHeader(r, true, false)
	if err != nil {
		return false, false, fmt.Errorf("reading file meta group length: %w", err)
	}
	if glHdr.group != 0x0002 || glHdr.element != 0x0000 {
		return false, false, fmt.Errorf("file meta group missing (0002,0000) group length element")
	}
	groupLength, err := readUint32LE(r)
	if err != nil {
		return false, false, err
	}

	var transferSyntaxUID string
	remaining := int64(groupLength)
	for remaining > 0 {
		hdr, err := readElementHeader(r, true, false)
		if err != nil {
			return false, false, fmt.Errorf("reading file meta group: %w", err)
		}
		headerSize := int64(8)
		if longFormVRs[hdr.vr] {
			headerSize = 12
		}
		remaining -= headerSize + int64(hdr.length)

		if hdr.element == 0x0010 {
			buf := make([]byte, hdr.length)
			if _, err := io.ReadFull(r, buf); err != nil {
				return false, false, err
			}
			transferSyntaxUID = trimUITrailer(string(buf))
			continue
		}
		if err := discard(r, int64(hdr.length)); err != nil {
			return false, false, err
		}
	}
	if transferSyntaxUID == "" {
		return false, false, fmt.Errorf("file meta group ended before transfer syntax UID was found")
	}

	switch transferSyntaxUID {
	case "1.2.840.10008.1.2": // Implicit VR Little Endian
		return false, false, nil
	case "1.2.840.10008.1.2.2": // Explicit VR Big Endian
		return true, true, nil
	default: // Explicit VR Little Endian and every compressed/video syntax
		return false, true, nil
	}
}

// trimUITrailer strips the single trailing NUL or space pad byte UI/AE-
// family values use to keep an even length.
func trimUITrailer(s string) string {
	if len(s) > 0 && (s[len(s)-1] == 0x00 || s[len(s)-1] == ' ') {
		return s[:len(s)-1]
	}
	return s
}
