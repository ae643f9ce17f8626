package dicomx

import (
	"bytes"
	"encoding/binary"
	"testing"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
)

func TestClassifyFrameKind(t *testing.T) {
	cases := []struct {
		ts     string
		frames int
		want   FrameKind
	}{
		{"1.2.840.10008.1.2.1", 1, UncompressedSingle},
		{"1.2.840.10008.1.2.1", 3, UncompressedMulti},
		{"1.2.840.10008.1.2", 1, UncompressedSingle},
		{"1.2.840.10008.1.2.2", 5, UncompressedMulti},
		{"1.2.840.10008.1.2.4.107", 1, Video},
		{"1.2.840.10008.1.2.4.107", 20, Video},
		{"1.2.840.10008.1.2.4.90", 1, CompressedSingle},  // JPEG2000 lossless
		{"1.2.840.10008.1.2.4.90", 4, CompressedMulti},
	}
	for _, c := range cases {
		got := ClassifyFrameKind(c.ts, c.frames)
		if got != c.want {
			t.Errorf("ClassifyFrameKind(%q, %d) = %v, want %v", c.ts, c.frames, got, c.want)
		}
	}
}

// --- synthetic file-meta + dataset builder for ExtractFrame tests ---

func explicitShortElement(group, element uint16, vr string, value []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, group)
	binary.Write(&buf, binary.LittleEndian, element)
	buf.WriteString(vr)
	binary.Write(&buf, binary.LittleEndian, uint16(len(value)))
	buf.Write(value)
	return buf.Bytes()
}

func explicitLongElement(group, element uint16, vr string, value []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, group)
	binary.Write(&buf, binary.LittleEndian, element)
	buf.WriteString(vr)
	buf.Write([]byte{0x00, 0x00})
	binary.Write(&buf, binary.LittleEndian, uint32(len(value)))
	buf.Write(value)
	return buf.Bytes()
}

func uint16LE(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func uint32LE(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func implicitElement(group, element uint16, value []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, group)
	binary.Write(&buf, binary.LittleEndian, element)
	binary.Write(&buf, binary.LittleEndian, uint32(len(value)))
	buf.Write(value)
	return buf.Bytes()
}

func evenPaddedUID(uid string) []byte {
	if len(uid)%2 != 0 {
		uid += "\x00"
	}
	return []byte(uid)
}

// buildMinimalFileMeta emits a File Meta group with a real (0002,0000)
// Group Length element and a trailing (0002,0012) Implementation Class
// UID element after the transfer syntax, the way PS3.10 actually lays
// the group out, so tests exercise the group-length-bounded scan rather
// than a group that conveniently ends right after (0002,0010).
func buildMinimalFileMeta(transferSyntaxUID string) []byte {
	tsElem := explicitShortElement(0x0002, 0x0010, "UI", evenPaddedUID(transferSyntaxUID))
	implClassElem := explicitShortElement(0x0002, 0x0012, "UI", evenPaddedUID("1.2.3.4.5.6"))

	var body bytes.Buffer
	body.Write(tsElem)
	body.Write(implClassElem)

	var buf bytes.Buffer
	buf.Write(make([]byte, 128))
	buf.WriteString("DICM")
	buf.Write(explicitShortElement(0x0002, 0x0000, "UL", uint32LE(uint32(body.Len()))))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

func TestExtractFrameUncompressedSingle(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(buildMinimalFileMeta("1.2.840.10008.1.2.1"))

	pixelData := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	buf.Write(explicitLongElement(0x7FE0, 0x0010, "OW", pixelData))

	var out bytes.Buffer
	err := ExtractFrame(bytes.NewReader(buf.Bytes()), 1, UncompressedSingle, 1, &out)
	if err != nil {
		t.Fatalf("ExtractFrame() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), pixelData) {
		t.Fatalf("ExtractFrame() = %x, want %x", out.Bytes(), pixelData)
	}
}

// TestExtractFrameImplicitVRLittleEndian covers the DICOM default
// transfer syntax (1.2.840.10008.1.2, classified UNCOMPRESSED). The
// file meta group still carries a trailing element after the transfer
// syntax UID (0002,0012, always Explicit VR regardless of the main
// dataset's syntax), which must be fully consumed before the implicit
// VR dataset loop starts, or it misreads the leftover meta bytes as an
// implicit VR element and fails.
func TestExtractFrameImplicitVRLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(buildMinimalFileMeta("1.2.840.10008.1.2"))

	pixelData := []byte{0x11, 0x22, 0x33, 0x44}
	buf.Write(implicitElement(0x7FE0, 0x0010, pixelData))

	var out bytes.Buffer
	err := ExtractFrame(bytes.NewReader(buf.Bytes()), 1, UncompressedSingle, 1, &out)
	if err != nil {
		t.Fatalf("ExtractFrame() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), pixelData) {
		t.Fatalf("ExtractFrame() = %x, want %x", out.Bytes(), pixelData)
	}
}

func TestExtractFrameUncompressedMultiPicksCorrectFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(buildMinimalFileMeta("1.2.840.10008.1.2.1"))

	buf.Write(explicitShortElement(0x0028, 0x0002, "US", uint16LE(1))) // samples per pixel
	buf.Write(explicitShortElement(0x0028, 0x0010, "US", uint16LE(2))) // rows
	buf.Write(explicitShortElement(0x0028, 0x0011, "US", uint16LE(2))) // columns
	buf.Write(explicitShortElement(0x0028, 0x0100, "US", uint16LE(8))) // bits allocated

	frame1 := []byte{1, 1, 1, 1}
	frame2 := []byte{2, 2, 2, 2}
	frame3 := []byte{3, 3, 3, 3}
	pixelData := append(append(append([]byte{}, frame1...), frame2...), frame3...)
	buf.Write(explicitLongElement(0x7FE0, 0x0010, "OW", pixelData))

	var out bytes.Buffer
	err := ExtractFrame(bytes.NewReader(buf.Bytes()), 2, UncompressedMulti, 3, &out)
	if err != nil {
		t.Fatalf("ExtractFrame() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), frame2) {
		t.Fatalf("ExtractFrame() frame 2 = %x, want %x", out.Bytes(), frame2)
	}
}

func TestExtractFrameCompressedMultiReturnsOneFragmentPerFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(buildMinimalFileMeta("1.2.840.10008.1.2.4.90"))

	// undefined-length pixel data element (OB VR, long form).
	buf.Write(explicitLongElementUndefinedLength(0x7FE0, 0x0010, "OB"))
	// Basic Offset Table item, empty.
	writeItem(&buf, nil)
	// Fragment items, one per frame.
	writeItem(&buf, []byte{0x11, 0x11})
	writeItem(&buf, []byte{0x22, 0x22, 0x22})
	writeItem(&buf, []byte{0x33})

	var out bytes.Buffer
	err := ExtractFrame(bytes.NewReader(buf.Bytes()), 2, CompressedMulti, 3, &out)
	if err != nil {
		t.Fatalf("ExtractFrame() error = %v", err)
	}
	want := []byte{0x22, 0x22, 0x22}
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("ExtractFrame() fragment 2 = %x, want %x", out.Bytes(), want)
	}
}

func TestExtractFrameOutOfRangeRejected(t *testing.T) {
	var out bytes.Buffer
	err := ExtractFrame(bytes.NewReader(nil), 5, UncompressedSingle, 3, &out)
	code, ok := spaxerrors.CodeOf(err)
	if !ok || code != spaxerrors.CodeFrameOutOfRange {
		t.Fatalf("expected CodeFrameOutOfRange, got %v (ok=%v)", code, ok)
	}
}

func explicitLongElementUndefinedLength(group, element uint16, vr string) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, group)
	binary.Write(&buf, binary.LittleEndian, element)
	buf.WriteString(vr)
	buf.Write([]byte{0x00, 0x00})
	binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFFF))
	return buf.Bytes()
}

func writeItem(buf *bytes.Buffer, data []byte) {
	binary.Write(buf, binary.LittleEndian, uint16(0xFFFE))
	binary.Write(buf, binary.LittleEndian, uint16(0xE000))
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
}
