package handlers

import (
	"testing"

	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/dicomx"
)

func TestFindLocationMatchesBySOPInstanceUID(t *testing.T) {
	locs := []dbclient.InstanceLocation{
		{SOPInstanceUID: "1.1"},
		{SOPInstanceUID: "1.2", VolumeID: 7},
	}
	loc, ok := findLocation(locs, "1.2")
	if !ok || loc.VolumeID != 7 {
		t.Fatalf("findLocation(1.2) = %+v, %v", loc, ok)
	}
	if _, ok := findLocation(locs, "1.3"); ok {
		t.Fatal("expected no match for unknown SOPInstanceUID")
	}
}

func TestParseFrameListSortsAndValidatesRange(t *testing.T) {
	frames, err := parseFrameList("3,1,2", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{1, 2, 3}
	for i, w := range want {
		if frames[i] != w {
			t.Fatalf("frames = %v, want %v", frames, want)
		}
	}
}

func TestParseFrameListRejectsOutOfRange(t *testing.T) {
	if _, err := parseFrameList("1,6", 5); err == nil {
		t.Fatal("expected error for frame beyond totalFrames")
	}
}

func TestParseFrameListRejectsNonNumeric(t *testing.T) {
	if _, err := parseFrameList("1,x", 5); err == nil {
		t.Fatal("expected error for non-numeric frame entry")
	}
}

func TestSeriesMetadataPathShardsByUIDPrefix(t *testing.T) {
	got := seriesMetadataPath("acme", "1.2.840.99999")
	want := "acme/series-meta/1./2./1.2.840.99999.json"
	if got != want {
		t.Fatalf("seriesMetadataPath = %q, want %q", got, want)
	}
}

func TestSeriesMetadataPathHandlesShortUID(t *testing.T) {
	got := seriesMetadataPath("acme", "12")
	if got != "acme/series-meta/12.json" {
		t.Fatalf("seriesMetadataPath short uid = %q", got)
	}
}

func TestFrameContentHeaderNativeFrame(t *testing.T) {
	h := frameContentHeader(dicomx.UncompressedSingle, "1.2.840.10008.1.2.1")
	if h.Get("Content-Type") != "application/octet-stream" {
		t.Fatalf("Content-Type = %q, want plain octet-stream for native frame", h.Get("Content-Type"))
	}
}

func TestFrameContentHeaderCompressedFrameCarriesTransferSyntax(t *testing.T) {
	h := frameContentHeader(dicomx.CompressedSingle, "1.2.840.10008.1.2.4.70")
	want := "application/octet-stream; transfer-syntax=1.2.840.10008.1.2.4.70"
	if h.Get("Content-Type") != want {
		t.Fatalf("Content-Type = %q, want %q", h.Get("Content-Type"), want)
	}
}
