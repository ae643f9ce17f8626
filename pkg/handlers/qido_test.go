package handlers

import (
	"testing"

	"github.com/spax-archive/spax/pkg/dbclient"
)

func TestSplitDateRangeSingleDay(t *testing.T) {
	from, to := splitDateRange("20260115")
	if from != "20260115" || to != "20260115" {
		t.Fatalf("splitDateRange single day = (%q, %q)", from, to)
	}
}

func TestSplitDateRangeRange(t *testing.T) {
	from, to := splitDateRange("20260101-20260131")
	if from != "20260101" || to != "20260131" {
		t.Fatalf("splitDateRange range = (%q, %q), want (20260101, 20260131)", from, to)
	}
}

func TestStudyToDicomJSONOmitsEmptyFields(t *testing.T) {
	row := dbclient.StudyListRow{
		Study: dbclient.Study{
			StudyUID:  "1.2.3",
			StudyDate: "20260101",
		},
	}
	o := studyToDicomJSON(row)
	if _, ok := o[tagStudyInstanceUID]; !ok {
		t.Fatal("expected StudyInstanceUID element present")
	}
	if _, ok := o[tagAccessionNumber]; ok {
		t.Fatal("expected empty AccessionNumber to be omitted")
	}
	if _, ok := o[tagPatientName]; ok {
		t.Fatal("expected empty PatientName to be omitted")
	}
}

func TestStudyToDicomJSONWrapsPersonName(t *testing.T) {
	row := dbclient.StudyListRow{
		Study:       dbclient.Study{StudyUID: "1.2.3"},
		PatientName: "DOE^JANE",
	}
	o := studyToDicomJSON(row)
	el, ok := o[tagPatientName]
	if !ok {
		t.Fatal("expected PatientName element")
	}
	if el.VR != "PN" {
		t.Fatalf("PatientName VR = %q, want PN", el.VR)
	}
	pn, ok := el.Value[0].(map[string]string)
	if !ok || pn["Alphabetic"] != "DOE^JANE" {
		t.Fatalf("PatientName value = %#v, want Alphabetic=DOE^JANE", el.Value[0])
	}
}

func TestSeriesToDicomJSONOmitsZeroInstanceCount(t *testing.T) {
	o := seriesToDicomJSON(dbclient.Series{SeriesUID: "1.2.3.4", Modality: "CT"})
	if _, ok := o[tagNumSeriesInst]; ok {
		t.Fatal("expected zero NumInstances to be omitted")
	}
	if o[tagModality].Value[0] != "CT" {
		t.Fatalf("Modality = %v, want CT", o[tagModality].Value)
	}
}

func TestParseIntDefaultFallsBackOnInvalidOrNonPositive(t *testing.T) {
	if got := parseIntDefault("", 1000); got != 1000 {
		t.Fatalf("empty input = %d, want default 1000", got)
	}
	if got := parseIntDefault("abc", 1000); got != 1000 {
		t.Fatalf("non-numeric input = %d, want default 1000", got)
	}
	if got := parseIntDefault("-5", 1000); got != 1000 {
		t.Fatalf("non-positive input = %d, want default 1000", got)
	}
	if got := parseIntDefault("50", 1000); got != 50 {
		t.Fatalf("valid input = %d, want 50", got)
	}
}
