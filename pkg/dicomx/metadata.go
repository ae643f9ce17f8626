// Package dicomx wraps github.com/suyashkumar/dicom with the two
// operations spec.md §4.4 requires: header parsing into a compact
// Metadata projection, and single-pass frame extraction from the
// encapsulated or native pixel-data element.
package dicomx

import (
	"fmt"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
)

// Metadata is the compact projection parseHeader produces: the fields the
// ingest pipeline indexes plus a handle to the full attribute set so the
// path resolver can look up arbitrary tags.
type Metadata struct {
	PatientID            string
	PatientIDProvisional bool
	PatientName          string
	PatientBirthDate     string
	PatientSex           string

	StudyUID           string
	StudyDate          string
	StudyTime          string
	StudyDescription   string
	AccessionNumber    string
	ReferringPhysician string

	SeriesUID         string
	Modality          string
	SeriesNumber      string
	SeriesDescription string
	BodyPartExamined  string
	InstitutionName   string
	StationName       string
	SendingAET        string

	SOPInstanceUID    string
	SOPClassUID       string
	InstanceNumber    string
	NumberOfFrames    int
	TransferSyntaxUID string

	// Tags exposes every decoded attribute value keyed by 8-hex-digit
	// group+element, for pathtemplate.TagLookup.
	Tags map[string]string
}

// TagLookup adapts Metadata to pathtemplate.TagLookup.
func (m *Metadata) TagLookup(tag string) (string, bool) {
	v, ok := m.Tags[tag]
	return v, ok
}

const (
	tagPatientID        = "00100020"
	tagPatientName      = "00100010"
	tagPatientBirthDate = "00100030"
	tagPatientSex       = "00100040"

	tagStudyUID           = "0020000D"
	tagStudyDate          = "00080020"
	tagStudyTime          = "00080030"
	tagStudyDescription   = "00081030"
	tagAccessionNumber    = "00080050"
	tagReferringPhysician = "00080090"

	tagSeriesUID         = "0020000E"
	tagModality          = "00080060"
	tagSeriesNumber      = "00200011"
	tagSeriesDescription = "0008103E"
	tagBodyPartExamined  = "00180015"
	tagInstitutionName   = "00080080"
	tagStationName       = "00081010"
	tagSendingAET        = "00020016"

	tagSOPInstanceUID    = "00080018"
	tagSOPClassUID       = "00080016"
	tagInstanceNumber    = "00200013"
	tagNumberOfFrames    = "00280008"
	tagTransferSyntaxUID = "00020010"

	tagPixelData = "7FE00010"
)

func newInvalidDicom(format string, args ...interface{}) error {
	return spaxerrors.NewInvalidDicom(fmt.Sprintf(format, args...))
}
