package dicomx

import (
	"fmt"
	"io"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ParseHeader reads the DICOM preamble and dataset with pixel data
// excluded and returns the compact Metadata projection spec.md §4.4
// requires. size is the total stream length (suyashkumar/dicom needs it
// up front to bound its reader).
func ParseHeader(stream io.Reader, size int64) (*Metadata, error) {
	dataset, err := dicom.Parse(stream, size, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, newInvalidDicom("parse dataset: %v", err)
	}

	tags := make(map[string]string, len(dataset.Elements))
	for _, el := range dataset.Elements {
		tags[tagKey(el.Tag)] = firstString(el)
	}

	m := &Metadata{Tags: tags}

	m.SOPInstanceUID = tags[tagSOPInstanceUID]
	m.StudyUID = tags[tagStudyUID]
	m.SeriesUID = tags[tagSeriesUID]
	if m.SOPInstanceUID == "" {
		return nil, newInvalidDicom("missing mandatory attribute SOPInstanceUID (%s)", tagSOPInstanceUID)
	}
	if m.StudyUID == "" {
		return nil, newInvalidDicom("missing mandatory attribute StudyInstanceUID (%s)", tagStudyUID)
	}
	if m.SeriesUID == "" {
		return nil, newInvalidDicom("missing mandatory attribute SeriesInstanceUID (%s)", tagSeriesUID)
	}

	m.PatientID = tags[tagPatientID]
	if m.PatientID == "" {
		uid := m.StudyUID
		if len(uid) > 16 {
			uid = uid[:16]
		}
		m.PatientID = "NOPID_" + uid
		m.PatientIDProvisional = true
	}
	m.PatientName = tags[tagPatientName]
	m.PatientBirthDate = tags[tagPatientBirthDate]
	m.PatientSex = tags[tagPatientSex]

	m.StudyDate = tags[tagStudyDate]
	m.StudyTime = tags[tagStudyTime]
	m.StudyDescription = tags[tagStudyDescription]
	m.AccessionNumber = tags[tagAccessionNumber]
	m.ReferringPhysician = tags[tagReferringPhysician]

	m.Modality = tags[tagModality]
	if m.Modality == "" {
		m.Modality = "OT"
	}
	m.SeriesNumber = tags[tagSeriesNumber]
	m.SeriesDescription = tags[tagSeriesDescription]
	m.BodyPartExamined = tags[tagBodyPartExamined]
	m.InstitutionName = tags[tagInstitutionName]
	m.StationName = tags[tagStationName]
	m.SendingAET = tags[tagSendingAET]

	m.SOPClassUID = tags[tagSOPClassUID]
	m.InstanceNumber = tags[tagInstanceNumber]
	m.TransferSyntaxUID = tags[tagTransferSyntaxUID]
	m.NumberOfFrames = parseIntDefault(tags[tagNumberOfFrames], 1)
	if m.NumberOfFrames < 1 {
		m.NumberOfFrames = 1
	}

	return m, nil
}

func tagKey(t tag.Tag) string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

// firstString renders an element's first value as a string for the tag
// map; the path resolver and metadata projection only ever need a single
// string per tag (spec.md §4.3's tag grammar is string-valued throughout).
func firstString(el *dicom.Element) string {
	if el == nil || el.Value == nil {
		return ""
	}
	vals := el.Value.GetValue()
	rv, ok := vals.([]string)
	if ok {
		if len(rv) == 0 {
			return ""
		}
		return rv[0]
	}
	switch v := vals.(type) {
	case []int, []int16, []int32, []uint16, []uint32:
		return fmt.Sprintf("%v", v)
	default:
		s := el.Value.String()
		return s
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return def
	}
	return n
}
