package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/tenant"
)

const dicomJSONContentType = "application/dicom+json"

func currentTenant(c *gin.Context) string {
	if code, ok := tenant.FromContext(c.Request.Context()); ok {
		return code
	}
	return c.Param("tenant")
}

func (a *API) repoFor(ctx context.Context, c *gin.Context) (Repository, error) {
	return a.Repo(ctx, currentTenant(c))
}

// ListStudies implements GET /dicomweb/{tenant}/studies (spec.md §4.9).
func (a *API) ListStudies(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		repo, err := a.repoFor(c.Request.Context(), c)
		if err != nil {
			return nil, err
		}
		defer closeRepo(repo)

		filter := dbclient.StudyFilter{
			PatientName:      c.Query("PatientName"),
			PatientID:        c.Query("PatientID"),
			AccessionNumber:  c.Query("AccessionNumber"),
			StudyDescription: c.Query("StudyDescription"),
			StudyUID:         c.Query("StudyInstanceUID"),
			Limit:            queryInt(c, "limit", 1000),
			Offset:           queryInt(c, "offset", 0),
		}
		if studyDate := c.Query("StudyDate"); studyDate != "" {
			filter.StudyDateFrom, filter.StudyDateTo = splitDateRange(studyDate)
		}

		rows, err := repo.QueryStudies(c.Request.Context(), filter)
		if err != nil {
			return nil, err
		}

		out := make([]dicomObject, 0, len(rows))
		ids := make([]int64, 0, len(rows))
		for _, row := range rows {
			out = append(out, studyToDicomJSON(row))
			ids = append(ids, row.ID)
		}

		go a.touchLastAccessedAsync(currentTenant(c), ids)

		c.Header("Content-Type", dicomJSONContentType)
		return out, nil
	})
}

// touchLastAccessedAsync updates last_accessed_at off the request path,
// per spec.md §4.9's "asynchronously updates last_accessed_at"; it opens
// its own repository rather than reusing the request-scoped one, since
// the request may have already returned its connection by the time this
// runs.
func (a *API) touchLastAccessedAsync(tenantCode string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	ctx := context.Background()
	repo, err := a.Repo(ctx, tenantCode)
	if err != nil {
		klog.ErrorS(err, "qido: resolve repo for last-accessed touch failed", "tenant", tenantCode)
		return
	}
	defer closeRepo(repo)
	if err := repo.TouchLastAccessed(ctx, ids); err != nil {
		klog.ErrorS(err, "qido: touch last_accessed_at failed", "tenant", tenantCode)
	}
}

// ListSeries implements GET /dicomweb/{tenant}/studies/{uid}/series.
func (a *API) ListSeries(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		repo, err := a.repoFor(c.Request.Context(), c)
		if err != nil {
			return nil, err
		}
		defer closeRepo(repo)

		rows, err := repo.QuerySeriesForStudy(c.Request.Context(), c.Param("studyUID"))
		if err != nil {
			return nil, err
		}

		out := make([]dicomObject, 0, len(rows))
		for _, row := range rows {
			out = append(out, seriesToDicomJSON(row))
		}
		c.Header("Content-Type", dicomJSONContentType)
		return out, nil
	})
}

// ListInstances implements
// GET /dicomweb/{tenant}/studies/{uid}/series/{uid}/instances.
func (a *API) ListInstances(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		repo, err := a.repoFor(c.Request.Context(), c)
		if err != nil {
			return nil, err
		}
		defer closeRepo(repo)

		rows, err := repo.QueryInstancesForSeries(c.Request.Context(), c.Param("studyUID"), c.Param("seriesUID"))
		if err != nil {
			return nil, err
		}

		out := make([]dicomObject, 0, len(rows))
		for _, row := range rows {
			out = append(out, instanceToDicomJSON(row))
		}
		c.Header("Content-Type", dicomJSONContentType)
		return out, nil
	})
}

func queryInt(c *gin.Context, name string, def int) int {
	return parseIntDefault(c.Query(name), def)
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// splitDateRange parses QIDO's StudyDate value, either a single
// YYYYMMDD or a YYYYMMDD-YYYYMMDD range (spec.md §4.9).
func splitDateRange(v string) (from, to string) {
	for i := 0; i+1 < len(v); i++ {
		if v[i] == '-' {
			return v[:i], v[i+1:]
		}
	}
	return v, v
}

func studyToDicomJSON(row dbclient.StudyListRow) dicomObject {
	o := dicomObject{}
	o.str(tagStudyInstanceUID, "UI", row.StudyUID)
	o.str(tagStudyDate, "DA", row.StudyDate)
	o.str(tagAccessionNumber, "SH", row.AccessionNumber)
	o.str(tagStudyDescription, "LO", row.Description)
	o.personName(tagReferringPhysPN, row.ReferringPhysician)
	o.personName(tagPatientName, row.PatientName)
	o.str(tagPatientID, "LO", row.RawPatientID)
	o.str(tagPatientBirthDate, "DA", row.PatientBirthDate)
	o.str(tagPatientSex, "CS", row.PatientSex)
	o.num(tagNumStudySeries, "IS", row.NumSeries)
	o.num(tagNumStudyInstances, "IS", row.NumInstances)
	return o
}

func seriesToDicomJSON(row dbclient.Series) dicomObject {
	o := dicomObject{}
	o.str(tagSeriesInstanceUID, "UI", row.SeriesUID)
	o.str(tagModality, "CS", row.Modality)
	o.num(tagNumSeriesInst, "IS", row.NumInstances)
	return o
}

func instanceToDicomJSON(row dbclient.Instance) dicomObject {
	o := dicomObject{}
	o.str(tagSOPInstanceUID, "UI", row.SOPInstanceUID)
	o.str(tagSOPClassUID, "UI", row.SOPClassUID)
	o.str(tagInstanceNumber, "IS", row.InstanceNumber)
	return o
}
