package handlers

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/cache"
	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/dicomx"
	spaxerrors "github.com/spax-archive/spax/pkg/errors"
	"github.com/spax-archive/spax/pkg/pathtemplate"
	"github.com/spax-archive/spax/pkg/storage"
	"github.com/spax-archive/spax/pkg/volume"
)

type stowOutcome struct {
	sopInstanceUID string
	sopClassUID    string
	item           dbclient.IngestItem
	ok             bool
	failureReason  string
}

// Store implements POST /dicomweb/{tenant}/studies (STOW-RS), spec.md §6:
// parses every multipart/related part as one DICOM file, stores and
// indexes what parses, and reports 200/202/409 depending on how many of
// the submitted instances succeeded.
func (a *API) Store(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		if a.IngestBlocked != nil && a.IngestBlocked() {
			return nil, spaxerrors.NewDiskLow("ingest is blocked: storage volumes are low on free space")
		}

		_, params, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
		if err != nil || params["boundary"] == "" {
			return nil, spaxerrors.NewInvalidDicom("missing multipart/related boundary")
		}

		tenantCode := currentTenant(c)
		vol, err := a.Volumes.ActiveWriteVolume(volume.TierHot)
		if err != nil {
			return nil, err
		}
		provider, err := a.Volumes.Provider(vol.ID)
		if err != nil {
			return nil, err
		}
		tmpl, err := a.TemplateFor(vol)
		if err != nil {
			return nil, err
		}

		reader := multipart.NewReader(c.Request.Body, params["boundary"])
		var outcomes []stowOutcome

		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, spaxerrors.NewInvalidDicom("reading multipart body: " + err.Error())
			}
			outcomes = append(outcomes, storeOnePart(c.Request.Context(), tenantCode, vol, provider, tmpl, part))
		}

		return nil, a.finishStow(c, tenantCode, outcomes)
	})
}

func storeOnePart(ctx context.Context, tenantCode string, vol volume.Volume, provider storage.Provider, tmpl *pathtemplate.Template, part *multipart.Part) stowOutcome {
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		return stowOutcome{failureReason: "read part: " + err.Error()}
	}

	meta, err := dicomx.ParseHeader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return stowOutcome{failureReason: err.Error()}
	}

	path := tmpl.Resolve(tenantCode, pathtemplate.Context{Tags: meta.TagLookup, Now: time.Now()})
	if err := provider.Write(ctx, path, bytes.NewReader(data), int64(len(data))); err != nil {
		return stowOutcome{sopInstanceUID: meta.SOPInstanceUID, sopClassUID: meta.SOPClassUID, failureReason: "store: " + err.Error()}
	}

	return stowOutcome{
		sopInstanceUID: meta.SOPInstanceUID,
		sopClassUID:    meta.SOPClassUID,
		ok:             true,
		item: dbclient.IngestItem{
			Metadata:    meta,
			VolumeID:    vol.ID,
			StoragePath: path,
			FileSize:    int64(len(data)),
		},
	}
}

// finishStow commits every successfully stored part as one bulk-upsert
// batch, evicts affected caches, and renders the PS3.18 DICOM-JSON
// response spec.md §6 requires.
func (a *API) finishStow(c *gin.Context, tenantCode string, outcomes []stowOutcome) error {
	ctx := c.Request.Context()

	var items []dbclient.IngestItem
	for _, o := range outcomes {
		if o.ok {
			items = append(items, o.item)
		}
	}

	if len(items) > 0 {
		repo, err := a.Repo(ctx, tenantCode)
		if err != nil {
			return err
		}
		defer closeRepo(repo)
		result, err := repo.BulkUpsert(ctx, items)
		if err != nil {
			return err
		}
		a.evictStowAffected(ctx, tenantCode, result)
	}

	body, status := stowResponse(outcomes)
	c.Header("Content-Type", dicomJSONContentType)
	c.JSON(status, body)
	return nil
}

func (a *API) evictStowAffected(ctx context.Context, tenantCode string, result *dbclient.BulkUpsertResult) {
	seenStudy := make(map[string]bool)
	for _, s := range result.AffectedSeries {
		if err := a.Cache.Evict(ctx, cache.InstanceLocations, tenantCode, s.SeriesUID); err != nil {
			klog.ErrorS(err, "stow: evict instance-locations failed", "tenant", tenantCode, "seriesUid", s.SeriesUID)
		}
		if err := a.Cache.Evict(ctx, cache.SeriesMetadataLookup, tenantCode, s.SeriesUID); err != nil {
			klog.ErrorS(err, "stow: evict series-metadata-lookup failed", "tenant", tenantCode, "seriesUid", s.SeriesUID)
		}
		if !seenStudy[s.StudyUID] {
			seenStudy[s.StudyUID] = true
			if err := a.Cache.Evict(ctx, cache.SeriesByStudy, tenantCode, s.StudyUID); err != nil {
				klog.ErrorS(err, "stow: evict series-by-study failed", "tenant", tenantCode, "studyUid", s.StudyUID)
			}
		}
	}
}

func stowResponse(outcomes []stowOutcome) (dicomObject, int) {
	var referenced, failed []interface{}
	for _, o := range outcomes {
		if o.ok {
			item := dicomObject{}
			item.str(tagSOPClassUID, "UI", o.sopClassUID)
			item.str(tagSOPInstanceUID, "UI", o.sopInstanceUID)
			referenced = append(referenced, item)
			continue
		}
		item := dicomObject{}
		item.str(tagSOPClassUID, "UI", o.sopClassUID)
		item.str(tagSOPInstanceUID, "UI", o.sopInstanceUID)
		item["00081197"] = element{VR: "LO", Value: []interface{}{o.failureReason}}
		failed = append(failed, item)
	}

	body := dicomObject{}
	if len(referenced) > 0 {
		body["00081199"] = element{VR: "SQ", Value: referenced}
	}
	if len(failed) > 0 {
		body["00081198"] = element{VR: "SQ", Value: failed}
	}

	switch {
	case len(outcomes) == 0 || len(referenced) == 0:
		return body, http.StatusConflict
	case len(failed) > 0:
		return body, http.StatusAccepted
	default:
		return body, http.StatusOK
	}
}
