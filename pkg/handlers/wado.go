package handlers

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/cache"
	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/dicomx"
	spaxerrors "github.com/spax-archive/spax/pkg/errors"
	"github.com/spax-archive/spax/pkg/volume"
)

const dicomContentType = "application/dicom"

// locationsForSeries resolves a series' instance locations, preferring
// the instance-locations cache (spec.md §4.11) and falling back to the
// database on a miss.
func (a *API) locationsForSeries(ctx context.Context, tenantCode, seriesUID string, repo Repository) (dbclient.SeriesRef, []dbclient.InstanceLocation, error) {
	var cached struct {
		Ref       dbclient.SeriesRef
		Locations []dbclient.InstanceLocation
	}
	ok, err := a.Cache.Get(ctx, cache.InstanceLocations, &cached, tenantCode, seriesUID)
	if err == nil && ok {
		return cached.Ref, cached.Locations, nil
	}

	ref, locs, err := repo.LoadInstanceLocations(ctx, seriesUID)
	if err != nil {
		return dbclient.SeriesRef{}, nil, err
	}
	cached.Ref, cached.Locations = ref, locs
	_ = a.Cache.Set(ctx, cache.InstanceLocations, cached, tenantCode, seriesUID)
	return ref, locs, nil
}

// GetInstance implements
// GET /dicomweb/{tenant}/studies/{uid}/series/{uid}/instances/{uid}.
func (a *API) GetInstance(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		tenantCode := currentTenant(c)
		repo, err := a.Repo(c.Request.Context(), tenantCode)
		if err != nil {
			return nil, err
		}
		defer closeRepo(repo)

		_, locs, err := a.locationsForSeries(c.Request.Context(), tenantCode, c.Param("seriesUID"), repo)
		if err != nil {
			return nil, err
		}
		loc, ok := findLocation(locs, c.Param("instanceUID"))
		if !ok {
			return nil, spaxerrors.NewNotFound("instance " + c.Param("instanceUID"))
		}

		provider, err := a.Volumes.Provider(loc.VolumeID)
		if err != nil {
			return nil, err
		}
		rc, err := provider.Read(c.Request.Context(), loc.Path)
		if err != nil {
			return nil, spaxerrors.NewStorageUnavailable(err)
		}
		defer rc.Close()

		c.Status(http.StatusOK)
		c.Header("Content-Type", dicomContentType)
		if _, err := io.Copy(c.Writer, rc); err != nil {
			return nil, spaxerrors.NewStorageUnavailable(err)
		}
		return nil, nil
	})
}

// GetSeries implements GET /dicomweb/{tenant}/studies/{uid}/series/{uid}
// (WADO-RS series retrieve): every instance streamed as one
// multipart/related body, one part per instance, never buffered whole.
func (a *API) GetSeries(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		tenantCode := currentTenant(c)
		repo, err := a.Repo(c.Request.Context(), tenantCode)
		if err != nil {
			return nil, err
		}
		defer closeRepo(repo)

		_, locs, err := a.locationsForSeries(c.Request.Context(), tenantCode, c.Param("seriesUID"), repo)
		if err != nil {
			return nil, err
		}
		if len(locs) == 0 {
			return nil, spaxerrors.NewNotFound("series " + c.Param("seriesUID"))
		}
		return nil, a.streamMultipartInstances(c, locs)
	})
}

// GetStudy implements GET /dicomweb/{tenant}/studies/{uid} (WADO-RS study
// retrieve): every instance of every series under the study.
func (a *API) GetStudy(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		tenantCode := currentTenant(c)
		repo, err := a.Repo(c.Request.Context(), tenantCode)
		if err != nil {
			return nil, err
		}
		defer closeRepo(repo)

		seriesRows, err := repo.QuerySeriesForStudy(c.Request.Context(), c.Param("studyUID"))
		if err != nil {
			return nil, err
		}

		var all []dbclient.InstanceLocation
		for _, s := range seriesRows {
			_, locs, err := a.locationsForSeries(c.Request.Context(), tenantCode, s.SeriesUID, repo)
			if err != nil {
				return nil, err
			}
			all = append(all, locs...)
		}
		if len(all) == 0 {
			return nil, spaxerrors.NewNotFound("study " + c.Param("studyUID"))
		}
		return nil, a.streamMultipartInstances(c, all)
	})
}

func (a *API) streamMultipartInstances(c *gin.Context, locs []dbclient.InstanceLocation) error {
	mw := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", fmt.Sprintf(`multipart/related; type=%q; boundary=%s`, dicomContentType, mw.Boundary()))
	c.Status(http.StatusOK)

	for _, loc := range locs {
		provider, err := a.Volumes.Provider(loc.VolumeID)
		if err != nil {
			return err
		}
		rc, err := provider.Read(c.Request.Context(), loc.Path)
		if err != nil {
			return spaxerrors.NewStorageUnavailable(err)
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": []string{dicomContentType}})
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(part, rc)
		rc.Close()
		if copyErr != nil {
			return spaxerrors.NewStorageUnavailable(copyErr)
		}
	}
	return mw.Close()
}

// GetSeriesMetadata implements
// GET /dicomweb/{tenant}/studies/{uid}/series/{uid}/metadata, per the
// fallback rule in spec.md §4.10: serve the cached JSON file when one is
// recorded; otherwise build one on demand, persisting it first for
// object-store volumes (to avoid N per-object GETs on every subsequent
// request) and only scheduling the rebuild for local volumes.
func (a *API) GetSeriesMetadata(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		tenantCode := currentTenant(c)
		repo, err := a.Repo(c.Request.Context(), tenantCode)
		if err != nil {
			return nil, err
		}
		defer closeRepo(repo)

		ref, locs, err := a.locationsForSeries(c.Request.Context(), tenantCode, c.Param("seriesUID"), repo)
		if err != nil {
			return nil, err
		}
		if len(locs) == 0 {
			return nil, spaxerrors.NewNotFound("series " + c.Param("seriesUID"))
		}

		info, err := repo.LoadSeriesMetadataInfo(c.Request.Context(), ref.SeriesID)
		if err != nil {
			return nil, err
		}
		if info.Present {
			provider, err := a.Volumes.Provider(info.MetadataVolumeID)
			if err != nil {
				return nil, err
			}
			rc, err := provider.Read(c.Request.Context(), info.MetadataPath)
			if err != nil {
				return nil, spaxerrors.NewStorageUnavailable(err)
			}
			defer rc.Close()
			c.Header("Content-Type", dicomJSONContentType)
			c.Status(http.StatusOK)
			_, err = io.Copy(c.Writer, rc)
			return nil, err
		}

		built, err := a.buildSeriesMetadata(c.Request.Context(), locs)
		if err != nil {
			return nil, err
		}

		vol, volKnown := a.Volumes.Volume(locs[0].VolumeID)
		if volKnown && vol.ProviderKind == volume.ProviderKindObjectStore {
			// Object-store volumes pay the N-GET cost once, synchronously,
			// so every subsequent request serves from the persisted path.
			if err := a.persistSeriesMetadata(c.Request.Context(), repo, tenantCode, ref, locs[0].VolumeID, built); err == nil {
				c.Header("Content-Type", dicomJSONContentType)
				c.Status(http.StatusOK)
				_, err := c.Writer.Write(built)
				return nil, err
			}
		} else if volKnown {
			go func() {
				if err := a.persistSeriesMetadata(context.Background(), repo, tenantCode, ref, locs[0].VolumeID, built); err != nil {
					klog.ErrorS(err, "wado: async series metadata rebuild failed", "tenant", tenantCode, "seriesUid", ref.SeriesUID)
				}
			}()
		}

		c.Header("Content-Type", dicomJSONContentType)
		c.Status(http.StatusOK)
		_, err = c.Writer.Write(built)
		return nil, err
	})
}

func (a *API) persistSeriesMetadata(ctx context.Context, repo Repository, tenantCode string, ref dbclient.SeriesRef, volumeID int64, built []byte) error {
	provider, err := a.Volumes.Provider(volumeID)
	if err != nil {
		return err
	}
	path := seriesMetadataPath(tenantCode, ref.SeriesUID)
	if err := provider.Write(ctx, path, strings.NewReader(string(built)), int64(len(built))); err != nil {
		return spaxerrors.NewStorageUnavailable(err)
	}
	return repo.SetSeriesMetadataInfo(ctx, ref.SeriesID, volumeID, path)
}

func seriesMetadataPath(tenantCode, seriesUID string) string {
	if len(seriesUID) < 4 {
		return tenantCode + "/series-meta/" + seriesUID + ".json"
	}
	return fmt.Sprintf("%s/series-meta/%s/%s/%s.json", tenantCode, seriesUID[0:2], seriesUID[2:4], seriesUID)
}

// buildSeriesMetadata reads every instance's header directly to build the
// per-series DICOM-JSON array, pixel data omitted.
func (a *API) buildSeriesMetadata(ctx context.Context, locs []dbclient.InstanceLocation) ([]byte, error) {
	objs := make([]dicomObject, 0, len(locs))
	for _, loc := range locs {
		provider, err := a.Volumes.Provider(loc.VolumeID)
		if err != nil {
			return nil, err
		}
		size, err := provider.Size(ctx, loc.Path)
		if err != nil {
			return nil, spaxerrors.NewStorageUnavailable(err)
		}
		rc, err := provider.Read(ctx, loc.Path)
		if err != nil {
			return nil, spaxerrors.NewStorageUnavailable(err)
		}
		meta, err := dicomx.ParseHeader(rc, size)
		rc.Close()
		if err != nil {
			return nil, err
		}
		o := dicomObject{}
		o.str(tagSOPInstanceUID, "UI", meta.SOPInstanceUID)
		o.str(tagSOPClassUID, "UI", meta.SOPClassUID)
		o.str(tagInstanceNumber, "IS", meta.InstanceNumber)
		objs = append(objs, o)
	}
	return marshalDicomJSON(objs)
}

// GetFrames implements
// GET /dicomweb/{tenant}/.../series/{uid}/frames/{frameList}. frameList
// is a comma-separated, 1-based list; each frame is read from a freshly
// opened stream and written as one multipart part, native transfer
// syntax, never transcoded (spec.md Non-goals).
func (a *API) GetFrames(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		tenantCode := currentTenant(c)
		repo, err := a.Repo(c.Request.Context(), tenantCode)
		if err != nil {
			return nil, err
		}
		defer closeRepo(repo)

		_, locs, err := a.locationsForSeries(c.Request.Context(), tenantCode, c.Param("seriesUID"), repo)
		if err != nil {
			return nil, err
		}
		loc, ok := findLocation(locs, c.Param("instanceUID"))
		if !ok {
			return nil, spaxerrors.NewNotFound("instance " + c.Param("instanceUID"))
		}

		frames, err := parseFrameList(c.Param("frameList"), loc.NumFrames)
		if err != nil {
			return nil, err
		}

		provider, err := a.Volumes.Provider(loc.VolumeID)
		if err != nil {
			return nil, err
		}
		kind := dicomx.ClassifyFrameKind(loc.TransferSyntaxUID, loc.NumFrames)

		mw := multipart.NewWriter(c.Writer)
		c.Header("Content-Type", fmt.Sprintf(`multipart/related; type="application/octet-stream"; boundary=%s`, mw.Boundary()))
		c.Status(http.StatusOK)

		for _, frameNumber := range frames {
			rc, err := provider.Read(c.Request.Context(), loc.Path)
			if err != nil {
				return nil, spaxerrors.NewStorageUnavailable(err)
			}
			part, err := mw.CreatePart(frameContentHeader(kind, loc.TransferSyntaxUID))
			if err != nil {
				rc.Close()
				return nil, err
			}
			err = dicomx.ExtractFrame(rc, frameNumber, kind, loc.NumFrames, part)
			rc.Close()
			if err != nil {
				return nil, err
			}
		}
		return nil, mw.Close()
	})
}

func frameContentHeader(kind dicomx.FrameKind, tsUID string) textproto.MIMEHeader {
	ct := "application/octet-stream"
	if kind == dicomx.CompressedSingle || kind == dicomx.CompressedMulti || kind == dicomx.Video {
		ct = fmt.Sprintf("application/octet-stream; transfer-syntax=%s", tsUID)
	}
	return textproto.MIMEHeader{"Content-Type": []string{ct}}
}

func findLocation(locs []dbclient.InstanceLocation, sopInstanceUID string) (dbclient.InstanceLocation, bool) {
	for _, l := range locs {
		if l.SOPInstanceUID == sopInstanceUID {
			return l, true
		}
	}
	return dbclient.InstanceLocation{}, false
}

// parseFrameList parses a comma-separated 1-based frame list, sorts it
// ascending, and validates 1 <= min <= max <= totalFrames (spec.md
// §4.10).
func parseFrameList(raw string, totalFrames int) ([]int, error) {
	parts := strings.Split(raw, ",")
	frames := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, spaxerrors.NewBadFrameList(raw)
		}
		frames = append(frames, n)
	}
	sort.Ints(frames)
	if len(frames) == 0 || frames[0] < 1 || frames[len(frames)-1] > totalFrames {
		return nil, spaxerrors.NewFrameOutOfRange(frames[len(frames)-1], totalFrames)
	}
	return frames, nil
}
