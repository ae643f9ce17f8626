package handlers

import (
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
	"github.com/spax-archive/spax/pkg/tenant"
)

type ingestResponse struct {
	Received int `json:"received"`
	Queued   int `json:"queued"`
}

// Ingest implements POST /api/v1/{tenant}/ingest (spec.md §6): accepts
// one or more files under the multipart form field "files", lands each
// on IngestLandingDir, and publishes one queue message per file. A
// disk-low ingestBlocked flag short-circuits before anything is written
// (spec.md §5).
func (a *API) Ingest(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		if a.IngestBlocked != nil && a.IngestBlocked() {
			return nil, spaxerrors.NewDiskLow("ingest is blocked: storage volumes are low on free space")
		}

		form, err := c.MultipartForm()
		if err != nil {
			return nil, spaxerrors.NewInvalidDicom("invalid multipart/form-data body: " + err.Error())
		}
		files := form.File["files"]

		tenantCode := currentTenant(c)
		now := time.Now()
		resp := ingestResponse{Received: len(files)}
		for _, fh := range files {
			path, err := a.landUpload(tenantCode, fh)
			if err != nil {
				klog.ErrorS(err, "ingest: landing upload failed", "tenant", tenantCode, "filename", fh.Filename)
				continue
			}
			if err := a.Queue.Publish(c.Request.Context(), tenantCode, path, now); err != nil {
				klog.ErrorS(err, "ingest: publish failed", "tenant", tenantCode, "filePath", path)
				continue
			}
			resp.Queued++
		}
		return resp, nil
	})
}

func (a *API) landUpload(tenantCode string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dir := filepath.Join(a.IngestLandingDir, tenantCode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, uuid.NewString()+filepath.Ext(fh.Filename))

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", err
	}
	return dest, nil
}

type transferCommitRequest struct {
	TenantCode string   `json:"tenantCode"`
	Files      []string `json:"files"`
}

// TransferCommit implements POST /api/v1/transfer/commit (spec.md §6):
// files named by absolute path already landed on a shared volume out of
// band (e.g. a filesystem-level transfer), so this endpoint only
// publishes the queue entries.
func (a *API) TransferCommit(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		if a.IngestBlocked != nil && a.IngestBlocked() {
			return nil, spaxerrors.NewDiskLow("ingest is blocked: storage volumes are low on free space")
		}

		var req transferCommitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, spaxerrors.NewInvalidDicom("invalid request body: " + err.Error())
		}
		if err := tenant.Validate(req.TenantCode); err != nil {
			return nil, err
		}

		now := time.Now()
		resp := ingestResponse{Received: len(req.Files)}
		for _, path := range req.Files {
			if err := a.Queue.Publish(c.Request.Context(), req.TenantCode, path, now); err != nil {
				klog.ErrorS(err, "transfer commit: publish failed", "tenant", req.TenantCode, "filePath", path)
				continue
			}
			resp.Queued++
		}
		return resp, nil
	})
}
