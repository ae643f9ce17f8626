package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
)

// ReloadVolumes implements the one admin operation the volume registry
// needs exposed over HTTP (spec.md §4.2, SPEC_FULL.md §12): re-read the
// storage_volume table and atomically swap in the new snapshot.
func (a *API) ReloadVolumes(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		if err := a.Volumes.Reload(c.Request.Context()); err != nil {
			return nil, spaxerrors.NewInternal("volume reload failed", err)
		}
		return gin.H{"status": "reloaded"}, nil
	})
}

// RunLifecycleRule implements the manual-run trigger named in spec.md
// §4.12: evaluate one rule out of band from the nightly schedule.
func (a *API) RunLifecycleRule(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ruleID, err := pathInt64(c, "ruleID")
		if err != nil {
			return nil, err
		}
		if a.Lifecycle == nil {
			return nil, spaxerrors.NewInternal("lifecycle engine not wired", nil)
		}
		if err := a.Lifecycle.RunRule(c.Request.Context(), ruleID); err != nil {
			return nil, err
		}
		return gin.H{"status": "triggered", "ruleId": ruleID}, nil
	})
}

// RequeueMigrationTask implements "admin can re-queue" (spec.md §4.12's
// migration worker failure policy): a FAILED migration_task row is reset
// to PENDING for the worker to pick up again.
func (a *API) RequeueMigrationTask(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		taskID, err := pathInt64(c, "taskID")
		if err != nil {
			return nil, err
		}
		if a.Migrations == nil {
			return nil, spaxerrors.NewInternal("lifecycle engine not wired", nil)
		}
		if err := a.Migrations.Requeue(c.Request.Context(), taskID); err != nil {
			return nil, err
		}
		return gin.H{"status": "requeued", "taskId": taskID}, nil
	})
}

func pathInt64(c *gin.Context, name string) (int64, error) {
	n, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, spaxerrors.New(spaxerrors.CodeNotFound, "invalid "+name)
	}
	return n, nil
}
