package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/spax-archive/spax/pkg/tenant"
)

// Router wires every route named in spec.md §6 onto engine: the tenant
// middleware runs first so every handler can read the resolved tenant
// code off the request context, then the admin group is additionally
// gated behind Authorize.
func (a *API) Router(engine *gin.Engine, adminToken string) {
	engine.Use(tenant.Middleware())

	v1 := engine.Group("/api/v1")
	v1.POST("/:tenant/ingest", a.Ingest)
	v1.POST("/transfer/commit", a.TransferCommit)

	admin := v1.Group("/admin")
	admin.Use(Authorize(adminToken))
	admin.POST("/volumes/reload", a.ReloadVolumes)
	admin.POST("/lifecycle-rules/:ruleID/run", a.RunLifecycleRule)
	admin.POST("/migration-tasks/:taskID/requeue", a.RequeueMigrationTask)

	// Volumes, lifecycle rules, and migration tasks are shared-schema
	// concepts (spec.md §3) with no tenant dimension, so the admin
	// surface is global-only; no /api/v1/{tenant}/admin/... mirror.

	dicomweb := engine.Group("/dicomweb/:tenant")
	dicomweb.GET("/studies", a.ListStudies)
	dicomweb.POST("/studies", a.Store)
	dicomweb.GET("/studies/:studyUID", a.GetStudy)
	dicomweb.GET("/studies/:studyUID/series", a.ListSeries)
	dicomweb.GET("/studies/:studyUID/series/:seriesUID", a.GetSeries)
	dicomweb.GET("/studies/:studyUID/series/:seriesUID/metadata", a.GetSeriesMetadata)
	dicomweb.GET("/studies/:studyUID/series/:seriesUID/instances", a.ListInstances)
	dicomweb.GET("/studies/:studyUID/series/:seriesUID/instances/:instanceUID", a.GetInstance)
	dicomweb.GET("/studies/:studyUID/series/:seriesUID/instances/:instanceUID/frames/:frameList", a.GetFrames)
}
