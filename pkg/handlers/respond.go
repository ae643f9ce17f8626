// Package handlers implements SPAX's HTTP surface (spec.md §6): the
// ingest upload endpoint, QIDO-RS query, WADO-RS retrieve, STOW-RS
// store, and the narrow admin surface spec.md names explicitly.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
)

// handleFunc is one route body: it returns the value to render as JSON,
// or an error that maps to an HTTP status via AbortWithAPIError.
type handleFunc func(*gin.Context) (interface{}, error)

// handle runs fn and renders its result, matching the teacher's
// handle(c, fn) wrapper: a []byte or string response is written as-is,
// anything else is JSON-encoded, and the status code already set on the
// writer (e.g. by a streaming handler) wins over the 200 default.
func handle(c *gin.Context, fn handleFunc) {
	response, err := fn(c)
	if err != nil {
		AbortWithAPIError(c, err)
		return
	}
	if c.Writer.Written() {
		return
	}

	code := http.StatusOK
	if c.Writer.Status() > 0 {
		code = c.Writer.Status()
	}
	switch v := response.(type) {
	case nil:
		c.Status(code)
	case []byte:
		c.Data(code, "application/json", v)
	case string:
		c.Data(code, "application/json", []byte(v))
	default:
		c.JSON(code, v)
	}
}

// AbortWithAPIError renders err as {code, message} JSON at the status
// spaxerrors.Error.HTTPStatus() names, defaulting an untyped error to
// 500/internal.
func AbortWithAPIError(c *gin.Context, err error) {
	if spErr, ok := err.(*spaxerrors.Error); ok {
		c.AbortWithStatusJSON(spErr.HTTPStatus(), gin.H{"code": spErr.Code, "message": spErr.Message})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": spaxerrors.CodeInternal, "message": err.Error()})
}
