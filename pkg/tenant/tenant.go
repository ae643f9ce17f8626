// Package tenant implements the tenant router (spec.md §4.6): resolving
// the tenant identifier carried on an inbound request, validating it, and
// handing out schema-scoped database connections.
package tenant

import (
	"context"
	"fmt"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
)

// Global is the identifier used for admin requests scoped to the shared
// public schema rather than any one tenant.
const Global = ""

// HeaderName is the fallback tenant carrier when the URL has no
// {tenant} path segment.
const HeaderName = "X-Tenant-ID"

var codePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Validate rejects any tenant code that is not [a-z0-9_]+ before it ever
// reaches SQL — the search_path statement below interpolates this value
// directly, since Postgres has no placeholder form for SET search_path.
func Validate(code string) error {
	if !codePattern.MatchString(code) {
		return spaxerrors.NewInvalidTenant(code)
	}
	return nil
}

type contextKey struct{}

// WithTenant returns a context carrying code for downstream handlers and
// the database layer to read back.
func WithTenant(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, contextKey{}, code)
}

// FromContext returns the tenant code stored by WithTenant, if any.
func FromContext(ctx context.Context) (string, bool) {
	code, ok := ctx.Value(contextKey{}).(string)
	return code, ok
}

// Middleware resolves the tenant identifier from the {tenant} URL
// parameter (falling back to the X-Tenant-ID header), validates it, and
// stores it on the request context. Routes under /api/v1/admin/... that
// carry no tenant segment at all run with the Global scope.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("tenant")
		if code == "" {
			code = c.GetHeader(HeaderName)
		}
		if code == "" {
			c.Set("tenant", Global)
			ctx := WithTenant(c.Request.Context(), Global)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		if err := Validate(code); err != nil {
			status := err.HTTPStatus()
			c.AbortWithStatusJSON(status, gin.H{"code": err.Code, "message": err.Message})
			return
		}

		c.Set("tenant", code)
		ctx := WithTenant(c.Request.Context(), code)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// schemaName renders the Postgres schema for a validated tenant code.
func schemaName(code string) string {
	return "tenant_" + code
}

// Resolver checks out schema-scoped connections from a shared pool: each
// checkout issues a SET search_path statement before handing the
// connection to the caller, so every subsequent query on it resolves
// entity names to that tenant's tables first.
type Resolver struct {
	db *sqlx.DB
}

func NewResolver(db *sqlx.DB) *Resolver {
	return &Resolver{db: db}
}

// Conn returns a connection scoped to code's schema (or the public schema
// only, when code is Global). The caller owns the connection and must
// close it to return it to the pool.
func (r *Resolver) Conn(ctx context.Context, code string) (*sqlx.Conn, error) {
	if code != Global {
		if err := Validate(code); err != nil {
			return nil, err
		}
	}

	conn, err := r.db.Connx(ctx)
	if err != nil {
		return nil, spaxerrors.NewStorageUnavailable(err)
	}

	searchPath := "public"
	if code != Global {
		searchPath = fmt.Sprintf("%s, public", schemaName(code))
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", searchPath)); err != nil {
		conn.Close()
		return nil, spaxerrors.NewStorageUnavailable(err)
	}
	return conn, nil
}
