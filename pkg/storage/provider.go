// Package storage implements the byte-level storage provider abstraction
// (spec.md §4.1): local filesystem and object-store backends, polymorphic
// over {write, read, delete, exists, size, copyFrom}.
package storage

import (
	"context"
	"io"
)

// Provider is the capability set every storage backend exposes. I/O
// failures surface wrapped in spaxerrors.CodeStorageUnavailable with the
// original cause preserved. Exceptions: LocalProvider reports a missing
// object from Read/Size as CodeNotFound and a path outside its root as
// CodeSecurityViolation; ObjectStoreProvider.Size reports any HeadObject
// failure as CodeNotFound, and its Exists reports one as false.
type Provider interface {
	// Write stores size bytes read from stream at path, overwriting any
	// existing object (idempotent overwrite).
	Write(ctx context.Context, path string, stream io.Reader, size int64) error
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Size(ctx context.Context, path string) (int64, error)
	// CopyFrom copies srcPath from src into this provider at dstPath,
	// without requiring the caller to buffer the whole object.
	CopyFrom(ctx context.Context, src Provider, srcPath, dstPath string) error
}

// DiskAware is implemented by providers that can report local filesystem
// capacity, used by the disk monitor (spec.md §5) and by the volume
// manager's active-write-volume selection (spec.md §4.2).
type DiskAware interface {
	AvailableBytes() (int64, error)
	TotalBytes() (int64, error)
}

// defaultCopy is the generic copyFrom: read the whole object from src and
// write it to the destination. Providers override this when they can do
// better (e.g. S3-to-S3 server-side copy).
func defaultCopy(ctx context.Context, dst Provider, src Provider, srcPath, dstPath string) error {
	size, err := src.Size(ctx, srcPath)
	if err != nil {
		return err
	}
	rc, err := src.Read(ctx, srcPath)
	if err != nil {
		return err
	}
	defer rc.Close()
	return dst.Write(ctx, dstPath, rc, size)
}
