package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
)

// LocalProvider is a rooted directory provider. Any resolved path that
// does not descend from root is refused with a security error
// (path-traversal rejection, spec.md §4.1).
type LocalProvider struct {
	root string
}

func NewLocalProvider(root string) (*LocalProvider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve local root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create local root %q: %w", abs, err)
	}
	return &LocalProvider{root: abs}, nil
}

// resolve joins relPath onto root and rejects any result that escapes it.
func (p *LocalProvider) resolve(relPath string) (string, error) {
	full := filepath.Join(p.root, relPath)
	if full != p.root && !strings.HasPrefix(full, p.root+string(filepath.Separator)) {
		return "", spaxerrors.NewSecurityViolation(fmt.Sprintf("path %q escapes storage root", relPath))
	}
	return full, nil
}

func (p *LocalProvider) Write(_ context.Context, path string, stream io.Reader, _ int64) error {
	full, err := p.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return spaxerrors.NewStorageUnavailable(err)
	}
	tmp := full + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return spaxerrors.NewStorageUnavailable(err)
	}
	if _, err := io.Copy(f, stream); err != nil {
		f.Close()
		os.Remove(tmp)
		return spaxerrors.NewStorageUnavailable(err)
	}
	if err := f.Close(); err != nil {
		return spaxerrors.NewStorageUnavailable(err)
	}
	// rename is the idempotent-overwrite step: a resend lands the same
	// bytes at the same path without a visible partial-write window.
	if err := os.Rename(tmp, full); err != nil {
		return spaxerrors.NewStorageUnavailable(err)
	}
	return nil
}

func (p *LocalProvider) Read(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, spaxerrors.NewNotFound(fmt.Sprintf("object %q not found", path))
		}
		return nil, spaxerrors.NewStorageUnavailable(err)
	}
	return f, nil
}

func (p *LocalProvider) Delete(_ context.Context, path string) error {
	full, err := p.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return spaxerrors.NewStorageUnavailable(err)
	}
	return nil
}

func (p *LocalProvider) Exists(_ context.Context, path string) (bool, error) {
	full, err := p.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, spaxerrors.NewStorageUnavailable(err)
}

func (p *LocalProvider) Size(_ context.Context, path string) (int64, error) {
	full, err := p.resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, spaxerrors.NewNotFound(fmt.Sprintf("object %q not found", path))
		}
		return 0, spaxerrors.NewStorageUnavailable(err)
	}
	return info.Size(), nil
}

func (p *LocalProvider) CopyFrom(ctx context.Context, src Provider, srcPath, dstPath string) error {
	if srcLocal, ok := src.(*LocalProvider); ok {
		srcFull, err := srcLocal.resolve(srcPath)
		if err != nil {
			return err
		}
		dstFull, err := p.resolve(dstPath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dstFull), 0o755); err != nil {
			return spaxerrors.NewStorageUnavailable(err)
		}
		in, err := os.Open(srcFull)
		if err != nil {
			return spaxerrors.NewStorageUnavailable(err)
		}
		defer in.Close()
		tmp := dstFull + ".tmp"
		out, err := os.Create(tmp)
		if err != nil {
			return spaxerrors.NewStorageUnavailable(err)
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			os.Remove(tmp)
			return spaxerrors.NewStorageUnavailable(err)
		}
		out.Close()
		return os.Rename(tmp, dstFull)
	}
	return defaultCopy(ctx, p, src, srcPath, dstPath)
}

// AvailableBytes reports free space on the filesystem backing root,
// used by the disk monitor (spec.md §5) and volume manager write-volume
// selection (spec.md §4.2).
func (p *LocalProvider) AvailableBytes() (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(p.root, &stat); err != nil {
		return 0, fmt.Errorf("storage: statfs %s: %w", p.root, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

func (p *LocalProvider) TotalBytes() (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(p.root, &stat); err != nil {
		return 0, fmt.Errorf("storage: statfs %s: %w", p.root, err)
	}
	return int64(stat.Blocks) * int64(stat.Bsize), nil
}
