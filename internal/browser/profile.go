package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrProfileUnavailable means the real browser profile does not exist.
// It downgrades a session to the fallback path; it is not a failure.
var ErrProfileUnavailable = errors.New("real browser profile not found")

// lockArtifacts are files a running Chrome holds to claim its user data
// dir. Copying them would make the copy look in use.
var lockArtifacts = map[string]bool{
	"SingletonLock":   true,
	"SingletonSocket": true,
	"SingletonCookie": true,
	"lockfile":        true,
}

// ProfileIsolator copies a Chrome user data dir so a session can use the
// user's logins without touching, or contending for, the original.
type ProfileIsolator struct {
	Source  string
	TempDir string // parent for copies; empty means os.TempDir
	Workers int    // parallel file copies; zero means GOMAXPROCS
}

// IsolatedProfile is a private copy of the real profile owned by one session.
type IsolatedProfile struct {
	Dir    string
	Source string
	Files  int64
	Bytes  int64
}

// Available reports whether Source exists and is a directory.
func (p *ProfileIsolator) Available() bool {
	if p.Source == "" {
		return false
	}
	info, err := os.Stat(p.Source)
	return err == nil && info.IsDir()
}

// Isolate copies the whole source tree into a fresh temporary directory.
// On failure nothing is left behind.
func (p *ProfileIsolator) Isolate(ctx context.Context) (*IsolatedProfile, error) {
	if !p.Available() {
		return nil, fmt.Errorf("%w: %s", ErrProfileUnavailable, p.Source)
	}

	dir, err := os.MkdirTemp(p.TempDir, "revapi-profile-")
	if err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}

	ip := &IsolatedProfile{Dir: dir, Source: p.Source}
	if err := p.copyTree(ctx, ip); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to copy profile: %w", err)
	}
	return ip, nil
}

func (p *ProfileIsolator) copyTree(ctx context.Context, ip *IsolatedProfile) error {
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var files, size atomic.Int64
	walkErr := filepath.WalkDir(p.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Chrome deletes temp files while running
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}

		rel, err := filepath.Rel(p.Source, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(ip.Dir, rel)

		if d.IsDir() {
			return os.MkdirAll(dst, 0o700)
		}
		if lockArtifacts[d.Name()] || !d.Type().IsRegular() {
			return nil
		}

		g.Go(func() error {
			n, err := copyFile(path, dst)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return fmt.Errorf("%s: %w", rel, err)
			}
			files.Add(1)
			size.Add(n)
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}
	ip.Files = files.Load()
	ip.Bytes = size.Load()
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Remove deletes the copy. Callers log the error and carry on.
func (ip *IsolatedProfile) Remove() error {
	if ip == nil || ip.Dir == "" {
		return nil
	}
	return os.RemoveAll(ip.Dir)
}
