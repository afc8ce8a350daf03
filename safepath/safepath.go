// Package safepath confines caller-supplied file paths to a root directory
// and bounds how much of a file is read.
package safepath

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path resolves outside its root.
var ErrOutsideRoot = errors.New("safepath: path escapes root")

// ErrTooLarge is returned when a file exceeds the read limit.
var ErrTooLarge = errors.New("safepath: file too large")

// Resolve returns the cleaned absolute form of p. Relative paths are taken
// from root. With an empty root any path is accepted; otherwise the result
// must be root itself or lie under it, both before and after symbolic
// links are followed.
func Resolve(root, p string) (string, error) {
	if p == "" {
		return "", errors.New("safepath: empty path")
	}
	if root == "" {
		return filepath.Abs(p)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if !within(root, p) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}

	realRoot, err := realPath(root)
	if err != nil {
		return "", err
	}
	real, err := realPath(p)
	if err != nil {
		return "", err
	}
	if !within(realRoot, real) {
		return "", fmt.Errorf("%w: %s links to %s", ErrOutsideRoot, p, real)
	}
	return p, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// realPath follows symbolic links in the longest existing prefix of p and
// appends the part that does not exist yet. A dangling link is refused.
func realPath(p string) (string, error) {
	rest := ""
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(real, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			return "", fmt.Errorf("%w: dangling link %s", ErrOutsideRoot, cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

// ReadAll reads at most max bytes from r. A non-positive max means no
// limit.
func ReadAll(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, max)
	}
	return data, nil
}

// ReadFile resolves p under root and reads at most max bytes of it.
func ReadFile(root, p string, max int64) ([]byte, error) {
	path, err := Resolve(root, p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f, max)
}
