package fsatomic

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// WriteFile atomically replaces path with data. It writes path+".tmp", fsyncs it,
// renames into place and fsyncs the parent directory. If the file already holds
// exactly data nothing is written. If perm is 0, 0644 is used.
func WriteFile(path string, data []byte, perm fs.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	if cur, err := os.ReadFile(path); err == nil && bytes.Equal(cur, data) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return fsyncDir(filepath.Dir(path))
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err == nil {
		return fsyncDir(filepath.Dir(path))
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ReadFirstLine returns the first line of path with surrounding whitespace trimmed.
// ok is false when the file does not exist. A stale path+".tmp" is cleaned up.
func ReadFirstLine(path string) (line string, ok bool, err error) {
	_ = os.Remove(path + ".tmp")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), true, nil
	}
	return "", true, sc.Err()
}

// WithLock acquires an exclusive advisory lock (path+".lock") for the duration of fn.
func WithLock(path string, fn func() error) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	l, err := lockExclusive(path + ".lock")
	if err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
