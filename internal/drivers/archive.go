package drivers

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxExtractedSize bounds the uncompressed size of one driver archive.
const maxExtractedSize = 256 << 20

// ErrArchiveTooLarge is returned when the entries of an archive inflate past the limit.
var ErrArchiveTooLarge = errors.New("archive too large")

// Extract unpacks a zip archive over dir, overwriting files with the same
// name. Every entry is checked before anything is written, so a rejected
// archive leaves dir untouched.
func Extract(data []byte, dir string) ([]string, error) {
	return ExtractLimit(data, dir, maxExtractedSize)
}

// ExtractLimit is Extract with an explicit budget of uncompressed bytes. The
// declared sizes are checked up front and the actual bytes while copying,
// since headers can lie.
func ExtractLimit(data []byte, dir string, limit int64) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	root := filepath.Clean(dir)
	var declared uint64
	for _, f := range zr.File {
		if _, err := entryPath(root, f.Name); err != nil {
			return nil, err
		}
		if f.UncompressedSize64 > uint64(limit)-declared {
			return nil, fmt.Errorf("%w: more than %d bytes uncompressed", ErrArchiveTooLarge, limit)
		}
		declared += f.UncompressedSize64
	}

	tops := []string{}
	seen := map[string]bool{}
	for _, f := range zr.File {
		dst, _ := entryPath(root, f.Name)
		if top := strings.SplitN(filepath.ToSlash(f.Name), "/", 2)[0]; top != "" && !seen[top] {
			seen[top] = true
			tops = append(tops, top)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return tops, err
			}
			continue
		}
		if err := writeEntry(f, dst, &limit); err != nil {
			return tops, err
		}
	}
	return tops, nil
}

func entryPath(root, name string) (string, error) {
	dst := filepath.Join(root, filepath.FromSlash(name))
	if dst != root && !strings.HasPrefix(dst, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes %s", name, root)
	}
	return dst, nil
}

// writeEntry copies f to dst and charges the bytes written to budget.
func writeEntry(f *zip.File, dst string, budget *int64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(rc, *budget+1))
	if err != nil {
		_ = out.Close()
		return err
	}
	if n > *budget {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("%w: %s inflates past the limit", ErrArchiveTooLarge, f.Name)
	}
	*budget -= n
	return out.Close()
}
