// Package filestore spools uploaded spreadsheets to local disk so a job's
// row sequence can be re-read for dry runs, commits, and post-restart
// resumes. Files are stored per job id; the original extension is kept
// because the parser selects its reader by extension.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Local struct {
	dir string
}

// NewLocal creates the spool directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) Save(ctx context.Context, jobID, filename string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := l.path(jobID, filepath.Ext(filename))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close spool file: %w", err)
	}
	return nil
}

func (l *Local) Open(jobID string) (io.ReadCloser, error) {
	matches, err := filepath.Glob(l.path(jobID, ".*"))
	if err != nil || len(matches) == 0 {
		return nil, errors.New("spool file not found")
	}
	return os.Open(matches[0])
}

func (l *Local) Remove(jobID string) error {
	matches, err := filepath.Glob(l.path(jobID, ".*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (l *Local) path(jobID, ext string) string {
	// Job ids are UUIDs minted by the service, but scrub separators anyway.
	jobID = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(jobID)
	return filepath.Join(l.dir, jobID+strings.ToLower(ext))
}
