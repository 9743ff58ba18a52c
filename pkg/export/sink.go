package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/image-detector/internal/utils"
)

// Sink receives exported files
type Sink interface {
	Save(ctx context.Context, name string, data []byte) error
}

// DirSink writes exports into a directory. Files appear atomically: a failed
// save never leaves a partial file behind.
type DirSink struct {
	Dir string
}

// NewDirSink creates a sink writing into dir
func NewDirSink(dir string) *DirSink {
	return &DirSink{Dir: dir}
}

// Path returns the destination path for name
func (s *DirSink) Path(name string) string {
	return filepath.Join(s.Dir, filepath.Base(name))
}

// Save writes data to Dir/name
func (s *DirSink) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("refusing to save empty file %s", name)
	}
	if err := utils.EnsureDir(s.Dir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+filepath.Base(name)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		cleanup()
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}
