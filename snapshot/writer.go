package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

const filePattern = "snapshot-*.bin"

type Writer struct {
	Dir string
	// Keep is how many snapshot files survive a write. Zero keeps all.
	Keep int
}

// Write stores s atomically and returns its path.
func (w *Writer) Write(s *Snapshot) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}
	if s.Created.IsZero() {
		s.Created = time.Now()
	}

	path := filepath.Join(w.Dir, fmt.Sprintf("snapshot-%020d.bin", s.Seq))
	tmp, err := os.CreateTemp(w.Dir, "snapshot-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(s); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "encode snapshot")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}

	return path, w.prune()
}

func (w *Writer) prune() error {
	if w.Keep <= 0 {
		return nil
	}
	files, err := list(w.Dir)
	if err != nil {
		return err
	}
	for len(files) > w.Keep {
		if err := os.Remove(files[0]); err != nil {
			return err
		}
		files = files[1:]
	}
	return nil
}
