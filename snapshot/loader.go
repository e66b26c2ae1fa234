package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
)

func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, errors.Wrapf(err, "decode snapshot %s", path)
	}
	return &s, nil
}

// LoadLatest returns the newest snapshot in dir, or nil when there is
// none. Snapshots are optional.
func LoadLatest(dir string) (*Snapshot, error) {
	files, err := list(dir)
	if err != nil || len(files) == 0 {
		return nil, err
	}
	return Load(files[len(files)-1])
}

func list(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, filePattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
