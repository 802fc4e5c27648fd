package content

import (
	"io/fs"
	"os"
	"time"

	"github.com/bobbiedigital/bobbiedigital-web/internal/xerrors"
)

// LoadDir returns a snapshot of a local build output directory. The
// directory must contain a non-empty index.html.
func LoadDir(dir string) (*Snapshot, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat static dir %s", dir)
	}
	if !info.IsDir() {
		return nil, xerrors.Newf("static dir %s is not a directory", dir)
	}
	return LoadFS(os.DirFS(dir), SourceDisk)
}

// LoadFS wraps an existing filesystem, such as the embedded seed site, in a
// validated snapshot.
func LoadFS(fsys fs.FS, src Source) (*Snapshot, error) {
	snap := &Snapshot{
		FS:       fsys,
		Meta:     Meta{Source: src},
		LoadedAt: time.Now().UTC(),
	}
	if err := ValidateSnapshot(snap, ValidationOptions{}); err != nil {
		return nil, err
	}
	return snap, nil
}
