package content

import (
	"io/fs"

	"github.com/bobbiedigital/bobbiedigital-web/internal/xerrors"
)

// ValidationOptions controls which checks ValidateSnapshot performs. The zero
// value only requires a non-empty index.html.
type ValidationOptions struct {
	// MinFiles rejects trees with fewer files. 0 disables the check.
	MinFiles int
}

// DefaultBundleValidation is applied to S3 bundles before they replace live
// content: an SPA build has at least index.html plus a script and a
// stylesheet.
func DefaultBundleValidation() ValidationOptions {
	return ValidationOptions{MinFiles: 3}
}

// ValidateSnapshot checks that a snapshot is fit to serve.
func ValidateSnapshot(snap *Snapshot, opts ValidationOptions) error {
	if snap == nil {
		return xerrors.New("validate: snapshot is nil")
	}
	if snap.FS == nil {
		return xerrors.New("validate: snapshot has nil filesystem")
	}
	if err := checkIndexHTML(snap.FS); err != nil {
		return err
	}
	if opts.MinFiles > 0 {
		n, err := countFiles(snap.FS)
		if err != nil {
			return xerrors.Wrap(err, "validate: counting files")
		}
		if n < opts.MinFiles {
			return xerrors.Newf("validate: bundle has %d files, minimum is %d", n, opts.MinFiles)
		}
	}
	return nil
}

func checkIndexHTML(fsys fs.FS) error {
	info, err := fs.Stat(fsys, "index.html")
	if err != nil {
		return xerrors.Wrap(err, "validate: index.html not found")
	}
	if info.IsDir() {
		return xerrors.New("validate: index.html is a directory")
	}
	if info.Size() == 0 {
		return xerrors.New("validate: index.html is empty")
	}
	return nil
}

func countFiles(fsys fs.FS) (int, error) {
	n := 0
	err := fs.WalkDir(fsys, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	return n, err
}
