package sitehandler

import (
	"io/fs"
	"path"

	"github.com/bobbiedigital/bobbiedigital-web/internal/pathutil"
)

// resolvePath maps a URL path to a file within fsys. When nothing matches,
// or the path is unsafe, it returns the index file with fallback set so the
// client-side router can handle the route.
func resolvePath(urlPath string, fsys fs.FS, index string) (file string, fallback bool) {
	name, ok := pathutil.FSName(urlPath)
	if !ok {
		return index, true
	}
	if name == "." {
		return index, false
	}
	if existsFile(fsys, name) {
		return name, false
	}
	if dirIndex := path.Join(name, index); existsFile(fsys, dirIndex) {
		return dirIndex, false
	}
	return index, true
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
