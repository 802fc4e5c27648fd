// Package pathutil holds URL path checks shared by handlers that map request
// paths onto a filesystem.
package pathutil

import (
	"path"
	"strings"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// FSName converts a URL path into an fs.FS name. It returns false for paths
// that must never reach a filesystem: NUL bytes, backslashes and dot
// segments. The root maps to ".".
func FSName(urlPath string) (string, bool) {
	if strings.ContainsRune(urlPath, 0) || strings.Contains(urlPath, `\`) {
		return "", false
	}
	if HasDotSegments(urlPath) {
		return "", false
	}
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		return ".", true
	}
	return name, true
}
