// Package webassets embeds the pages the server can always serve: a
// maintenance page for when no content is loaded, and a seed copy of the
// marketing site used when neither S3 nor the static dir provides one.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed fallback seed
var embedded embed.FS

func FallbackFS() fs.FS {
	sub, err := fs.Sub(embedded, "fallback")
	if err != nil {
		panic(fmt.Errorf("webassets: fallback subfs: %w", err))
	}
	return sub
}

// MaintenancePage returns the maintenance HTML served with 503 while the
// server has no content.
func MaintenancePage() []byte {
	b, err := fs.ReadFile(embedded, "fallback/maintenance.html")
	if err != nil {
		panic(fmt.Errorf("webassets: maintenance page: %w", err))
	}
	return b
}

// SeedSiteFS returns (fs, true) only if the seed has an index.html.
func SeedSiteFS() (fs.FS, bool) {
	sub, err := fs.Sub(embedded, "seed")
	if err != nil {
		return nil, false
	}
	if _, err := fs.Stat(sub, "index.html"); err != nil {
		return nil, false
	}
	return sub, true
}
