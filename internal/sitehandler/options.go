package sitehandler

import (
	"fmt"
	"io/fs"

	"github.com/bobbiedigital/bobbiedigital-web/internal/content"
	"github.com/bobbiedigital/bobbiedigital-web/internal/log"
)

type SnapshotProvider interface {
	Get() (*content.Snapshot, bool)
}

type Options struct {
	Logger log.Logger

	// Active content
	Content SnapshotProvider

	// FallbackFS holds the maintenance page
	FallbackFS      fs.FS
	MaintenanceFile string // default: "maintenance.html"

	// IndexFile is served for "/" and for every path that is not a file
	IndexFile string // default: "index.html"

	AssetCacheControl   string // default: "public, max-age=31536000, immutable"
	DefaultCacheControl string // default: "no-cache, must-revalidate"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.MaintenanceFile == "" {
		o.MaintenanceFile = "maintenance.html"
	}
	if o.IndexFile == "" {
		o.IndexFile = "index.html"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.DefaultCacheControl == "" {
		o.DefaultCacheControl = "no-cache, must-revalidate"
	}
}

func (o *Options) validate() error {
	if o.Content == nil {
		return fmt.Errorf("%w: Content is nil", ErrInvalidOptions)
	}
	if o.FallbackFS == nil {
		return fmt.Errorf("%w: FallbackFS is nil", ErrInvalidOptions)
	}
	// fail fast on boot if mispackaged
	if _, err := fs.Stat(o.FallbackFS, o.MaintenanceFile); err != nil {
		return fmt.Errorf("%w: missing %q in fallback FS: %v", ErrInvalidOptions, o.MaintenanceFile, err)
	}
	return nil
}
