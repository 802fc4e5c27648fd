package sitehandler

import (
	"path"
	"strings"
)

// fingerprinted build output and fonts/images
var assetExts = map[string]struct{}{
	".js": {}, ".mjs": {}, ".css": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".svg": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".ico": {},
	".map": {},
}

func isAsset(name string) bool {
	_, ok := assetExts[strings.ToLower(path.Ext(name))]
	return ok
}

func cacheControlForFile(name string, o *Options) string {
	if isAsset(name) {
		return o.AssetCacheControl
	}
	return o.DefaultCacheControl
}
