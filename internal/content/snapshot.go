package content

import (
	"io/fs"
	"time"
)

type Snapshot struct {
	FS       fs.FS
	Meta     Meta
	LoadedAt time.Time
}
