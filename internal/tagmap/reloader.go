package tagmap

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/DiscoClaw/discoclaw/internal/yamlutil"
)

// Reloader holds the in-memory tag map and refreshes it from disk on demand.
// A failed reload never clobbers the last good map: the error is returned to
// the caller and the previous map stays current. Corrupt files are moved to
// the quarantine directory when one is configured.
type Reloader struct {
	path          string
	quarantineDir string

	mu      sync.RWMutex
	current Map
}

func NewReloader(path, quarantineDir string, initial Map) *Reloader {
	if initial == nil {
		initial = Map{}
	}
	return &Reloader{
		path:          path,
		quarantineDir: quarantineDir,
		current:       initial,
	}
}

// Current returns the in-memory map. Callers must treat it as read-only.
func (r *Reloader) Current() Map {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Reload re-reads the tag map file. A missing file is not an error; the
// current map is kept. A corrupt file is quarantined and the current map is
// kept, with the parse error returned.
func (r *Reloader) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	m, err := Parse(data)
	if err != nil {
		if r.quarantineDir != "" {
			if _, qerr := yamlutil.Quarantine(r.quarantineDir, r.path); qerr != nil {
				return errors.Join(err, qerr)
			}
		}
		return err
	}

	r.mu.Lock()
	r.current = m
	r.mu.Unlock()
	return nil
}
