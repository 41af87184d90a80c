package segment

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = "munin.lock"

// ErrDirLocked is returned when another process holds the segment directory.
var ErrDirLocked = fmt.Errorf("segment directory is locked by another process")

// LockDir takes an exclusive advisory lock on a segment directory so two
// sweeps cannot overwrite records in the same segments concurrently. The
// returned lock must be released with Unlock.
func LockDir(dir string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(dir, lockFileName))
	held, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !held {
		return nil, ErrDirLocked
	}
	return fl, nil
}
