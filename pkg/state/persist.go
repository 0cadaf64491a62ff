package state

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/rugix/rugix-ctrl-go/internal/utils"
	"github.com/rugix/rugix-ctrl-go/pkg/config"
)

// persistPaths resolves where a declared [[persist]] entry's pristine
// contents live (inside the read-only system mount) and where its
// persistent copy is kept (a matching path under data/state/<profile>),
// mirroring the teacher's mountBind convention of deriving a state
// directory name from the mount point itself.
func persistPaths(entry config.PersistEntry, systemMount, stateDir string) (source, dest string) {
	rel := filepath.Clean(entry.Path())
	return filepath.Join(systemMount, rel), filepath.Join(stateDir, rel)
}

// seedPersistEntries seeds every declared entry's persistent copy from the
// pristine system filesystem if missing (§4.6 point 9), and reports one
// aggregated error for any entries that failed — seeding continues past
// individual failures so one bad declaration does not strand every other
// persisted path.
func seedPersistEntries(entries []config.PersistEntry, systemMount, stateDir string) error {
	var errs *multierror.Error
	for _, entry := range entries {
		source, dest := persistPaths(entry, systemMount, stateDir)
		if _, err := os.Lstat(dest); err == nil {
			continue // persistent copy already exists, nothing to seed
		}
		if err := utils.SyncState(source, dest); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// bindPersistEntries bind-mounts every declared entry's persistent copy at
// its declared absolute location inside the assembled root.
func bindPersistEntries(entries []config.PersistEntry, root, stateDir string) error {
	var errs *multierror.Error
	for _, entry := range entries {
		_, dest := persistPaths(entry, "", stateDir)
		target := filepath.Join(root, entry.Path())
		if err := bindMount(dest, target, false); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
