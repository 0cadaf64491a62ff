package config

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
)

// PersistEntry is one [[persist]] declaration: either a directory or a file,
// mutually exclusive (§3 Persist Declaration, §6 state/*.toml).
type PersistEntry struct {
	Directory string `toml:"directory"`
	File      string `toml:"file"`
	// SourceFile records which state/*.toml file declared this entry, for
	// diagnostics.
	SourceFile string `toml:"-"`
}

// Path returns the declared path, whichever of Directory/File is set.
func (p PersistEntry) Path() string {
	if p.Directory != "" {
		return p.Directory
	}
	return p.File
}

// IsDir reports whether the entry is a directory persist declaration.
func (p PersistEntry) IsDir() bool {
	return p.Directory != ""
}

type persistFile struct {
	Persist []PersistEntry `toml:"persist"`
}

// LoadPersistEntries scans every *.toml file under dir (typically
// /etc/rugix/state) and collects their [[persist]] entries, sorted by path
// for deterministic bind-mount ordering (shallowest first, matching the
// teacher's SortedBindMounts so parent directories are bound before the
// paths nested inside them).
func LoadPersistEntries(dir string) ([]PersistEntry, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ctrlerr.Wrap(ctrlerr.IoError, "reading persist config directory", err)
	}

	var all []PersistEntry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, ctrlerr.Wrap(ctrlerr.IoError, "reading "+path, err)
		}
		var pf persistFile
		if err := toml.Unmarshal(data, &pf); err != nil {
			return nil, ctrlerr.Wrap(ctrlerr.ConfigInvalid, "parsing "+path, err)
		}
		for _, entry := range pf.Persist {
			entry.SourceFile = path
			all = append(all, entry)
		}
	}

	sortPersistEntries(all)
	return all, nil
}

// LoadPersistEntriesDefault loads from the well-known persist config
// directory.
func LoadPersistEntriesDefault() ([]PersistEntry, error) {
	return LoadPersistEntries(constants.PersistConfigDir)
}

func sortPersistEntries(entries []PersistEntry) {
	depth := func(p string) int {
		n := 0
		for _, c := range p {
			if c == '/' {
				n++
			}
		}
		return n
	}
	sort.Slice(entries, func(i, j int) bool {
		di, dj := depth(entries[i].Path()), depth(entries[j].Path())
		if di != dj {
			return di < dj
		}
		return entries[i].Path() < entries[j].Path()
	})
}
