// Package version reports the controller binary's own build identity, as
// surfaced by `rugix-ctrl version`, so a fleet's device inventory can tell which controller build is running on
// which board.
package version

import "runtime"

var (
	// ctrlVersion is overridden at build time via -ldflags
	// "-X .../internal/version.ctrlVersion=...".
	ctrlVersion = "v0.0.1"
	// buildCommit is the git sha1 the binary was built from, plus "-dirty"
	// if the tree had uncommitted changes.
	buildCommit = "unknown"
	// buildDate is the build timestamp, RFC3339, set via -ldflags.
	buildDate = "unknown"
)

// String returns the controller's own semver, e.g. for cli.App.Version.
func String() string {
	return ctrlVersion
}

// Info is the build identity reported by `version`.
type Info struct {
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

// Get collects the running binary's build identity.
func Get() Info {
	return Info{
		Version:   ctrlVersion,
		Commit:    buildCommit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
