// Package version carries build metadata injected through -ldflags.
package version

import "time"

// Set at build time via
// -ldflags "-X .../internal/version.Version=...".
var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

type Info struct {
	Version   string
	Commit    string
	BuildTime string
}

// Resolve returns the build metadata, substituting a dev version when
// the binary was built without ldflags.
func Resolve() Info {
	info := Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
	if info.Version == "" {
		stamp := info.BuildTime
		if stamp == "" {
			stamp = time.Now().UTC().Format("20060102T150405Z")
		}
		info.Version = "dev+" + stamp
	}
	return info
}

// String renders the version with a short commit suffix when known.
func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	commit := info.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return info.Version + " (" + commit + ")"
}
