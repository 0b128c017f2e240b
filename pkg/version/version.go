// Package version exposes build-time version information for the courseflow binary.
package version

import "runtime/debug"

// Version is the semantic version of the binary, set via -ldflags at build time.
var Version = "dev"

// Commit is the VCS revision the binary was built from, set via -ldflags.
var Commit = "unknown"

// Date is the build timestamp, set via -ldflags.
var Date = "unknown"

// InitBinaryVersion fills Commit from embedded build info when it was not
// injected through ldflags. Called once from main.
func InitBinaryVersion() {
	if Commit != "unknown" {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			Commit = setting.Value

			return
		}
	}
}
