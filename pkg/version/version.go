// Package version derives the application version from build metadata:
// an -ldflags override when set, otherwise the VCS revision embedded by
// the toolchain, otherwise "dev".
package version

import "runtime/debug"

// AppName is the application name used in version strings.
const AppName = "helmsman"

// commitOverride is set via -ldflags for container builds where .git is
// unavailable.
var commitOverride string

// GitCommit is the short commit hash, or "dev" when no build info exists
// (go test, non-git builds).
var GitCommit = resolveCommit()

// Full returns "helmsman/<commit>" for startup logs and user agents.
func Full() string {
	return AppName + "/" + GitCommit
}

func resolveCommit() string {
	if commitOverride != "" {
		return short(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
