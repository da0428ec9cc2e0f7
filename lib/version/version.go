// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

const shortCommitLength = 12

// stamp is the commit information actually reported.
type stamp struct {
	commit string
	dirty  bool
	time   string
}

func current() stamp {
	return resolve(GitCommit, GitDirty, BuildTime, debug.ReadBuildInfo)
}

func resolve(commit, dirty, buildTime string, read func() (*debug.BuildInfo, bool)) stamp {
	result := stamp{commit: commit, dirty: dirty == "true", time: buildTime}
	if commit != "unknown" {
		return result
	}
	info, ok := read()
	if !ok {
		return result
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			result.commit = setting.Value
			if len(result.commit) > shortCommitLength {
				result.commit = result.commit[:shortCommitLength]
			}
		case "vcs.modified":
			result.dirty = setting.Value == "true"
		case "vcs.time":
			if buildTime == "unknown" {
				result.time = setting.Value
			}
		}
	}
	return result
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	build := current()
	dirty := ""
	if build.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, build.commit, dirty, build.time)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("tunnelwarden %s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}
