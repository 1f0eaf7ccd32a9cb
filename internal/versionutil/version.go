// Package versionutil resolves the build version reported by the CLI and
// the edge's health endpoint.
package versionutil

import (
	"os/exec"
	"strings"
	"sync"
)

// Version is set at build time via -ldflags
// "-X github.com/koltyakov/arca-edge/internal/versionutil.Version=1.2.3".
var Version = "dev"

var (
	resolveOnce sync.Once
	resolved    string
)

// Current returns the normalized build version. Development builds fall
// back to `git describe` with a "-dev" suffix.
func Current() string {
	resolveOnce.Do(func() {
		resolved = normalize(Version, gitDescribe)
	})
	return resolved
}

func normalize(v string, describe func() string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "dev" {
		if desc := describe(); desc != "" {
			return EnsureVPrefix(desc + "-dev")
		}
		return "dev"
	}
	return EnsureVPrefix(v)
}

func gitDescribe() string {
	out, err := exec.Command("git", "describe", "--tags", "--always").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// EnsureVPrefix returns s with a leading "v" if it doesn't already have one.
// Release tooling strips the prefix while git-describe keeps it.
func EnsureVPrefix(s string) string {
	if s != "" && !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}
