package version

import (
	"runtime/debug"
	"strings"
)

// SemVer is set at build time for releases:
//
//	-ldflags "-X github.com/pixelsort/taskwatch/internals/version.SemVer=1.2.3"
var SemVer = "0.0.0-dev"

// Version returns SemVer with the VCS revision as build metadata when the
// binary was built from a checkout, e.g. 0.3.1+a1b2c3d4e5f6.dirty.
func Version() string {
	v := strings.TrimSpace(SemVer)
	if v == "" {
		v = "0.0.0-dev"
	}
	rev, dirty := revision()
	if rev == "" {
		return v
	}
	meta := rev
	if dirty {
		meta += ".dirty"
	}
	if strings.Contains(v, "+") {
		return v + "." + meta
	}
	return v + "+" + meta
}

func revision() (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return "", false
	}
	var rev string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = strings.TrimSpace(setting.Value)
		case "vcs.modified":
			dirty = strings.TrimSpace(setting.Value) == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return rev, dirty
}
