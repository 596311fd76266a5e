// Package buildinfo exposes version information stamped at link time with
// -ldflags "-X commsplan/internal/buildinfo.Version=...".
package buildinfo

import "runtime/debug"

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

type Info struct {
    Version   string `json:"version"`
    Commit    string `json:"commit,omitempty"`
    BuiltAt   string `json:"built_at,omitempty"`
    GoVersion string `json:"go_version,omitempty"`
}

// Get returns the stamped values, falling back to the VCS revision recorded by
// the Go toolchain when Commit was not set.
func Get() Info {
    info := Info{Version: Version, Commit: Commit, BuiltAt: BuiltAt}
    bi, ok := debug.ReadBuildInfo()
    if !ok {
        return info
    }
    info.GoVersion = bi.GoVersion
    for _, s := range bi.Settings {
        switch s.Key {
        case "vcs.revision":
            if info.Commit == "" { info.Commit = s.Value }
        case "vcs.time":
            if info.BuiltAt == "" { info.BuiltAt = s.Value }
        }
    }
    return info
}
