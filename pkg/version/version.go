// Package version reports build information for the orderhub binaries.
//
// Release builds inject it with ldflags:
//
//	go build -ldflags "-X github.com/cloudmeeting/orderhub/pkg/version.tag=v1.0.0
//	  -X github.com/cloudmeeting/orderhub/pkg/version.commit=abc1234
//	  -X github.com/cloudmeeting/orderhub/pkg/version.date=2026-01-01"
//
// Without ldflags the VCS stamp embedded by the Go toolchain is used.
package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

var stampOnce sync.Once

// stamp fills commit and date from the embedded build info when ldflags
// left them unset.
func stamp() {
	stampOnce.Do(func() {
		if commit != "unknown" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if len(s.Value) > 7 {
					commit = s.Value[:7]
				} else if s.Value != "" {
					commit = s.Value
				}
			case "vcs.time":
				date = s.Value
			}
		}
	})
}

// String returns the tag, else the short commit, else "dev".
func String() string {
	stamp()
	if tag != "" {
		return tag
	}
	if commit != "unknown" {
		return commit
	}
	return "dev"
}

// Full returns "tag (commit) built date" or a shorter fallback.
func Full() string {
	stamp()
	switch {
	case tag != "":
		return tag + " (" + commit + ") built " + date
	case commit != "unknown":
		return commit + " built " + date
	default:
		return "dev"
	}
}

// Print writes a one-line version banner for binary name.
func Print(w io.Writer, name string) {
	fmt.Fprintf(w, "%s %s %s/%s %s\n", name, Full(), runtime.GOOS, runtime.GOARCH, runtime.Version())
}
