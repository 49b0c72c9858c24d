// Package version carries build metadata and the identity of the running
// ratekeeper instance.
package version

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// InstanceIDEnv pins the instance id, so a restarted coordinator keeps
// claiming the records it wrote before.
const InstanceIDEnv = "RATEKEEPER_INSTANCE_ID"

const unknown = "unknown"

// Overridden at link time, e.g.
//
//	-ldflags "-X ratekeeper/internal/version.Version=v1.2.0"
var (
	Version   = unknown
	BuildDate = unknown
	GitCommit = unknown
)

// Info describes the binary and the process running it.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the process Info. The instance id is fixed on first call.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			GoVersion:  runtime.Version(),
			InstanceID: instanceID(),
			Hostname:   hostname(),
		}
		fillFromBuildInfo(&info)
	})
	return info
}

// fillFromBuildInfo backfills commit and date from the VCS stamp the Go
// toolchain embeds when ldflags were not supplied.
func fillFromBuildInfo(i *Info) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == unknown && s.Value != "" {
				i.GitCommit = s.Value
			}
		case "vcs.time":
			if i.BuildDate == unknown && s.Value != "" {
				i.BuildDate = s.Value
			}
		}
	}
}

func instanceID() string {
	if id := strings.TrimSpace(os.Getenv(InstanceIDEnv)); id != "" {
		return id
	}
	return uuid.NewString()
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return unknown
	}
	return name
}

func (i Info) String() string {
	return fmt.Sprintf("ratekeeper %s (commit %s, built %s, %s)", i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
}
