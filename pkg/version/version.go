package version

import (
	"fmt"
	"runtime"
)

// Injected at link time:
//
//	-X 'github.com/idc-core/idc/pkg/version.Version=v1.0.0'
//	-X 'github.com/idc-core/idc/pkg/version.CommitHash=abc123'
//	-X 'github.com/idc-core/idc/pkg/version.BuildDate=2024-01-01T00:00:00Z'
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String renders a single line suitable for --version output.
func (i Info) String() string {
	return fmt.Sprintf("idc %s (commit %s, built %s, %s %s)",
		i.Version, i.CommitHash, i.BuildDate, i.GoVersion, i.Platform)
}
