package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/FeelPulse/claudechat/internal/config"
)

// Build info - set via ldflags at build time:
//
//	go build -ldflags "-X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ) -X main.gitCommit=$(git rev-parse --short HEAD)"
var (
	buildTime = "unknown"
	gitCommit = "unknown"
)

// VersionInfo contains version and build information
type VersionInfo struct {
	Version   string
	GoVersion string
	BuildTime string
	GitCommit string
	Platform  string
	Mode      string
	Storage   string
}

// GetVersionInfo returns the version information, with the transport and
// storage read from the config at configPath
func GetVersionInfo(configPath string) *VersionInfo {
	info := &VersionInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		BuildTime: buildTime,
		GitCommit: gitCommit,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	if cfg, err := config.Load(configPath); err == nil {
		info.Mode = cfg.Mode
		info.Storage = cfg.Storage.Backend
	}
	return info
}

// String returns formatted version information
func (v *VersionInfo) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "claudechat v%s\n", v.Version)
	fmt.Fprintf(&sb, "  Go:       %s\n", v.GoVersion)
	fmt.Fprintf(&sb, "  Platform: %s\n", v.Platform)
	fmt.Fprintf(&sb, "  Build:    %s\n", v.BuildTime)
	fmt.Fprintf(&sb, "  Commit:   %s\n", v.GitCommit)
	if v.Mode != "" {
		fmt.Fprintf(&sb, "  Mode:     %s (%s storage)\n", v.Mode, v.Storage)
	}

	return sb.String()
}
