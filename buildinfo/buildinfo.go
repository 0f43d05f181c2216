// Package buildinfo holds the bridge's name and release metadata. Version,
// Commit and BuildTime are stamped at link time:
//
//	go build -ldflags "\
//	  -X github.com/nedpals/davi-nfc-bridge/buildinfo.Version=1.0.0 \
//	  -X github.com/nedpals/davi-nfc-bridge/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/nedpals/davi-nfc-bridge/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is the binary and command name.
	Name = "davi-nfc-bridge"

	// DirName is the config directory under the user config dir.
	DirName = "davi-nfc-bridge"

	// DisplayName is shown in the tray, the mDNS instance and log lines.
	DisplayName = "Davi NFC Bridge"

	Description = "NFC reader sessions over WebSocket"

	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// FullVersion is Version, followed by the commit in parentheses when known.
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// Fields is the metadata advertised to clients: the health endpoint reports
// it as "build" and mDNS carries it as TXT records. Unset stamps are left out.
func Fields() map[string]string {
	f := map[string]string{
		"name":    Name,
		"version": Version,
		"go":      runtime.Version(),
	}
	if Commit != "" {
		f["commit"] = Commit
	}
	if BuildTime != "" {
		f["built"] = BuildTime
	}
	return f
}

// BuildInfo is the text printed by the version command.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}

// IsDev reports whether the binary was built without a release version.
func IsDev() bool {
	return Version == "dev"
}
